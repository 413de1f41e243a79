// Package dateanalysis inspects statement files for their date coverage:
// per-file earliest/latest dates and record counts, plus cross-file gap
// and overlap detection. Its output feeds the import chunk plan.
package dateanalysis

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/optionfolio/backend/src/logger"
	"github.com/username/optionfolio/backend/src/models"
	"github.com/username/optionfolio/backend/src/utils"
)

const (
	cacheExpiration      = 15 * time.Minute
	cacheCleanupInterval = 30 * time.Minute
)

// Dates before this year are treated as false positives of the numeric
// date patterns (order ids, strike encodings and the like).
var minPlausibleDate = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Filename patterns of the two supported providers.
var (
	// e.g. "statement.U1234567.20230210.csv" — embedded 8-digit date
	compactFilenameDateRe = regexp.MustCompile(`(?:^|[._])(\d{8})(?:[._]|$)`)
	// e.g. "transactions_x5WW12345_230210_to_230310.csv" — 6-digit date before the "_to_" marker
	rangeFilenameDateRe = regexp.MustCompile(`_(\d{6})_to_\d{6}`)
)

// Row-level date layouts, tried in order.
var rowDateLayouts = []string{
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02, 15:04:05",
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
	"20060102",
}

// Analyzer extracts date coverage metadata from statement files. Results
// are memoized per path/size/mtime; hash validation elsewhere never uses
// this cache.
type Analyzer struct {
	fileCache *cache.Cache
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{
		fileCache: cache.New(cacheExpiration, cacheCleanupInterval),
	}
}

// ExtractDateFromFilename extracts the statement date embedded in a
// provider filename. Returns no-match rather than an error for
// unrecognized names.
func ExtractDateFromFilename(name string) (time.Time, bool) {
	base := filepath.Base(name)

	if m := compactFilenameDateRe.FindStringSubmatch(base); m != nil {
		if t, err := time.Parse("20060102", m[1]); err == nil && !t.Before(minPlausibleDate) {
			return t, true
		}
	}
	if m := rangeFilenameDateRe.FindStringSubmatch(base); m != nil {
		if t, err := time.Parse("060102", m[1]); err == nil && !t.Before(minPlausibleDate) {
			return t, true
		}
	}
	return time.Time{}, false
}

// ExtractDateFromRow finds the first parseable date in a raw CSV row,
// trying ISO (with optional time), month/day/year and compact 8-digit
// forms. A date before year 2000 is rejected as a false positive.
func ExtractDateFromRow(line string) (time.Time, bool) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	fields, err := reader.Read()
	if err != nil {
		fields = strings.Split(line, ",")
	}

	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		for _, layout := range rowDateLayouts {
			t, err := time.Parse(layout, field)
			if err != nil {
				continue
			}
			if t.Before(minPlausibleDate) {
				continue
			}
			return utils.DayUTC(t), true
		}
	}
	return time.Time{}, false
}

// AnalyzeFile returns the date coverage metadata of one statement file.
// A missing file yields an empty result, not an error.
func (a *Analyzer) AnalyzeFile(path string) (models.FileDateMetadata, error) {
	meta := models.FileDateMetadata{
		FilePath: path,
		FileName: filepath.Base(path),
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.L.Warn("AnalyzeFile: file does not exist", "path", path)
			return meta, nil
		}
		return meta, fmt.Errorf("stat %s: %w", path, err)
	}

	cacheKey := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if cached, found := a.fileCache.Get(cacheKey); found {
		return cached.(models.FileDateMetadata), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return meta, nil
		}
		return meta, fmt.Errorf("read %s: %w", path, err)
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if i == 0 && looksLikeHeader(line) {
			continue
		}
		meta.RecordCount++
		if d, ok := ExtractDateFromRow(line); ok {
			meta.Dates = append(meta.Dates, d)
			if meta.EarliestDate.IsZero() || d.Before(meta.EarliestDate) {
				meta.EarliestDate = d
			}
			if d.After(meta.LatestDate) {
				meta.LatestDate = d
			}
		}
	}

	a.fileCache.Set(cacheKey, meta, cache.DefaultExpiration)
	return meta, nil
}

// looksLikeHeader reports whether the first line of a file is a column
// header rather than data. Header cells carry no parseable date.
func looksLikeHeader(line string) bool {
	_, ok := ExtractDateFromRow(line)
	return !ok
}

// DetectDateGaps walks chronologically sorted metadata and reports a gap
// whenever adjacent files' latest/earliest dates differ by more than one
// day. Files without any extracted dates are ignored.
func DetectDateGaps(files []models.FileDateMetadata) []models.DateGap {
	var gaps []models.DateGap
	dated := withDates(files)

	for i := 1; i < len(dated); i++ {
		prev, next := dated[i-1], dated[i]
		days := utils.DaysBetween(prev.LatestDate, next.EarliestDate)
		if days > 1 {
			gaps = append(gaps, models.DateGap{
				StartDate:   prev.LatestDate,
				EndDate:     next.EarliestDate,
				DaysMissing: days,
			})
		}
	}
	return gaps
}

// DetectDateOverlaps reports, per adjacent file pair, the first date the
// two files share.
func DetectDateOverlaps(files []models.FileDateMetadata) []models.DateOverlap {
	var overlaps []models.DateOverlap
	dated := withDates(files)

	for i := 1; i < len(dated); i++ {
		prev, next := dated[i-1], dated[i]
		if next.EarliestDate.After(prev.LatestDate) {
			continue
		}

		prevDays := make(map[string]bool, len(prev.Dates))
		for _, d := range prev.Dates {
			prevDays[utils.FormatDate(d)] = true
		}
		for _, d := range next.Dates {
			if prevDays[utils.FormatDate(d)] {
				overlaps = append(overlaps, models.DateOverlap{
					FirstFile:  prev.FileName,
					SecondFile: next.FileName,
					SharedDate: d,
				})
				break
			}
		}
	}
	return overlaps
}

// AnalyzeAndSort analyzes every file, sorts the metadata chronologically
// by earliest date, aggregates counts and span, and runs gap/overlap
// detection. Warnings are synthesized when either detector fires.
func (a *Analyzer) AnalyzeAndSort(paths []string) (models.DateAnalysisResult, error) {
	result := models.DateAnalysisResult{}

	for _, path := range paths {
		meta, err := a.AnalyzeFile(path)
		if err != nil {
			return result, err
		}
		if len(meta.Dates) == 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("no dates could be extracted from %s", meta.FileName))
		}
		result.Files = append(result.Files, meta)
	}

	sort.SliceStable(result.Files, func(i, j int) bool {
		return result.Files[i].EarliestDate.Before(result.Files[j].EarliestDate)
	})

	for _, meta := range result.Files {
		result.TotalRecords += meta.RecordCount
		if meta.EarliestDate.IsZero() {
			continue
		}
		if result.EarliestDate.IsZero() || meta.EarliestDate.Before(result.EarliestDate) {
			result.EarliestDate = meta.EarliestDate
		}
		if meta.LatestDate.After(result.LatestDate) {
			result.LatestDate = meta.LatestDate
		}
	}

	result.Gaps = DetectDateGaps(result.Files)
	result.Overlaps = DetectDateOverlaps(result.Files)

	if len(result.Gaps) > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("detected %d date coverage gap(s) between statement files", len(result.Gaps)))
	}
	if len(result.Overlaps) > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("detected %d overlapping statement file pair(s); duplicate suppression will apply", len(result.Overlaps)))
	}

	return result, nil
}

// withDates filters out files that produced no dates, preserving order.
func withDates(files []models.FileDateMetadata) []models.FileDateMetadata {
	dated := make([]models.FileDateMetadata, 0, len(files))
	for _, f := range files {
		if !f.EarliestDate.IsZero() {
			dated = append(dated, f)
		}
	}
	return dated
}
