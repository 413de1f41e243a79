package models

import "time"

// FileDateMetadata describes the date coverage of a single statement file.
// Transient planning data; one per analyzed file.
type FileDateMetadata struct {
	FilePath     string      `json:"file_path"`
	FileName     string      `json:"file_name"`
	EarliestDate time.Time   `json:"earliest_date"`
	LatestDate   time.Time   `json:"latest_date"`
	RecordCount  int         `json:"record_count"`
	Dates        []time.Time `json:"dates"` // Every date seen in the file, in row order
}

// DateGap is a hole in coverage between two chronologically adjacent files.
type DateGap struct {
	StartDate   time.Time `json:"start_date"` // Latest date of the earlier file
	EndDate     time.Time `json:"end_date"`   // Earliest date of the later file
	DaysMissing int       `json:"days_missing"`
}

// DateOverlap records the first date shared by an adjacent file pair.
type DateOverlap struct {
	FirstFile  string    `json:"first_file"`
	SecondFile string    `json:"second_file"`
	SharedDate time.Time `json:"shared_date"`
}

// DateAnalysisResult aggregates per-file metadata with cross-file gap and
// overlap detection. It feeds the chunk plan of an import session.
type DateAnalysisResult struct {
	Files        []FileDateMetadata `json:"files"` // Sorted by earliest date
	Gaps         []DateGap          `json:"gaps"`
	Overlaps     []DateOverlap      `json:"overlaps"`
	Warnings     []string           `json:"warnings"`
	TotalRecords int                `json:"total_records"`
	EarliestDate time.Time          `json:"earliest_date"`
	LatestDate   time.Time          `json:"latest_date"`
}
