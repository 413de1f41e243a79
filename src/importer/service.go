package importer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/username/optionfolio/backend/src/config"
	"github.com/username/optionfolio/backend/src/dateanalysis"
	"github.com/username/optionfolio/backend/src/logger"
	"github.com/username/optionfolio/backend/src/models"
	"github.com/username/optionfolio/backend/src/parsers"
	"github.com/username/optionfolio/backend/src/processors"
	"github.com/username/optionfolio/backend/src/utils"
)

var (
	ErrFileTooLarge    = errors.New("statement file exceeds the configured size limit")
	ErrUnknownSource   = errors.New("could not determine broker source for file")
	ErrHashMismatch    = errors.New("statement file changed since the session was created")
	ErrNoActiveSession = errors.New("no active import session for account")
	ErrNothingToImport = errors.New("statement file contains no dated transactions")
)

// SnapshotCalculator is the external collaborator that recalculates
// portfolio snapshots once movements are persisted. The two methods map
// to the two independent phase-2 completion flags.
type SnapshotCalculator interface {
	CalculateBrokerSnapshots(accountID int64) error
	CalculateTickerSnapshots(accountID int64) error
}

// ImportService drives a statement file through the full pipeline:
// date analysis, chunk planning, per-chunk parse/classify/validate,
// atomic persistence under session tracking, phase transitions and
// snapshot recalculation.
type ImportService struct {
	store         *SessionStore
	analyzer      *dateanalysis.Analyzer
	converter     *processors.MovementConverter
	snapshots     SnapshotCalculator
	chunkSizeDays int
}

func NewImportService(store *SessionStore, analyzer *dateanalysis.Analyzer, snapshots SnapshotCalculator) *ImportService {
	chunkSizeDays := 30
	if config.Cfg != nil && config.Cfg.ChunkSizeDays > 0 {
		chunkSizeDays = config.Cfg.ChunkSizeDays
	}
	return &ImportService{
		store:         store,
		analyzer:      analyzer,
		converter:     processors.NewMovementConverter(),
		snapshots:     snapshots,
		chunkSizeDays: chunkSizeDays,
	}
}

// AnalyzeFiles runs multi-file date-coverage analysis ahead of an
// import, so a caller can surface gaps and overlaps before committing.
func (s *ImportService) AnalyzeFiles(paths []string) (models.DateAnalysisResult, error) {
	return s.analyzer.AnalyzeAndSort(paths)
}

// RunImport imports one statement file for a broker account end to end
// and returns the finished session. Failures are recorded on the session
// row before the error is returned.
func (s *ImportService) RunImport(accountID int64, accountName, path, source string) (*models.ImportSession, error) {
	startTime := time.Now()
	logger.L.Info("RunImport START", "accountID", accountID, "path", path, "source", source)

	data, err := s.readStatementFile(path)
	if err != nil {
		return nil, err
	}

	if source == "" {
		source = parsers.DetectSource(path)
		if source == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, path)
		}
	}

	parseResult, err := s.parseStatement(source, data)
	if err != nil {
		return nil, err
	}

	analysis, err := s.analyzer.AnalyzeAndSort([]string{path})
	if err != nil {
		return nil, fmt.Errorf("date analysis failed: %w", err)
	}
	if analysis.EarliestDate.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrNothingToImport, path)
	}

	chunks := PlanChunks(analysis.EarliestDate, analysis.LatestDate, datedCounts(analysis), s.chunkSizeDays)

	sessionID, err := s.store.CreateSession(models.ImportSession{
		AccountID:   accountID,
		AccountName: accountName,
		SourcePath:  path,
		FileHash:    HashBytes(data),
	}, chunks)
	if err != nil {
		return nil, err
	}

	if err := s.runPhases(sessionID, accountID, parseResult, chunks); err != nil {
		return s.recordFailure(sessionID, err)
	}

	session, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	logger.L.Info("RunImport END",
		"sessionID", sessionID, "movements", session.MovementsPersisted,
		"duration", time.Since(startTime))
	return session, nil
}

// ResumeImport picks up the account's active session after a crash or
// restart. Only Pending and Failed chunks are re-run; completed chunks
// are not re-parsed. The source file must still hash to the value
// recorded at session creation.
func (s *ImportService) ResumeImport(accountID int64) (*models.ImportSession, error) {
	session, err := s.store.GetActiveSession(accountID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoActiveSession
	}
	logger.L.Info("ResumeImport", "sessionID", session.ID, "phase", session.Phase)

	matches, err := ValidateFileHash(session.SourcePath, session.FileHash)
	if err != nil {
		return s.recordFailure(session.ID, err)
	}
	if !matches {
		return s.recordFailure(session.ID, ErrHashMismatch)
	}

	data, err := s.readStatementFile(session.SourcePath)
	if err != nil {
		return s.recordFailure(session.ID, err)
	}
	source := parsers.DetectSource(session.SourcePath)
	if source == "" {
		return s.recordFailure(session.ID, fmt.Errorf("%w: %s", ErrUnknownSource, session.SourcePath))
	}
	parseResult, err := s.parseStatement(source, data)
	if err != nil {
		return s.recordFailure(session.ID, err)
	}

	pending, err := s.store.GetPendingChunks(session.ID)
	if err != nil {
		return nil, err
	}
	if err := s.runPhasesFrom(session, accountID, parseResult, pending); err != nil {
		return s.recordFailure(session.ID, err)
	}
	return s.store.GetSession(session.ID)
}

// Cancel marks the account's active session Cancelled. Cooperative: the
// terminal write is all that happens here; callers must stop driving the
// session themselves.
func (s *ImportService) Cancel(accountID int64) error {
	session, err := s.store.GetActiveSession(accountID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrNoActiveSession
	}
	return s.store.CancelSession(session.ID)
}

func (s *ImportService) readStatementFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error reading statement file: %w", err)
	}
	if config.Cfg != nil && info.Size() > config.Cfg.MaxImportFileBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading statement file: %w", err)
	}
	return data, nil
}

func (s *ImportService) parseStatement(source string, data []byte) (models.ParseResult, error) {
	parser, err := parsers.GetParser(source)
	if err != nil {
		return models.ParseResult{}, err
	}
	result := parser.Parse(bytes.NewReader(data))
	if !result.Success {
		return result, fmt.Errorf("statement parsing failed with %d error(s)", len(result.Errors))
	}
	if len(result.Errors) > 0 {
		logger.L.Warn("Statement parsed with row-level errors",
			"source", source, "rows", len(result.Transactions), "errors", len(result.Errors))
	}
	return result, nil
}

// runPhases executes phase 1 over all planned chunks, then phase 2.
func (s *ImportService) runPhases(sessionID, accountID int64, parseResult models.ParseResult, chunks []models.ChunkInfo) error {
	for _, chunk := range chunks {
		if err := s.runChunk(sessionID, accountID, chunk, parseResult.Transactions); err != nil {
			return err
		}
	}
	if err := s.applyAdjustments(accountID, parseResult.Transactions); err != nil {
		return err
	}
	return s.runSnapshotPhase(sessionID, accountID)
}

// runPhasesFrom continues a resumed session from wherever it stopped.
func (s *ImportService) runPhasesFrom(session *models.ImportSession, accountID int64, parseResult models.ParseResult, pending []models.ChunkInfo) error {
	if session.Phase == models.PhasePersistingMovements {
		for _, chunk := range pending {
			if err := s.runChunk(session.ID, accountID, chunk, parseResult.Transactions); err != nil {
				return err
			}
		}
		if err := s.applyAdjustments(accountID, parseResult.Transactions); err != nil {
			return err
		}
		return s.runSnapshotPhase(session.ID, accountID)
	}
	return s.finishSnapshotPhase(session, accountID)
}

// runChunk converts, validates and persists one chunk's slice of the
// parsed transactions as a single transaction-bounded unit of work.
func (s *ImportService) runChunk(sessionID, accountID int64, chunk models.ChunkInfo, txs []models.RawTransaction) error {
	chunkStart := time.Now()

	slice := transactionsInRange(txs, chunk.StartDate, chunk.EndDate)
	conversion := s.converter.Convert(accountID, slice)
	if len(conversion.Errors) > 0 {
		logger.L.Warn("Chunk conversion produced errors",
			"sessionID", sessionID, "chunkNumber", chunk.ChunkNumber, "errors", len(conversion.Errors))
	}

	valid, invalid := processors.ValidateMovements(conversion.Movements)
	for _, iv := range invalid {
		logger.L.Warn("Movement failed domain validation",
			"sessionID", sessionID, "chunkNumber", chunk.ChunkNumber,
			"kind", iv.Movement.Kind(), "reason", iv.Reason)
	}

	if _, err := s.store.PersistChunk(sessionID, chunk.ChunkNumber, valid, time.Since(chunkStart)); err != nil {
		if markErr := s.store.MarkChunkFailed(sessionID, chunk.ChunkNumber); markErr != nil {
			logger.L.Error("Could not mark chunk failed", "sessionID", sessionID, "error", markErr)
		}
		return fmt.Errorf("chunk %d failed: %w", chunk.ChunkNumber, err)
	}
	return nil
}

// applyAdjustments detects broker strike adjustments from special
// dividends and applies each to the affected persisted leg: a note plus
// strike/ticker linkage update, never a delete.
func (s *ImportService) applyAdjustments(accountID int64, txs []models.RawTransaction) error {
	adjustments := processors.ValidateAndFilterAdjustments(
		processors.DetectSpecialDividendAdjustments(txs))

	for _, adj := range adjustments {
		if adj.OpenLeg == nil {
			continue
		}
		movementID, err := s.store.FindOptionTradeByHash(accountID, processors.TransactionHash(*adj.OpenLeg))
		if err != nil {
			// The open leg may predate this import; nothing to annotate.
			logger.L.Warn("Strike adjustment target not persisted in this import",
				"ticker", adj.Ticker, "error", err)
			continue
		}
		note := processors.AdjustmentNote(adj)
		if err := s.store.ApplyStrikeAdjustment(movementID, adj.NewStrike, adj.Ticker, note); err != nil {
			return err
		}
		logger.L.Info("Applied special dividend strike adjustment",
			"ticker", adj.Ticker, "originalStrike", adj.OriginalStrike, "newStrike", adj.NewStrike)
	}
	return nil
}

// runSnapshotPhase advances to phase 2 and completes it.
func (s *ImportService) runSnapshotPhase(sessionID, accountID int64) error {
	if err := s.store.AdvanceToPhase2(sessionID); err != nil {
		return err
	}
	session, err := s.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	return s.finishSnapshotPhase(session, accountID)
}

// finishSnapshotPhase drives the two independent snapshot calculations,
// setting each completion flag as its calculation succeeds, then
// completes the session once both flags are set.
func (s *ImportService) finishSnapshotPhase(session *models.ImportSession, accountID int64) error {
	if !session.BrokerSnapshotsCalculated {
		if s.snapshots != nil {
			if err := s.snapshots.CalculateBrokerSnapshots(accountID); err != nil {
				return fmt.Errorf("broker snapshot calculation failed: %w", err)
			}
		}
		if err := s.store.MarkBrokerSnapshotsCalculated(session.ID); err != nil {
			return err
		}
	}
	if !session.TickerSnapshotsCalculated {
		if s.snapshots != nil {
			if err := s.snapshots.CalculateTickerSnapshots(accountID); err != nil {
				return fmt.Errorf("ticker snapshot calculation failed: %w", err)
			}
		}
		if err := s.store.MarkTickerSnapshotsCalculated(session.ID); err != nil {
			return err
		}
	}
	return s.store.CompleteSession(session.ID)
}

// recordFailure writes the failure onto the session row and returns the
// original error to the caller.
func (s *ImportService) recordFailure(sessionID int64, cause error) (*models.ImportSession, error) {
	if err := s.store.FailSession(sessionID, cause.Error()); err != nil {
		logger.L.Error("Could not record session failure", "sessionID", sessionID, "error", err)
	}
	session, getErr := s.store.GetSession(sessionID)
	if getErr != nil {
		return nil, cause
	}
	return session, cause
}

// PlanChunks slices the analyzed date span into contiguous chunks of at
// most chunkSizeDays calendar days, numbered from 1. Estimated movement
// counts come from the per-file date lists.
func PlanChunks(earliest, latest time.Time, countsByDay map[string]int, chunkSizeDays int) []models.ChunkInfo {
	if chunkSizeDays < 1 {
		chunkSizeDays = 1
	}
	earliest = utils.DayUTC(earliest)
	latest = utils.DayUTC(latest)

	var chunks []models.ChunkInfo
	number := 1
	for start := earliest; !start.After(latest); start = start.AddDate(0, 0, chunkSizeDays) {
		end := start.AddDate(0, 0, chunkSizeDays-1)
		if end.After(latest) {
			end = latest
		}

		estimated := 0
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			estimated += countsByDay[utils.FormatDate(d)]
		}

		chunks = append(chunks, models.ChunkInfo{
			ChunkNumber:        number,
			StartDate:          start,
			EndDate:            end,
			EstimatedMovements: estimated,
			State:              models.ChunkPending,
		})
		number++
	}
	return chunks
}

// datedCounts flattens the analysis result into per-day record counts.
func datedCounts(analysis models.DateAnalysisResult) map[string]int {
	counts := make(map[string]int)
	for _, file := range analysis.Files {
		for _, d := range file.Dates {
			counts[utils.FormatDate(d)]++
		}
	}
	return counts
}

// transactionsInRange selects the transactions dated within [start, end].
// Membership is by calendar day: transaction timestamps keep the export's
// zone offset and resumed chunk bounds come back from storage as UTC, so
// all three dates are normalized before comparing.
func transactionsInRange(txs []models.RawTransaction, start, end time.Time) []models.RawTransaction {
	startDay, endDay := utils.DayUTC(start), utils.DayUTC(end)
	var out []models.RawTransaction
	for _, tx := range txs {
		day := utils.DayUTC(tx.Date)
		if day.Before(startDay) || day.After(endDay) {
			continue
		}
		out = append(out, tx)
	}
	return out
}
