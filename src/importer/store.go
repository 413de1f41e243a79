// Package importer owns the resumable, chunked, multi-phase import
// pipeline: the durable session/chunk state machine and the orchestration
// that drives statement files through parsing, classification,
// validation and atomic persistence.
package importer

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/username/optionfolio/backend/src/logger"
	"github.com/username/optionfolio/backend/src/models"
	"github.com/username/optionfolio/backend/src/utils"
)

var (
	// ErrInvalidTransition is returned when a phase or terminal
	// transition is attempted out of order. Transitions are one-way.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("import session not found")
)

const timestampLayout = time.RFC3339Nano

// SessionStore persists import sessions, their chunk rows and the
// canonical movements. It is the only shared-mutable-state surface of
// the pipeline; every multi-row write happens in one database
// transaction.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// CreateSession persists one session row plus one row per planned chunk
// (state Pending) as a single atomic operation and returns the new
// session id.
func (s *SessionStore) CreateSession(session models.ImportSession, chunks []models.ChunkInfo) (int64, error) {
	if session.PublicID == "" {
		session.PublicID = uuid.NewString()
	}
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("error beginning session transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO import_sessions
		(public_id, account_id, account_name, source_path, file_hash,
		 total_chunks, chunks_completed, movements_persisted,
		 phase, state, broker_snapshots_calculated, ticker_snapshots_calculated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?, FALSE, FALSE, ?)`,
		session.PublicID, session.AccountID, session.AccountName, session.SourcePath, session.FileHash,
		len(chunks), string(models.PhasePersistingMovements), string(models.SessionInProgress),
		now.Format(timestampLayout))
	if err != nil {
		return 0, fmt.Errorf("error inserting import session: %w", err)
	}
	sessionID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("error reading new session id: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO import_chunks
		(session_id, chunk_number, start_date, end_date, estimated_movements, state)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("error preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if _, err := stmt.Exec(sessionID, chunk.ChunkNumber,
			utils.FormatDate(chunk.StartDate), utils.FormatDate(chunk.EndDate),
			chunk.EstimatedMovements, string(models.ChunkPending)); err != nil {
			return 0, fmt.Errorf("error inserting chunk %d: %w", chunk.ChunkNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing session creation: %w", err)
	}

	logger.L.Info("Import session created",
		"sessionID", sessionID, "accountID", session.AccountID, "totalChunks", len(chunks))
	return sessionID, nil
}

const sessionColumns = `id, public_id, account_id, account_name, source_path, file_hash,
	total_chunks, chunks_completed, movements_persisted, phase, state,
	broker_snapshots_calculated, ticker_snapshots_calculated,
	COALESCE(last_error, ''), created_at, phase1_completed_at, phase2_completed_at, finished_at`

// GetSession fetches one session by id.
func (s *SessionStore) GetSession(sessionID int64) (*models.ImportSession, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM import_sessions WHERE id = ?`, sessionID)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	return session, err
}

// GetActiveSession returns the most-recently-created non-terminal
// session for the account, or nil when none exists. Older non-terminal
// sessions are not invalidated, only deprioritized by this query.
func (s *SessionStore) GetActiveSession(accountID int64) (*models.ImportSession, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM import_sessions
		WHERE account_id = ? AND state = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		accountID, string(models.SessionInProgress))
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return session, err
}

// ListSessions returns every session for the account, newest first.
func (s *SessionStore) ListSessions(accountID int64) ([]models.ImportSession, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM import_sessions
		WHERE account_id = ? ORDER BY created_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("error listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.ImportSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.ImportSession, error) {
	var session models.ImportSession
	var phase, state, createdAt string
	var phase1At, phase2At, finishedAt sql.NullString

	err := row.Scan(&session.ID, &session.PublicID, &session.AccountID, &session.AccountName,
		&session.SourcePath, &session.FileHash,
		&session.TotalChunks, &session.ChunksCompleted, &session.MovementsPersisted,
		&phase, &state,
		&session.BrokerSnapshotsCalculated, &session.TickerSnapshotsCalculated,
		&session.LastError, &createdAt, &phase1At, &phase2At, &finishedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("error scanning session row: %w", err)
	}

	session.Phase = models.SessionPhase(phase)
	session.State = models.SessionState(state)
	session.CreatedAt = parseTimestamp(createdAt)
	session.Phase1CompletedAt = parseNullTimestamp(phase1At)
	session.Phase2CompletedAt = parseNullTimestamp(phase2At)
	session.FinishedAt = parseNullTimestamp(finishedAt)
	return &session, nil
}

func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t
	}
	// CURRENT_TIMESTAMP default from older rows.
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}

func parseNullTimestamp(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTimestamp(ns.String)
	return &t
}

// GetPendingChunks returns the session's chunks still awaiting work:
// Pending and Failed ones only, in chunk order. After a crash this is
// all a resume needs, provided the file hash still matches.
func (s *SessionStore) GetPendingChunks(sessionID int64) ([]models.ChunkInfo, error) {
	return s.queryChunks(`SELECT id, session_id, chunk_number, start_date, end_date,
		estimated_movements, actual_movements, duration_ms, state, completed_at
		FROM import_chunks
		WHERE session_id = ? AND state IN (?, ?)
		ORDER BY chunk_number`,
		sessionID, string(models.ChunkPending), string(models.ChunkFailed))
}

// GetChunks returns every chunk of the session in chunk order.
func (s *SessionStore) GetChunks(sessionID int64) ([]models.ChunkInfo, error) {
	return s.queryChunks(`SELECT id, session_id, chunk_number, start_date, end_date,
		estimated_movements, actual_movements, duration_ms, state, completed_at
		FROM import_chunks
		WHERE session_id = ?
		ORDER BY chunk_number`, sessionID)
}

func (s *SessionStore) queryChunks(query string, args ...any) ([]models.ChunkInfo, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.ChunkInfo
	for rows.Next() {
		var chunk models.ChunkInfo
		var startDate, endDate, state string
		var completedAt sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.SessionID, &chunk.ChunkNumber,
			&startDate, &endDate, &chunk.EstimatedMovements, &chunk.ActualMovements,
			&chunk.DurationMs, &state, &completedAt); err != nil {
			return nil, fmt.Errorf("error scanning chunk row: %w", err)
		}
		chunk.StartDate = utils.ParseDate(startDate)
		chunk.EndDate = utils.ParseDate(endDate)
		chunk.State = models.ChunkState(state)
		chunk.CompletedAt = parseNullTimestamp(completedAt)
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// MarkChunkCompleted records a chunk's completion and advances the
// session's aggregate counters in one transaction. An unknown chunk
// number is tolerated: the counters still advance. This leniency is
// deliberate, long-standing behavior; see the open question in DESIGN.md.
func (s *SessionStore) MarkChunkCompleted(sessionID int64, chunkNumber int, actualMovements int, duration time.Duration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("error beginning chunk completion transaction: %w", err)
	}
	defer tx.Rollback()

	if err := completeChunkInTx(tx, sessionID, chunkNumber, actualMovements, duration); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing chunk completion: %w", err)
	}
	return nil
}

// completeChunkInTx performs the chunk-row update plus counter increment
// inside the caller's transaction, so a crash between them cannot leave
// the counts inconsistent.
func completeChunkInTx(tx *sql.Tx, sessionID int64, chunkNumber int, actualMovements int, duration time.Duration) error {
	now := time.Now().UTC().Format(timestampLayout)

	res, err := tx.Exec(`UPDATE import_chunks
		SET state = ?, actual_movements = ?, duration_ms = ?, completed_at = ?
		WHERE session_id = ? AND chunk_number = ?`,
		string(models.ChunkCompleted), actualMovements, duration.Milliseconds(), now,
		sessionID, chunkNumber)
	if err != nil {
		return fmt.Errorf("error updating chunk %d: %w", chunkNumber, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		logger.L.Warn("markChunkCompleted called for unknown chunk number; counters advance anyway",
			"sessionID", sessionID, "chunkNumber", chunkNumber)
	}

	if _, err := tx.Exec(`UPDATE import_sessions
		SET chunks_completed = chunks_completed + 1,
		    movements_persisted = movements_persisted + ?
		WHERE id = ?`, actualMovements, sessionID); err != nil {
		return fmt.Errorf("error advancing session counters: %w", err)
	}
	return nil
}

// MarkChunkFailed flags a chunk for retry on resume.
func (s *SessionStore) MarkChunkFailed(sessionID int64, chunkNumber int) error {
	_, err := s.db.Exec(`UPDATE import_chunks SET state = ?
		WHERE session_id = ? AND chunk_number = ?`,
		string(models.ChunkFailed), sessionID, chunkNumber)
	if err != nil {
		return fmt.Errorf("error marking chunk %d failed: %w", chunkNumber, err)
	}
	return nil
}

// PersistChunk writes a chunk's validated movements and its completion
// record as one atomic unit: either the movements, the chunk state and
// the session counters all commit, or none do. Movements whose content
// hash already exists for the account are skipped, which makes re-running
// a crashed chunk idempotent. Returns the number of movements actually
// inserted.
func (s *SessionStore) PersistChunk(sessionID int64, chunkNumber int, movements []models.Movement, duration time.Duration) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("error beginning chunk persistence transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, m := range movements {
		ok, err := insertMovementInTx(tx, sessionID, m)
		if err != nil {
			return 0, err
		}
		if ok {
			inserted++
		}
	}

	if err := completeChunkInTx(tx, sessionID, chunkNumber, inserted, duration); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing chunk persistence: %w", err)
	}

	logger.L.Info("Chunk persisted",
		"sessionID", sessionID, "chunkNumber", chunkNumber,
		"movements", inserted, "skippedDuplicates", len(movements)-inserted)
	return inserted, nil
}

// insertMovementInTx writes one movement row. Returns false when the row
// was suppressed as a duplicate of an already-persisted movement.
func insertMovementInTx(tx *sql.Tx, sessionID int64, m models.Movement) (bool, error) {
	var (
		ticker, underlying, buySell, openClose, callPut, movementType, orderRef, currency, notes, hashID string
		date                                                                                            string
		quantity, price, commission, fees, strike, multiplier, amount, taxWithheld                       float64
		expiration                                                                                      string
		accountID                                                                                       int64
	)

	switch v := m.(type) {
	case models.StockTrade:
		accountID, date, ticker = v.AccountID, utils.FormatDate(v.Date), v.Ticker
		currency, notes, hashID = v.Currency, v.Notes, v.HashID
		quantity, price, commission, fees = v.Quantity, v.Price, v.Commission, v.Fees
		buySell, openClose = v.BuySell, v.OpenClose
	case models.OptionTrade:
		accountID, date, ticker = v.AccountID, utils.FormatDate(v.Date), v.Ticker
		currency, notes, hashID = v.Currency, v.Notes, v.HashID
		underlying = v.Underlying
		quantity, price, commission, fees = v.Quantity, v.Premium, v.Commission, v.Fees
		strike, multiplier = v.Strike, v.Multiplier
		if !v.Expiration.IsZero() {
			expiration = utils.FormatDate(v.Expiration)
		}
		callPut, buySell, openClose, orderRef = v.CallPut, v.BuySell, v.OpenClose, v.OrderRef
	case models.Dividend:
		accountID, date, ticker = v.AccountID, utils.FormatDate(v.Date), v.Ticker
		currency, notes, hashID = v.Currency, v.Notes, v.HashID
		amount, taxWithheld = v.Amount, v.TaxWithheld
	case models.BrokerMovement:
		accountID, date, ticker = v.AccountID, utils.FormatDate(v.Date), v.Ticker
		currency, notes, hashID = v.Currency, v.Notes, v.HashID
		amount, movementType = v.Amount, v.MovementType
	default:
		return false, fmt.Errorf("unknown movement kind %q", m.Kind())
	}

	res, err := tx.Exec(`INSERT OR IGNORE INTO movements
		(session_id, account_id, kind, date, ticker, underlying,
		 quantity, price, commission, fees, buy_sell, open_close,
		 strike, expiration, call_put, multiplier,
		 amount, tax_withheld, movement_type, order_ref, currency, notes, hash_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, accountID, string(m.Kind()), date, ticker, underlying,
		quantity, price, commission, fees, buySell, openClose,
		strike, expiration, callPut, multiplier,
		amount, taxWithheld, movementType, orderRef, currency, notes, hashID)
	if err != nil {
		return false, fmt.Errorf("error inserting movement (hash %s): %w", hashID, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// AdvanceToPhase2 moves a session from movement persistence to snapshot
// calculation. Phase transitions are one-way.
func (s *SessionStore) AdvanceToPhase2(sessionID int64) error {
	now := time.Now().UTC().Format(timestampLayout)
	res, err := s.db.Exec(`UPDATE import_sessions
		SET phase = ?, phase1_completed_at = ?
		WHERE id = ? AND state = ? AND phase = ?`,
		string(models.PhaseCalculatingSnapshots), now,
		sessionID, string(models.SessionInProgress), string(models.PhasePersistingMovements))
	if err != nil {
		return fmt.Errorf("error advancing session %d to phase 2: %w", sessionID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: session %d cannot advance to phase 2", ErrInvalidTransition, sessionID)
	}
	return nil
}

// MarkBrokerSnapshotsCalculated sets the first of the two phase-2
// completion flags. The session completes only once both are set.
func (s *SessionStore) MarkBrokerSnapshotsCalculated(sessionID int64) error {
	return s.setSnapshotFlag(sessionID, "broker_snapshots_calculated")
}

// MarkTickerSnapshotsCalculated sets the second phase-2 completion flag.
func (s *SessionStore) MarkTickerSnapshotsCalculated(sessionID int64) error {
	return s.setSnapshotFlag(sessionID, "ticker_snapshots_calculated")
}

func (s *SessionStore) setSnapshotFlag(sessionID int64, column string) error {
	res, err := s.db.Exec(`UPDATE import_sessions SET `+column+` = TRUE
		WHERE id = ? AND state = ? AND phase = ?`,
		sessionID, string(models.SessionInProgress), string(models.PhaseCalculatingSnapshots))
	if err != nil {
		return fmt.Errorf("error setting %s for session %d: %w", column, sessionID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: session %d is not in the snapshot phase", ErrInvalidTransition, sessionID)
	}
	return nil
}

// CompleteSession finishes a session whose both snapshot flags are set.
func (s *SessionStore) CompleteSession(sessionID int64) error {
	now := time.Now().UTC().Format(timestampLayout)
	res, err := s.db.Exec(`UPDATE import_sessions
		SET phase = ?, state = ?, phase2_completed_at = ?, finished_at = ?
		WHERE id = ? AND state = ? AND phase = ?
		  AND broker_snapshots_calculated AND ticker_snapshots_calculated`,
		string(models.PhaseCompleted), string(models.SessionCompleted), now, now,
		sessionID, string(models.SessionInProgress), string(models.PhaseCalculatingSnapshots))
	if err != nil {
		return fmt.Errorf("error completing session %d: %w", sessionID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: session %d cannot complete (wrong phase or snapshot flags unset)", ErrInvalidTransition, sessionID)
	}
	logger.L.Info("Import session completed", "sessionID", sessionID)
	return nil
}

// FailSession records a failure message and moves the session to the
// Failed terminal state. The failure is recorded, not thrown, so a
// resumed-import UI can explain what happened.
func (s *SessionStore) FailSession(sessionID int64, message string) error {
	now := time.Now().UTC().Format(timestampLayout)
	res, err := s.db.Exec(`UPDATE import_sessions
		SET state = ?, last_error = ?, finished_at = ?
		WHERE id = ? AND state = ?`,
		string(models.SessionFailed), message, now,
		sessionID, string(models.SessionInProgress))
	if err != nil {
		return fmt.Errorf("error failing session %d: %w", sessionID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: session %d is already terminal", ErrInvalidTransition, sessionID)
	}
	logger.L.Warn("Import session failed", "sessionID", sessionID, "message", message)
	return nil
}

// CancelSession moves the session to the Cancelled terminal state.
// Cancellation records only the state; cooperative — the caller must
// stop issuing further chunk operations itself.
func (s *SessionStore) CancelSession(sessionID int64) error {
	now := time.Now().UTC().Format(timestampLayout)
	res, err := s.db.Exec(`UPDATE import_sessions
		SET state = ?, finished_at = ?
		WHERE id = ? AND state = ?`,
		string(models.SessionCancelled), now,
		sessionID, string(models.SessionInProgress))
	if err != nil {
		return fmt.Errorf("error cancelling session %d: %w", sessionID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: session %d is already terminal", ErrInvalidTransition, sessionID)
	}
	logger.L.Info("Import session cancelled", "sessionID", sessionID)
	return nil
}

// ValidateFileHash recomputes the content hash of the file at
// validation time and compares it to the expected value. The file is
// re-read in full; no cached analysis is consulted. A missing file is an
// error, never a silent false.
func ValidateFileHash(path string, expectedHash string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("error reading file for hash validation: %w", err)
	}
	return HashBytes(data) == expectedHash, nil
}

// HashBytes returns the hex sha256 digest of a file's content.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FindOptionTradeByHash locates a persisted option trade by its content
// hash within an account. Used to apply corporate-action adjustments to
// the affected leg.
func (s *SessionStore) FindOptionTradeByHash(accountID int64, hashID string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM movements
		WHERE account_id = ? AND hash_id = ? AND kind = ?`,
		accountID, hashID, string(models.KindOptionTrade)).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no persisted option trade with hash %s", hashID)
	}
	if err != nil {
		return 0, fmt.Errorf("error looking up option trade by hash: %w", err)
	}
	return id, nil
}

// ApplyStrikeAdjustment updates strike and ticker linkage and appends a
// note on the affected option leg only. Movements are never deleted.
func (s *SessionStore) ApplyStrikeAdjustment(movementID int64, newStrike float64, ticker string, note string) error {
	res, err := s.db.Exec(`UPDATE movements
		SET strike = ?,
		    ticker = CASE WHEN ? != '' THEN ? ELSE ticker END,
		    notes = CASE WHEN notes IS NULL OR notes = '' THEN ? ELSE notes || ' ' || ? END
		WHERE id = ? AND kind = ?`,
		newStrike, ticker, ticker, note, note,
		movementID, string(models.KindOptionTrade))
	if err != nil {
		return fmt.Errorf("error applying strike adjustment to movement %d: %w", movementID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("movement %d is not a persisted option trade", movementID)
	}
	return nil
}
