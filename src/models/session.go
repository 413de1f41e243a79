package models

import "time"

// SessionPhase is the import pipeline phase a session is in. Phases move
// one way: persisting movements, then calculating snapshots, then done.
type SessionPhase string

const (
	PhasePersistingMovements  SessionPhase = "PHASE1_PERSISTING_MOVEMENTS"
	PhaseCalculatingSnapshots SessionPhase = "PHASE2_CALCULATING_SNAPSHOTS"
	PhaseCompleted            SessionPhase = "COMPLETED"
)

// SessionState is the lifecycle state of a session. Failed and Cancelled
// are reachable from any non-terminal state; all three non-running states
// are terminal.
type SessionState string

const (
	SessionInProgress SessionState = "IN_PROGRESS"
	SessionCompleted  SessionState = "COMPLETED"
	SessionFailed     SessionState = "FAILED"
	SessionCancelled  SessionState = "CANCELLED"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// ChunkState is the lifecycle state of one import chunk.
type ChunkState string

const (
	ChunkPending   ChunkState = "PENDING"
	ChunkCompleted ChunkState = "COMPLETED"
	ChunkFailed    ChunkState = "FAILED"
)

// ImportSession is the durable record of one resumable, chunked import.
// The "active" session for an account is the most-recently-created
// non-terminal one; completed sessions are never returned as active.
type ImportSession struct {
	ID                int64        `json:"id,omitempty"` // Database primary key
	PublicID          string       `json:"public_id"`    // UUID handed to the UI
	AccountID         int64        `json:"account_id"`
	AccountName       string       `json:"account_name"`
	SourcePath        string       `json:"source_path"`
	FileHash          string       `json:"file_hash"` // sha256 of the source file content
	TotalChunks       int          `json:"total_chunks"`
	ChunksCompleted   int          `json:"chunks_completed"`
	MovementsPersisted int         `json:"movements_persisted"`
	Phase             SessionPhase `json:"phase"`
	State             SessionState `json:"state"`
	// Phase 2 tracks two independent completion flags; both must be set
	// before the session can complete. They gate the phase, they are not
	// states themselves.
	BrokerSnapshotsCalculated bool       `json:"broker_snapshots_calculated"`
	TickerSnapshotsCalculated bool       `json:"ticker_snapshots_calculated"`
	LastError                 string     `json:"last_error,omitempty"`
	CreatedAt                 time.Time  `json:"created_at"`
	Phase1CompletedAt         *time.Time `json:"phase1_completed_at,omitempty"`
	Phase2CompletedAt         *time.Time `json:"phase2_completed_at,omitempty"`
	FinishedAt                *time.Time `json:"finished_at,omitempty"`
}

// ChunkInfo is one bounded date-range slice of an import. Chunk numbers
// are contiguous from 1 within a session. Rows are created in bulk at
// session creation and mutated individually on completion.
type ChunkInfo struct {
	ID                 int64      `json:"id,omitempty"`
	SessionID          int64      `json:"session_id"`
	ChunkNumber        int        `json:"chunk_number"` // 1-based, contiguous
	StartDate          time.Time  `json:"start_date"`
	EndDate            time.Time  `json:"end_date"`
	EstimatedMovements int        `json:"estimated_movements"`
	ActualMovements    int        `json:"actual_movements"`
	DurationMs         int64      `json:"duration_ms"`
	State              ChunkState `json:"state"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}
