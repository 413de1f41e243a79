package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/optionfolio/backend/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

// InitDB opens the sqlite database at the given path and ensures the
// import schema exists. Master data (broker accounts and so on) is owned
// by the surrounding application and assumed initialized.
func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	logger.L.Info("Ensuring import schema", "databasePath", databasePath)
	if err := EnsureSchema(DB); err != nil {
		logger.L.Error("failed to create tables", "error", err)
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	logger.L.Info("Database tables ensured/created.")
}

// EnsureSchema creates the import tables if they do not exist and applies
// in-place column migrations. Safe to call repeatedly; tests call it
// against in-memory databases.
func EnsureSchema(db *sql.DB) error {
	createTableStatement := `
	CREATE TABLE IF NOT EXISTS import_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT NOT NULL UNIQUE,
		account_id INTEGER NOT NULL,
		account_name TEXT,
		source_path TEXT NOT NULL,
		file_hash TEXT NOT NULL,
		total_chunks INTEGER NOT NULL DEFAULT 0,
		chunks_completed INTEGER NOT NULL DEFAULT 0,
		movements_persisted INTEGER NOT NULL DEFAULT 0,
		phase TEXT NOT NULL,
		state TEXT NOT NULL,
		broker_snapshots_calculated BOOLEAN NOT NULL DEFAULT FALSE,
		ticker_snapshots_calculated BOOLEAN NOT NULL DEFAULT FALSE,
		last_error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		phase1_completed_at TIMESTAMP,
		phase2_completed_at TIMESTAMP,
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS import_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		chunk_number INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		estimated_movements INTEGER NOT NULL DEFAULT 0,
		actual_movements INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		completed_at TIMESTAMP,
		FOREIGN KEY(session_id) REFERENCES import_sessions(id),
		UNIQUE(session_id, chunk_number)
	);

	CREATE TABLE IF NOT EXISTS movements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER,
		account_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		date TEXT NOT NULL,
		ticker TEXT,
		underlying TEXT,
		quantity REAL,
		price REAL,
		commission REAL,
		fees REAL,
		buy_sell TEXT,
		open_close TEXT,
		strike REAL,
		expiration TEXT,
		call_put TEXT,
		multiplier REAL,
		amount REAL,
		tax_withheld REAL,
		movement_type TEXT,
		order_ref TEXT,
		currency TEXT,
		notes TEXT,
		hash_id TEXT,
		FOREIGN KEY(session_id) REFERENCES import_sessions(id),
		UNIQUE(account_id, hash_id)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_account_created
		ON import_sessions(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_chunks_session_state
		ON import_chunks(session_id, state);
	CREATE INDEX IF NOT EXISTS idx_movements_account_date
		ON movements(account_id, date);
	`

	if _, err := db.Exec(createTableStatement); err != nil {
		return err
	}

	migrateSessionTable(db)
	return nil
}

// migrateSessionTable adds columns introduced after the first release to
// existing import_sessions tables.
func migrateSessionTable(db *sql.DB) {
	rows, err := db.Query("PRAGMA table_info(import_sessions)")
	if err != nil {
		logger.L.Error("Error querying table schema for 'import_sessions'", "error", err)
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			logger.L.Error("Error scanning column info for 'import_sessions'", "error", err)
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		logger.L.Error("Error iterating over column info for 'import_sessions'", "error", err)
		return
	}

	if _, ok := columnExists["last_error"]; !ok {
		if _, err := db.Exec("ALTER TABLE import_sessions ADD COLUMN last_error TEXT"); err != nil {
			logger.L.Error("Error adding 'last_error' column to 'import_sessions' table", "error", err)
		} else {
			logger.L.Info("Added 'last_error' column to 'import_sessions' table")
		}
	}
	if _, ok := columnExists["account_name"]; !ok {
		if _, err := db.Exec("ALTER TABLE import_sessions ADD COLUMN account_name TEXT"); err != nil {
			logger.L.Error("Error adding 'account_name' column to 'import_sessions' table", "error", err)
		} else {
			logger.L.Info("Added 'account_name' column to 'import_sessions' table")
		}
	}
}
