package importer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/optionfolio/backend/src/dateanalysis"
	"github.com/username/optionfolio/backend/src/models"
)

type fakeSnapshots struct {
	brokerCalls int
	tickerCalls int
	brokerErr   error
}

func (f *fakeSnapshots) CalculateBrokerSnapshots(accountID int64) error {
	f.brokerCalls++
	return f.brokerErr
}

func (f *fakeSnapshots) CalculateTickerSnapshots(accountID int64) error {
	f.tickerCalls++
	return nil
}

func newTestService(t *testing.T, snapshots SnapshotCalculator) (*ImportService, *SessionStore) {
	t.Helper()
	store := newTestStore(t)
	return NewImportService(store, dateanalysis.NewAnalyzer(), snapshots), store
}

const tastytradeHeader = "Date,Type,Sub Type,Action,Symbol,Instrument Type,Description,Value,Quantity,Average Price,Commissions,Fees,Multiplier,Root Symbol,Underlying Symbol,Expiration Date,Strike Price,Call or Put,Order #,Total,Currency"

func writeStatement(t *testing.T, name string, rows ...string) string {
	t.Helper()
	content := tastytradeHeader + "\n"
	for _, row := range rows {
		content += row + "\n"
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPlanChunks(t *testing.T) {
	earliest := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)

	t.Run("span within one chunk", func(t *testing.T) {
		chunks := PlanChunks(earliest, earliest.AddDate(0, 0, 10), nil, 30)
		require.Len(t, chunks, 1)
		assert.Equal(t, 1, chunks[0].ChunkNumber)
		assert.True(t, chunks[0].StartDate.Equal(earliest))
		assert.True(t, chunks[0].EndDate.Equal(earliest.AddDate(0, 0, 10)))
	})

	t.Run("thirty one days split into two chunks", func(t *testing.T) {
		latest := earliest.AddDate(0, 0, 30)
		chunks := PlanChunks(earliest, latest, nil, 30)
		require.Len(t, chunks, 2)
		assert.True(t, chunks[0].EndDate.Equal(earliest.AddDate(0, 0, 29)))
		assert.True(t, chunks[1].StartDate.Equal(earliest.AddDate(0, 0, 30)))
		assert.True(t, chunks[1].EndDate.Equal(latest))
	})

	t.Run("chunk numbers are contiguous from one", func(t *testing.T) {
		chunks := PlanChunks(earliest, earliest.AddDate(0, 0, 100), nil, 30)
		require.Len(t, chunks, 4)
		for i, chunk := range chunks {
			assert.Equal(t, i+1, chunk.ChunkNumber)
		}
		// No day is covered twice and no day is skipped.
		for i := 1; i < len(chunks); i++ {
			assert.True(t, chunks[i].StartDate.Equal(chunks[i-1].EndDate.AddDate(0, 0, 1)))
		}
	})

	t.Run("estimated counts come from per day records", func(t *testing.T) {
		counts := map[string]int{
			"2023-02-01": 2,
			"2023-02-15": 3,
			"2023-03-03": 5,
		}
		chunks := PlanChunks(earliest, earliest.AddDate(0, 0, 30), counts, 30)
		require.Len(t, chunks, 2)
		assert.Equal(t, 5, chunks[0].EstimatedMovements)
		assert.Equal(t, 5, chunks[1].EstimatedMovements)
	})

	t.Run("single day span", func(t *testing.T) {
		chunks := PlanChunks(earliest, earliest, nil, 30)
		require.Len(t, chunks, 1)
		assert.True(t, chunks[0].StartDate.Equal(chunks[0].EndDate))
	})
}

func TestTransactionsInRange(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2023, 2, d, 12, 0, 0, 0, time.UTC) }
	txs := []models.RawTransaction{
		{Date: day(1)},
		{Date: day(10)},
		{Date: day(20)},
	}

	got := transactionsInRange(txs, time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2023, 2, 10, 0, 0, 0, 0, time.UTC))
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Date.Day())
	assert.Equal(t, 10, got[1].Date.Day())
}

// A row stamped late in the day with a negative offset still belongs to
// its calendar day's chunk when the bounds are UTC midnights, as they are
// after a resume reads them back from storage. Membership is by calendar
// day, not instant.
func TestTransactionsInRange_OffsetTimestamps(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	txs := []models.RawTransaction{
		{Date: time.Date(2023, 3, 2, 20, 0, 0, 0, est)},
	}
	start := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 3, 2, 0, 0, 0, 0, time.UTC)

	assert.Len(t, transactionsInRange(txs, start, end), 1)
	// The following chunk must not claim the same day.
	assert.Empty(t, transactionsInRange(txs, end.AddDate(0, 0, 1), end.AddDate(0, 0, 30)))
}

func TestRunImport_EndToEnd(t *testing.T) {
	rows := []string{
		`2023-02-01T10:00:00-0500,Trade,Buy,BUY,AAPL,Equity,Bought 10 AAPL @ 150.25,"-1,502.50",10,150.25,-1.00,-0.05,,,AAPL,,,,90211,"-1,503.55",USD`,
		`2023-03-10T16:00:00-0500,Money Movement,Deposit,,,,ACH DEPOSIT,"5,000.00",,,,,,,,,,,,"5,000.00",USD`,
	}
	path := writeStatement(t, "tastytrade_transactions_5WX12345_230201_to_230310.csv", rows...)

	snapshots := &fakeSnapshots{}
	service, store := newTestService(t, snapshots)

	session, err := service.RunImport(1, "Main Account", path, "tastytrade")
	require.NoError(t, err)
	require.NotNil(t, session)

	// The 37-day span splits into two 30-day-bounded chunks, both done.
	assert.Equal(t, 2, session.TotalChunks)
	assert.Equal(t, 2, session.ChunksCompleted)
	assert.Equal(t, 2, session.MovementsPersisted)
	assert.Equal(t, models.PhaseCompleted, session.Phase)
	assert.Equal(t, models.SessionCompleted, session.State)
	assert.True(t, session.BrokerSnapshotsCalculated)
	assert.True(t, session.TickerSnapshotsCalculated)
	assert.Equal(t, 1, snapshots.brokerCalls)
	assert.Equal(t, 1, snapshots.tickerCalls)

	// A completed session is no longer active.
	active, err := store.GetActiveSession(1)
	require.NoError(t, err)
	assert.Nil(t, active)

	chunks, err := store.GetChunks(session.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, chunk := range chunks {
		assert.Equal(t, models.ChunkCompleted, chunk.State)
	}
	assert.Equal(t, 1, chunks[0].ActualMovements)
	assert.Equal(t, 1, chunks[1].ActualMovements)
}

// Importing the same statement twice persists nothing new the second
// time; every movement is suppressed by its content hash.
func TestRunImport_Rerun(t *testing.T) {
	rows := []string{
		`2023-02-01T10:00:00-0500,Trade,Buy,BUY,AAPL,Equity,Bought,-1502.50,10,150.25,-1.00,-0.05,,,AAPL,,,,90211,-1503.55,USD`,
	}
	path := writeStatement(t, "tastytrade_transactions_5WX12345_230201_to_230201.csv", rows...)

	service, _ := newTestService(t, &fakeSnapshots{})

	first, err := service.RunImport(1, "Main Account", path, "tastytrade")
	require.NoError(t, err)
	assert.Equal(t, 1, first.MovementsPersisted)

	second, err := service.RunImport(1, "Main Account", path, "tastytrade")
	require.NoError(t, err)
	assert.Equal(t, 0, second.MovementsPersisted)
}

func TestRunImport_UnknownSource(t *testing.T) {
	path := writeStatement(t, "statement.csv",
		`2023-02-01T10:00:00-0500,Trade,Buy,BUY,AAPL,Equity,Bought,-1502.50,10,150.25,-1.00,-0.05,,,AAPL,,,,1,-1503.55,USD`)

	service, _ := newTestService(t, &fakeSnapshots{})
	_, err := service.RunImport(1, "Main Account", path, "")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestRunImport_NothingToImport(t *testing.T) {
	path := writeStatement(t, "tastytrade_transactions_5WX12345_230201_to_230201.csv")

	service, _ := newTestService(t, &fakeSnapshots{})
	_, err := service.RunImport(1, "Main Account", path, "tastytrade")
	assert.ErrorIs(t, err, ErrNothingToImport)
}

// A snapshot failure is recorded on the session row, not just returned.
func TestRunImport_SnapshotFailureRecorded(t *testing.T) {
	rows := []string{
		`2023-02-01T10:00:00-0500,Trade,Buy,BUY,AAPL,Equity,Bought,-1502.50,10,150.25,-1.00,-0.05,,,AAPL,,,,1,-1503.55,USD`,
	}
	path := writeStatement(t, "tastytrade_transactions_5WX12345_230201_to_230201.csv", rows...)

	snapshots := &fakeSnapshots{brokerErr: errors.New("snapshot store unavailable")}
	service, _ := newTestService(t, snapshots)

	session, err := service.RunImport(1, "Main Account", path, "tastytrade")
	require.Error(t, err)
	require.NotNil(t, session)
	assert.Equal(t, models.SessionFailed, session.State)
	assert.Contains(t, session.LastError, "snapshot store unavailable")
}

func TestResumeImport_NoActiveSession(t *testing.T) {
	service, _ := newTestService(t, &fakeSnapshots{})
	_, err := service.ResumeImport(1)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestResumeImport_CompletesPendingChunks(t *testing.T) {
	rows := []string{
		`2023-02-01T10:00:00-0500,Trade,Buy,BUY,AAPL,Equity,Bought,-1502.50,10,150.25,-1.00,-0.05,,,AAPL,,,,1,-1503.55,USD`,
		`2023-02-10T16:00:00-0500,Money Movement,Deposit,,,,ACH DEPOSIT,5000.00,,,,,,,,,,,,5000.00,USD`,
	}
	path := writeStatement(t, "tastytrade_transactions_5WX12345_230201_to_230210.csv", rows...)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	snapshots := &fakeSnapshots{}
	service, store := newTestService(t, snapshots)

	// Simulate a session interrupted before any chunk finished.
	start := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err = store.CreateSession(models.ImportSession{
		AccountID:  1,
		SourcePath: path,
		FileHash:   HashBytes(data),
	}, []models.ChunkInfo{
		{ChunkNumber: 1, StartDate: start, EndDate: start.AddDate(0, 0, 29)},
	})
	require.NoError(t, err)

	session, err := service.ResumeImport(1)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, session.State)
	assert.Equal(t, 1, session.ChunksCompleted)
	assert.Equal(t, 2, session.MovementsPersisted)
	assert.Equal(t, 1, snapshots.brokerCalls)
}

// A resumed chunk's bounds come back from storage as UTC midnights while
// the statement's rows keep their export offset. A row dated on the
// chunk's last day must still be persisted; losing it while the session
// completes cleanly would be silent data loss.
func TestResumeImport_PersistsChunkEndDayRow(t *testing.T) {
	rows := []string{
		`2023-02-01T10:00:00-0500,Trade,Buy,BUY,AAPL,Equity,Bought,-1502.50,10,150.25,-1.00,-0.05,,,AAPL,,,,1,-1503.55,USD`,
		`2023-03-02T20:00:00-0500,Money Movement,Deposit,,,,ACH DEPOSIT,5000.00,,,,,,,,,,,,5000.00,USD`,
	}
	path := writeStatement(t, "tastytrade_transactions_5WX12345_230201_to_230302.csv", rows...)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	service, store := newTestService(t, &fakeSnapshots{})

	start := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err = store.CreateSession(models.ImportSession{
		AccountID:  1,
		SourcePath: path,
		FileHash:   HashBytes(data),
	}, []models.ChunkInfo{
		{ChunkNumber: 1, StartDate: start, EndDate: start.AddDate(0, 0, 29)},
	})
	require.NoError(t, err)

	session, err := service.ResumeImport(1)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, session.State)
	assert.Equal(t, 2, session.MovementsPersisted)
}

// Rows straddling a daylight-saving offset change within one statement
// all land in their calendar day's chunk.
func TestRunImport_OffsetChangeWithinStatement(t *testing.T) {
	rows := []string{
		`2023-03-03T10:00:00-0500,Trade,Buy,BUY,AAPL,Equity,Bought,-1502.50,10,150.25,-1.00,-0.05,,,AAPL,,,,1,-1503.55,USD`,
		`2023-03-10T10:00:00-0400,Money Movement,Deposit,,,,ACH DEPOSIT,5000.00,,,,,,,,,,,,5000.00,USD`,
	}
	path := writeStatement(t, "tastytrade_transactions_5WX12345_230303_to_230310.csv", rows...)

	service, _ := newTestService(t, &fakeSnapshots{})

	session, err := service.RunImport(1, "Main Account", path, "tastytrade")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, session.State)
	assert.Equal(t, 1, session.TotalChunks)
	assert.Equal(t, 2, session.MovementsPersisted)
}

// A statement that changed on disk since session creation must fail the
// resume instead of importing divergent data.
func TestResumeImport_HashMismatch(t *testing.T) {
	rows := []string{
		`2023-02-01T10:00:00-0500,Trade,Buy,BUY,AAPL,Equity,Bought,-1502.50,10,150.25,-1.00,-0.05,,,AAPL,,,,1,-1503.55,USD`,
	}
	path := writeStatement(t, "tastytrade_transactions_5WX12345_230201_to_230201.csv", rows...)

	service, store := newTestService(t, &fakeSnapshots{})

	start := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.CreateSession(models.ImportSession{
		AccountID:  1,
		SourcePath: path,
		FileHash:   "stale-hash",
	}, []models.ChunkInfo{
		{ChunkNumber: 1, StartDate: start, EndDate: start},
	})
	require.NoError(t, err)

	session, err := service.ResumeImport(1)
	assert.ErrorIs(t, err, ErrHashMismatch)
	require.NotNil(t, session)
	assert.Equal(t, models.SessionFailed, session.State)
}

func TestCancel(t *testing.T) {
	service, store := newTestService(t, &fakeSnapshots{})

	assert.ErrorIs(t, service.Cancel(1), ErrNoActiveSession)

	id := createTestSession(t, store, 1, 1)
	require.NoError(t, service.Cancel(1))

	session, err := store.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, session.State)
}

// The full pipeline applies a detected special dividend strike
// adjustment to the persisted open leg.
func TestRunImport_AppliesStrikeAdjustment(t *testing.T) {
	rows := []string{
		`2023-05-12T10:00:00-0500,Trade,Sell to Open,SELL_TO_OPEN,KO    230616C00036000,Equity Option,Sold 1 KO call,96.00,1,0.96,-1.00,-0.10,100,KO,KO,6/16/2023,36.0,CALL,5001,94.90,USD`,
		`2023-05-12T10:00:01-0500,Trade,Buy to Close,BUY_TO_CLOSE,KO    230616C00035700,Equity Option,Bought 1 KO call,-96.00,1,0.96,0,-0.10,100,KO,KO,6/16/2023,35.7,CALL,5002,-96.10,USD`,
	}
	path := writeStatement(t, "tastytrade_transactions_5WX12345_230512_to_230512.csv", rows...)

	service, store := newTestService(t, &fakeSnapshots{})

	session, err := service.RunImport(1, "Main Account", path, "tastytrade")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, session.State)

	var strike float64
	var notes string
	err = store.db.QueryRow(`SELECT strike, notes FROM movements
		WHERE account_id = 1 AND kind = ? AND open_close = 'OPEN'`,
		string(models.KindOptionTrade)).Scan(&strike, &notes)
	require.NoError(t, err)
	assert.InDelta(t, 35.70, strike, 1e-9)
	assert.Contains(t, notes, "Strike adjusted from 36.00 to 35.70")
	assert.Contains(t, notes, "special dividend payment of 96.00")
}
