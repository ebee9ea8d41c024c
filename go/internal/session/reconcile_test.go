package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/aln/go/internal/models"
)

func entry(token, team string, at int) BatchEntry {
	return BatchEntry{TokenID: token, TeamID: team, Mode: models.ModeBlackMarket, ClientTimestamp: gameStart.Add(time.Duration(at) * time.Second)}
}

func TestReconcile_PreservesBatchOrder(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	results, err := f.manager.Reconcile(context.Background(), f.session.ID, ReconcileRequest{
		DeviceID: "gm-offline",
		Transactions: []BatchEntry{
			entry("mab001", "Red", 1),
			entry("rat002", "Red", 2),
			entry("mab001", "Red", 3),
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, models.TransactionStatusAccepted, results[0].Status)
	assert.Equal(t, models.TransactionStatusAccepted, results[1].Status)
	assert.Equal(t, models.TransactionStatusDuplicate, results[2].Status)
	assert.Equal(t, *results[0].TransactionID, results[2].Transaction.DuplicateOf.TransactionID)

	for i, r := range results {
		assert.Equal(t, models.TransactionSourceOffline, r.Transaction.Source)
		assert.Equal(t, "gm-offline", r.Transaction.DeviceID)
		assert.Equal(t, gameStart.Add(time.Duration(i+1)*time.Second), r.Transaction.ClientTimestamp)
	}
	assert.Equal(t, ReconcileSummary{Accepted: 2, Duplicate: 1}, Summarize(results))
}

// A token scanned live after an offline scan was recorded, but before the
// batch arrives, is accepted live; the late offline copy is a duplicate.
func TestReconcile_LiveScanWins(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	live, err := f.manager.Submit(ctx, f.session.ID, blackmarket("mab001", "Blue"))
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusAccepted, live.Status)

	results, err := f.manager.Reconcile(ctx, f.session.ID, ReconcileRequest{
		DeviceID:     "gm-offline",
		Transactions: []BatchEntry{entry("mab001", "Red", -600)},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.TransactionStatusDuplicate, results[0].Status)

	snap, err := f.manager.Snapshot(f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(750000), teamScore(t, snap.TeamScores, "Blue").TotalPoints)
	assert.Zero(t, teamScore(t, snap.TeamScores, "Red").TotalPoints)
}

func TestReconcile_InterleavesWithLiveSubmissions(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	var batch []BatchEntry
	for i := 0; i < 20; i++ {
		batch = append(batch, entry("mab001", "Red", i))
	}

	var wg sync.WaitGroup
	var offline []SubmitResult
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		offline, err = f.manager.Reconcile(ctx, f.session.ID, ReconcileRequest{DeviceID: "gm-offline", Transactions: batch})
		assert.NoError(t, err)
	}()
	live := make([]SubmitResult, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.manager.Submit(ctx, f.session.ID, blackmarket("mab001", "Blue"))
			assert.NoError(t, err)
			live[i] = res
		}(i)
	}
	wg.Wait()

	sum := Summarize(append(offline, live...))
	assert.Equal(t, 1, sum.Accepted)
	assert.Equal(t, 39, sum.Duplicate)

	for i := 1; i < len(offline); i++ {
		assert.Less(t, offline[i-1].Transaction.Seq, offline[i].Transaction.Seq, "batch entries commit in batch order")
	}
}

func TestReconcile_Errors(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, err := f.manager.Reconcile(context.Background(), f.session.ID, ReconcileRequest{Transactions: []BatchEntry{entry("mab001", "Red", 0)}})
	assert.ErrorIs(t, err, ErrInvalidSubmission)

	_, err = f.manager.Reconcile(context.Background(), uuid.New(), ReconcileRequest{DeviceID: "d"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := f.manager.Reconcile(ctx, f.session.ID, ReconcileRequest{DeviceID: "d", Transactions: []BatchEntry{entry("mab001", "Red", 0)}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestReconcile_RejectedEntriesKeepTheirSlot(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	results, err := f.manager.Reconcile(context.Background(), f.session.ID, ReconcileRequest{
		DeviceID: "gm-offline",
		Transactions: []BatchEntry{
			entry("ghost", "Red", 0),
			entry("mab001", "Purple", 1),
			entry("mab001", "Red", 2),
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, ReasonUnknownToken, results[0].Reason)
	assert.Equal(t, ReasonUnknownTeam, results[1].Reason)
	assert.Equal(t, models.TransactionStatusAccepted, results[2].Status)
}

func TestRejectReason(t *testing.T) {
	assert.Empty(t, RejectReason(nil))
	assert.Equal(t, ReasonSessionNotActive, RejectReason(&SessionNotActiveError{Status: models.SessionStatusEnded}))
	assert.Equal(t, ReasonSessionPaused, RejectReason(&SessionNotActiveError{Status: models.SessionStatusPaused}))
	assert.Equal(t, ReasonSessionNotFound, RejectReason(ErrSessionNotFound))
	assert.Equal(t, ReasonInternal, RejectReason(context.DeadlineExceeded))
}
