package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/aln/go/internal/broadcast"
	"github.com/mcdev12/aln/go/internal/catalog"
	"github.com/mcdev12/aln/go/internal/models"
	"github.com/mcdev12/aln/go/internal/scoring"
)

var gameStart = time.Date(2025, 10, 31, 19, 30, 0, 0, time.UTC)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	tokens := []models.Token{
		{ID: "mab001", Rating: 5, MemoryType: models.MemoryTypeTechnical},
		{ID: "rat002", Rating: 2, MemoryType: models.MemoryTypeBusiness},
		{ID: "asm031", Rating: 1, MemoryType: models.MemoryTypePersonal, GroupID: "marriage"},
		{ID: "asm032", Rating: 1, MemoryType: models.MemoryTypePersonal, GroupID: "marriage"},
		{ID: "bad001", Rating: 9, MemoryType: models.MemoryTypePersonal},
	}
	for i := 0; i < 40; i++ {
		tokens = append(tokens, models.Token{ID: fmt.Sprintf("bulk%03d", i), Rating: i%5 + 1, MemoryType: models.MemoryTypePersonal})
	}
	cat, err := catalog.New(tokens, map[string]int{"marriage": 2})
	require.NoError(t, err)
	return cat
}

type fixture struct {
	manager *Manager
	hub     *broadcast.Hub
	clock   *clockwork.FakeClock
	session models.Session
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	hub := broadcast.NewHub()
	clock := clockwork.NewFakeClockAt(gameStart)
	m := NewManager(testCatalog(t), hub, clock, cfg)
	sess, err := m.Create(context.Background(), CreateSessionRequest{Name: "Friday show", Teams: []string{"Red", "Blue"}})
	require.NoError(t, err)
	return fixture{manager: m, hub: hub, clock: clock, session: sess}
}

func blackmarket(token, team string) SubmitRequest {
	return SubmitRequest{TokenID: token, TeamID: team, DeviceID: "gm-1", Mode: models.ModeBlackMarket, ClientTimestamp: gameStart}
}

func teamScore(t *testing.T, scores []models.TeamScore, team string) models.TeamScore {
	t.Helper()
	for _, s := range scores {
		if s.TeamID == team {
			return s
		}
	}
	t.Fatalf("team %s missing", team)
	return models.TeamScore{}
}

func TestSubmit_RedBlueScenario(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	red, err := f.manager.Submit(ctx, f.session.ID, blackmarket("mab001", "Red"))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusAccepted, red.Status)
	assert.Equal(t, int64(750000), red.Points)
	require.NotNil(t, red.TransactionID)

	f.clock.Advance(time.Second)
	blue, err := f.manager.Submit(ctx, f.session.ID, blackmarket("MAB001", "Blue"))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusDuplicate, blue.Status)
	assert.Zero(t, blue.Points)
	require.NotNil(t, blue.Transaction.DuplicateOf)
	assert.Equal(t, *red.TransactionID, blue.Transaction.DuplicateOf.TransactionID)

	snap, err := f.manager.Snapshot(f.session.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Transactions, 2)
	assert.Equal(t, int64(750000), teamScore(t, snap.TeamScores, "Red").TotalPoints)
	assert.Equal(t, 1, teamScore(t, snap.TeamScores, "Red").TransactionCount)
	assert.Zero(t, teamScore(t, snap.TeamScores, "Blue").TotalPoints)
}

func TestSubmit_ModeIndependence(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	det := blackmarket("rat002", "Red")
	det.Mode = models.ModeDetective
	first, err := f.manager.Submit(ctx, f.session.ID, det)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusAccepted, first.Status)
	assert.Zero(t, first.Points)

	again, err := f.manager.Submit(ctx, f.session.ID, det)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusAccepted, again.Status, "detective re-scans are evidence views")

	bm, err := f.manager.Submit(ctx, f.session.ID, blackmarket("rat002", "Red"))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusAccepted, bm.Status)
	assert.Equal(t, int64(75000), bm.Points)
}

func TestSubmit_Rejections(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	tests := []struct {
		name   string
		req    SubmitRequest
		reason string
	}{
		{"unknown token", blackmarket("nope", "Red"), ReasonUnknownToken},
		{"unknown team", blackmarket("mab001", "Green"), ReasonUnknownTeam},
		{"malformed token entry", blackmarket("bad001", "Red"), ReasonInvalidToken},
		{"missing token", blackmarket("", "Red"), ReasonInvalidSubmission},
		{"missing team in scoring mode", blackmarket("mab001", ""), ReasonInvalidSubmission},
		{"unknown mode", SubmitRequest{TokenID: "mab001", TeamID: "Red", DeviceID: "d", Mode: "trade"}, ReasonInvalidSubmission},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.manager.Submit(ctx, f.session.ID, tt.req)
			require.Error(t, err)
			assert.Equal(t, models.TransactionStatusRejected, res.Status)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Nil(t, res.TransactionID)
		})
	}

	var invalid *scoring.InvalidTokenError
	_, err := f.manager.Submit(ctx, f.session.ID, blackmarket("bad001", "Red"))
	assert.ErrorAs(t, err, &invalid)

	_, err = f.manager.Submit(ctx, uuid.New(), blackmarket("mab001", "Red"))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	snap, err := f.manager.Snapshot(f.session.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Transactions, "rejections are never ledgered")
	assert.Equal(t, uint64(1), snap.Seq)
}

func TestSubmit_PausedPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("reject", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		_, err := f.manager.Pause(ctx, f.session.ID)
		require.NoError(t, err)

		res, err := f.manager.Submit(ctx, f.session.ID, blackmarket("mab001", "Red"))
		var notActive *SessionNotActiveError
		require.ErrorAs(t, err, &notActive)
		assert.Equal(t, models.SessionStatusPaused, notActive.Status)
		assert.Equal(t, ReasonSessionPaused, res.Reason)

		_, err = f.manager.Resume(ctx, f.session.ID)
		require.NoError(t, err)
		res, err = f.manager.Submit(ctx, f.session.ID, blackmarket("mab001", "Red"))
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusAccepted, res.Status)
		assert.False(t, res.Transaction.Late)
	})

	t.Run("accept late", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.PausedPolicy = PausedPolicyAcceptLate
		f := newFixture(t, cfg)
		_, err := f.manager.Pause(ctx, f.session.ID)
		require.NoError(t, err)

		res, err := f.manager.Submit(ctx, f.session.ID, blackmarket("mab001", "Red"))
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusAccepted, res.Status)
		assert.True(t, res.Transaction.Late)
	})
}

func TestLifecycle_Transitions(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	id := f.session.ID

	assert.Equal(t, models.SessionStatusActive, f.session.Status)

	_, err := f.manager.Resume(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.clock.Advance(time.Minute)
	paused, err := f.manager.Pause(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusPaused, paused.Status)
	require.NotNil(t, paused.PausedAt)

	_, err = f.manager.Pause(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.manager.Submit(ctx, id, blackmarket("mab001", "Red"))
	require.Error(t, err)

	resumed, err := f.manager.Resume(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, resumed.PausedAt)

	_, err = f.manager.Submit(ctx, id, blackmarket("mab001", "Red"))
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	final, err := f.manager.End(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusEnded, final.Session.Status)
	require.NotNil(t, final.Session.EndTime)
	assert.Equal(t, gameStart.Add(time.Hour+time.Minute), *final.Session.EndTime)
	assert.Len(t, final.Transactions, 1)
	assert.Equal(t, int64(750000), teamScore(t, final.TeamScores, "Red").TotalPoints)

	res, err := f.manager.Submit(ctx, id, blackmarket("rat002", "Red"))
	assert.ErrorIs(t, err, ErrSessionNotActive)
	assert.Equal(t, ReasonSessionNotActive, res.Reason)

	for _, op := range []func(context.Context, uuid.UUID) (models.Session, error){f.manager.Pause, f.manager.Resume} {
		_, err := op(ctx, id)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	_, err = f.manager.End(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidTransition, "ended is terminal")
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	for _, req := range []CreateSessionRequest{
		{Name: "", Teams: []string{"Red"}},
		{Name: "x"},
		{Name: "x", Teams: []string{"Red", "Red"}},
		{Name: "x", Teams: []string{" "}},
	} {
		_, err := f.manager.Create(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidSubmission)
	}

	second, err := f.manager.Create(ctx, CreateSessionRequest{Name: "Saturday", Teams: []string{"Gold"}})
	require.NoError(t, err)

	list := f.manager.List()
	require.Len(t, list, 2)
	assert.Equal(t, f.session.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	got, err := f.manager.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Gold"}, got.Teams)
}

func TestSubmit_ConcurrentDuplicatesAcceptedOnce(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	const n = 64
	results := make([]SubmitResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			team := []string{"Red", "Blue"}[i%2]
			res, err := f.manager.Submit(ctx, f.session.ID, blackmarket("mab001", team))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	sum := Summarize(results)
	assert.Equal(t, 1, sum.Accepted)
	assert.Equal(t, n-1, sum.Duplicate)

	snap, err := f.manager.Snapshot(f.session.ID)
	require.NoError(t, err)
	require.Len(t, snap.Transactions, n)
	for i := 1; i < len(snap.Transactions); i++ {
		prev, cur := snap.Transactions[i-1], snap.Transactions[i]
		assert.Less(t, prev.Seq, cur.Seq)
		assert.False(t, cur.ServerTimestamp.Before(prev.ServerTimestamp))
	}

	total := teamScore(t, snap.TeamScores, "Red").TotalPoints + teamScore(t, snap.TeamScores, "Blue").TotalPoints
	assert.Equal(t, int64(750000), total)

	v, err := f.manager.Verify(f.session.ID)
	require.NoError(t, err)
	assert.True(t, v.Consistent)
}

// Every snapshot taken while commits are in flight must agree with itself,
// and snapshot plus deltas must add up to the final state with no gap or
// repeat.
func TestSubscribe_SnapshotAtomicity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubscriberQueue = 1024
	f := newFixture(t, cfg)
	ctx := context.Background()
	id := f.session.ID

	var writers sync.WaitGroup
	for w := 0; w < 4; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := w; i < 40; i += 4 {
				team := []string{"Red", "Blue"}[i%2]
				_, err := f.manager.Submit(ctx, id, blackmarket(fmt.Sprintf("bulk%03d", i), team))
				assert.NoError(t, err)
			}
		}(w)
	}

	type view struct {
		snap Snapshot
		sub  *broadcast.Subscriber
	}
	views := make(chan view, 20)
	var readers sync.WaitGroup
	for r := 0; r < 20; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			snap, sub, err := f.manager.Subscribe(id)
			if assert.NoError(t, err) {
				views <- view{snap, sub}
			}
		}()
	}
	writers.Wait()
	readers.Wait()
	close(views)

	final, err := f.manager.Snapshot(id)
	require.NoError(t, err)

	for v := range views {
		sums := map[string]int64{}
		for _, tx := range v.snap.Transactions {
			if tx.Scored() {
				sums[tx.TeamID] += tx.Points
			}
		}
		for _, ts := range v.snap.TeamScores {
			assert.Equal(t, sums[ts.TeamID], ts.TotalPoints, "torn snapshot at seq %d", v.snap.Seq)
		}

		seen := len(v.snap.Transactions)
		next := v.snap.Seq + 1
		for seen < len(final.Transactions) {
			ev := <-v.sub.Events()
			require.Equal(t, next, ev.Seq, "deltas must continue right after the snapshot")
			next++
			if ev.Type == broadcast.EventTypeTransactionNew {
				seen++
			}
		}
		v.sub.Close()
	}
}

func TestEnd_RacesSubmissions(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	id := f.session.ID

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, _ = f.manager.Submit(ctx, id, blackmarket(fmt.Sprintf("bulk%03d", i), "Red"))
		}(i)
	}
	var final Snapshot
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		var err error
		final, err = f.manager.End(ctx, id)
		assert.NoError(t, err)
	}()
	close(start)
	wg.Wait()

	after, err := f.manager.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, final.Seq, after.Seq, "nothing commits after end")
	assert.Equal(t, final.Transactions, after.Transactions)
	for _, tx := range after.Transactions {
		assert.Less(t, tx.Seq, final.Seq)
	}
}

func TestSubmit_GroupCompletionEvent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	_, sub, err := f.manager.Subscribe(f.session.ID)
	require.NoError(t, err)
	defer sub.Close()

	_, err = f.manager.Submit(ctx, f.session.ID, blackmarket("asm031", "Blue"))
	require.NoError(t, err)
	_, err = f.manager.Submit(ctx, f.session.ID, blackmarket("asm032", "Blue"))
	require.NoError(t, err)

	var types []broadcast.EventType
	for i := 0; i < 3; i++ {
		ev := <-sub.Events()
		types = append(types, ev.Type)
		if ev.Type == broadcast.EventTypeGroupCompleted {
			require.NotNil(t, ev.Group)
			assert.Equal(t, "marriage", ev.Group.GroupID)
			assert.Equal(t, int64(20000), ev.Group.Bonus)
			assert.Equal(t, int64(40000), ev.TeamScore.Score)
		}
	}
	assert.Equal(t, []broadcast.EventType{
		broadcast.EventTypeTransactionNew,
		broadcast.EventTypeTransactionNew,
		broadcast.EventTypeGroupCompleted,
	}, types)
}

func TestRestore_RebuildsState(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	for _, req := range []SubmitRequest{
		blackmarket("mab001", "Red"),
		blackmarket("mab001", "Blue"),
		blackmarket("asm031", "Blue"),
		blackmarket("asm032", "Blue"),
	} {
		_, err := f.manager.Submit(ctx, f.session.ID, req)
		require.NoError(t, err)
	}
	_, err := f.manager.Pause(ctx, f.session.ID)
	require.NoError(t, err)
	before, err := f.manager.Snapshot(f.session.ID)
	require.NoError(t, err)

	hub := broadcast.NewHub()
	restored := NewManager(testCatalog(t), hub, clockwork.NewFakeClockAt(gameStart), DefaultConfig())
	require.NoError(t, restored.Restore(RestoreRequest{
		Session:      before.Session,
		Seq:          before.Seq,
		Transactions: before.Transactions,
	}))
	assert.Error(t, restored.Restore(RestoreRequest{Session: before.Session}), "restoring twice")

	after, err := restored.Snapshot(f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	v, err := restored.Verify(f.session.ID)
	require.NoError(t, err)
	assert.True(t, v.Consistent)

	_, err = restored.Resume(ctx, f.session.ID)
	require.NoError(t, err)
	res, err := restored.Submit(ctx, f.session.ID, blackmarket("rat002", "Red"))
	require.NoError(t, err)
	assert.Equal(t, before.Seq+2, res.Transaction.Seq)
	assert.False(t, res.ServerTimestamp.Before(before.Transactions[len(before.Transactions)-1].ServerTimestamp),
		"server time never runs behind the restored ledger")

	res, err = restored.Submit(ctx, f.session.ID, blackmarket("mab001", "Blue"))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusDuplicate, res.Status, "restored claims still dedup")
}

func TestVerify_FlagsDuplicateWithoutClaim(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	for _, req := range []SubmitRequest{
		blackmarket("mab001", "Red"),
		blackmarket("mab001", "Blue"),
	} {
		_, err := f.manager.Submit(ctx, f.session.ID, req)
		require.NoError(t, err)
	}
	snap, err := f.manager.Snapshot(f.session.ID)
	require.NoError(t, err)
	require.Len(t, snap.Transactions, 2)
	dup := snap.Transactions[1]
	require.Equal(t, models.TransactionStatusDuplicate, dup.Status)

	restored := NewManager(testCatalog(t), broadcast.NewHub(), clockwork.NewFakeClockAt(gameStart), DefaultConfig())
	require.NoError(t, restored.Restore(RestoreRequest{
		Session:      snap.Session,
		Seq:          snap.Seq,
		Transactions: snap.Transactions[1:],
	}))

	v, err := restored.Verify(f.session.ID)
	require.NoError(t, err)
	assert.False(t, v.Consistent)
	require.Len(t, v.Differences, 1)
	assert.Contains(t, v.Differences[0], dup.ID.String())
}

func TestEnd_ReleasesBroadcastStream(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	id := f.session.ID

	_, live, err := f.manager.Subscribe(id)
	require.NoError(t, err)
	_, err = f.manager.Submit(ctx, id, blackmarket("mab001", "Red"))
	require.NoError(t, err)
	final, err := f.manager.End(ctx, id)
	require.NoError(t, err)

	var last broadcast.Event
	for i := 0; i < 2; i++ {
		last = <-live.Events()
	}
	assert.Equal(t, broadcast.EventTypeSessionUpdate, last.Type)
	assert.Equal(t, final.Seq, last.Seq)
	assert.Equal(t, 1, f.hub.Stats().Sessions, "stream stays while a viewer is attached")

	live.Close()
	assert.Zero(t, f.hub.Stats().Sessions)

	snap, idle, err := f.manager.Subscribe(id)
	require.NoError(t, err)
	assert.Equal(t, final.Seq, snap.Seq)
	assert.Equal(t, models.SessionStatusEnded, snap.Session.Status)
	idle.Close()
	assert.Zero(t, f.hub.Stats().Sessions)
}
