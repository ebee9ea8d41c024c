package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/aln/go/internal/broadcast"
	"github.com/mcdev12/aln/go/internal/catalog"
	"github.com/mcdev12/aln/go/internal/config"
	"github.com/mcdev12/aln/go/internal/models"
	"github.com/mcdev12/aln/go/internal/outbox"
	"github.com/mcdev12/aln/go/internal/session"
	"github.com/mcdev12/aln/go/internal/store"
)

const cleanCatalog = `{
  "mab001": {"SF_RFID": "mab001", "SF_ValueRating": 5, "SF_MemoryType": "Technical", "SF_Group": ""},
  "rat002": {"SF_RFID": "rat002", "SF_ValueRating": 2, "SF_MemoryType": "Business", "SF_Group": ""}
}`

const brokenCatalog = `{
  "mab001": {"SF_RFID": "mab001", "SF_ValueRating": 5, "SF_MemoryType": "Technical", "SF_Group": ""},
  "broken": {"SF_RFID": "broken", "SF_ValueRating": null, "SF_MemoryType": "Personal", "SF_Group": ""}
}`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestCatalogValidate(t *testing.T) {
	t.Setenv("ALN_STORE_DRIVER", "none")

	out, err := execute(t, "catalog", "validate", writeCatalog(t, cleanCatalog))
	require.NoError(t, err)
	assert.Contains(t, out, "2 tokens, 0 groups")

	out, err = execute(t, "catalog", "validate", writeCatalog(t, brokenCatalog))
	require.Error(t, err)
	assert.Contains(t, out, "broken")
}

func TestInvalidConfigFails(t *testing.T) {
	t.Setenv("ALN_PAUSED_POLICY", "whenever")
	_, err := execute(t, "catalog", "validate", writeCatalog(t, cleanCatalog))
	assert.Error(t, err)
}

// Runs a session through the relay into SQLite, then verifies it from a
// fresh process state.
func TestVerify_RestoredFromStore(t *testing.T) {
	ctx := context.Background()
	catalogPath := writeCatalog(t, cleanCatalog)
	dbPath := filepath.Join(t.TempDir(), "aln.db")
	t.Setenv("ALN_CATALOG_PATH", catalogPath)
	t.Setenv("ALN_STORE_DRIVER", "sqlite")
	t.Setenv("ALN_SQLITE_PATH", dbPath)

	st, err := store.OpenSQLite(dbPath)
	require.NoError(t, err)
	cat, err := catalog.LoadFile(catalogPath)
	require.NoError(t, err)

	clock := clockwork.NewRealClock()
	hub := broadcast.NewHub()
	relay := outbox.NewRelay(outbox.DefaultConfig(), clock, nil, outbox.Target{Name: "store", Publisher: outbox.NewStorePublisher(st), Durable: true})
	hub.AddSink(relay)
	require.NoError(t, relay.Start(ctx))

	manager := session.NewManager(cat, hub, clock, session.DefaultConfig())
	sess, err := manager.Create(ctx, session.CreateSessionRequest{Name: "Show", Teams: []string{"Red", "Blue"}})
	require.NoError(t, err)
	for _, req := range []session.SubmitRequest{
		{TokenID: "mab001", TeamID: "Red", DeviceID: "gm-1", Mode: models.ModeBlackMarket},
		{TokenID: "mab001", TeamID: "Blue", DeviceID: "gm-2", Mode: models.ModeBlackMarket},
		{TokenID: "rat002", TeamID: "Blue", DeviceID: "gm-2", Mode: models.ModeBlackMarket},
	} {
		_, err := manager.Submit(ctx, sess.ID, req)
		require.NoError(t, err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, relay.Stop(stopCtx))
	require.NoError(t, st.Close())

	out, err := execute(t, "verify", "--json", sess.ID.String())
	require.NoError(t, err, out)

	var results []session.Verification
	require.NoError(t, json.Unmarshal([]byte(out), &results), out)
	require.Len(t, results, 1)
	assert.True(t, results[0].Consistent)
	assert.Equal(t, 3, results[0].Transactions)
	assert.Equal(t, uint64(4), results[0].Seq)
}

func TestReloadCatalog(t *testing.T) {
	ctx := context.Background()
	cat, err := catalog.Parse([]byte(cleanCatalog))
	require.NoError(t, err)
	manager := session.NewManager(cat, broadcast.NewHub(), clockwork.NewFakeClock(), session.DefaultConfig())
	teams := session.CreateSessionRequest{Name: "Show", Teams: []string{"Red", "Blue"}}
	running, err := manager.Create(ctx, teams)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Catalog.Path = writeCatalog(t, `{
  "hos001": {"SF_RFID": "hos001", "SF_ValueRating": 3, "SF_MemoryType": "Business", "SF_Group": ""}
}`)
	require.NoError(t, reloadCatalog(ctx, cfg, manager))

	scan := session.SubmitRequest{TokenID: "hos001", TeamID: "Red", DeviceID: "gm-1", Mode: models.ModeBlackMarket}
	res, err := manager.Submit(ctx, running.ID, scan)
	require.Error(t, err)
	assert.Equal(t, session.ReasonUnknownToken, res.Reason, "running sessions keep their catalog")

	fresh, err := manager.Create(ctx, teams)
	require.NoError(t, err)
	res, err = manager.Submit(ctx, fresh.ID, scan)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusAccepted, res.Status)

	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.json")
	assert.Error(t, reloadCatalog(ctx, cfg, manager))
	later, err := manager.Create(ctx, teams)
	require.NoError(t, err)
	_, err = manager.Submit(ctx, later.ID, scan)
	assert.NoError(t, err, "a failed reload keeps the last good catalog")
}
