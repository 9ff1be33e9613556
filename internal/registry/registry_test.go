package registry

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/relaystream/core/internal/catalog"
	"github.com/relaystream/core/internal/chunkcache"
	"github.com/relaystream/core/internal/fetch"
	"github.com/relaystream/core/internal/remote"
	"github.com/relaystream/core/internal/sessionpool"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

type fakeDialer struct{}

func (fakeDialer) Dial(ctx context.Context, credentials []byte) (remote.Client, error) {
	return remote.NewFake(), nil
}

func newTestRegistry(t *testing.T) (*Registry, *catalog.Store) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	require.NoError(t, catalog.Migrate(db))
	_, err = db.Exec(`INSERT INTO media (id, total_size) VALUES (1, 1048576)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO part (id, media_id, idx, size, start_byte, end_byte, channel, message, handle)
		VALUES (1, 1, 0, 1048576, 0, 1048576, 'ch', 'm0', '')`)
	require.NoError(t, err)

	store := catalog.NewStoreForTest(db)

	pool := sessionpool.New(fakeDialer{})
	require.NoError(t, pool.AddAccount(context.Background(), sessionpool.Account{
		ID: "a1", Tier: sessionpool.TierStandard, Status: sessionpool.StatusActive,
	}))
	engine := fetch.NewEngine(chunkcache.NewChunkCache(), chunkcache.NewHandleCache(), pool)

	return New(store, pool, engine), store
}

func TestGetOrCreateInternsByMediaID(t *testing.T) {
	reg, _ := newTestRegistry(t)

	r1, err := reg.GetOrCreate(context.Background(), 1, true)
	require.NoError(t, err)
	r2, err := reg.GetOrCreate(context.Background(), 1, true)
	require.NoError(t, err)
	require.Same(t, r1, r2, "second call must return the same interned reader")
}

func TestGetOrCreateNonPersistentIsNotInterned(t *testing.T) {
	reg, _ := newTestRegistry(t)

	r1, err := reg.GetOrCreate(context.Background(), 1, false)
	require.NoError(t, err)
	r2, err := reg.GetOrCreate(context.Background(), 1, false)
	require.NoError(t, err)
	require.NotSame(t, r1, r2)
}

func TestReleaseForceReleasesAndRemoves(t *testing.T) {
	reg, _ := newTestRegistry(t)

	r1, err := reg.GetOrCreate(context.Background(), 1, true)
	require.NoError(t, err)

	reg.Release(1)
	require.True(t, r1.IsForceReleased())

	r2, err := reg.GetOrCreate(context.Background(), 1, true)
	require.NoError(t, err)
	require.NotSame(t, r1, r2, "a fresh reader must be created after release")
}

func TestSweepReleasesOnlyIdleEntries(t *testing.T) {
	reg, _ := newTestRegistry(t)

	r1, err := reg.GetOrCreate(context.Background(), 1, true)
	require.NoError(t, err)

	reg.Sweep()
	require.False(t, r1.IsForceReleased(), "a freshly touched entry must survive a sweep")

	reg.mu.Lock()
	reg.entries[1].lastTouch = time.Now().Add(-2 * ReaderTTL)
	reg.mu.Unlock()

	reg.Sweep()
	require.True(t, r1.IsForceReleased())
}
