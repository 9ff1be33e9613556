package sessionpool

import (
	"context"
	"testing"

	"github.com/relaystream/core/internal/remote"
	"github.com/stretchr/testify/require"
)

type fakeDialer struct{ n int }

func (d *fakeDialer) Dial(ctx context.Context, credentials []byte) (remote.Client, error) {
	d.n++
	return remote.NewFake(), nil
}

func TestAcquireRespectsTierPreference(t *testing.T) {
	pool := New(&fakeDialer{})
	ctx := context.Background()

	require.NoError(t, pool.AddAccount(ctx, Account{ID: "standard-1", Tier: TierStandard, Status: StatusActive}))
	require.NoError(t, pool.AddAccount(ctx, Account{ID: "premium-1", Tier: TierPremium, Status: StatusActive}))

	sessions := pool.Acquire(1)
	require.Len(t, sessions, 1)
	require.Equal(t, "premium-1", sessions[0].AccountID)
}

func TestAcquireNeverDoubleLeases(t *testing.T) {
	pool := New(&fakeDialer{})
	ctx := context.Background()
	require.NoError(t, pool.AddAccount(ctx, Account{ID: "a", Tier: TierStandard, Status: StatusActive}))

	total := SessionsForTier(TierStandard)
	first := pool.Acquire(total)
	require.Len(t, first, total)

	second := pool.Acquire(1)
	require.Empty(t, second, "no session should be leasable twice")
}

func TestPressureAndStatusAgree(t *testing.T) {
	pool := New(&fakeDialer{})
	ctx := context.Background()
	require.NoError(t, pool.AddAccount(ctx, Account{ID: "a", Tier: TierStandard, Status: StatusActive}))

	sessions := pool.Acquire(2)
	require.Len(t, sessions, 2)

	status := pool.Status()
	require.Equal(t, status.Total, status.Leased+status.Available)
	require.InDelta(t, float64(status.Leased)/float64(status.Total), status.Pressure, 0.0001)

	pool.Release(sessions)
	status = pool.Status()
	require.Equal(t, 0, status.Leased)
}

func TestHandleBackoffExcludesAccountUntilExpiry(t *testing.T) {
	pool := New(&fakeDialer{})
	ctx := context.Background()
	require.NoError(t, pool.AddAccount(ctx, Account{ID: "a", Tier: TierStandard, Status: StatusActive}))

	pool.HandleBackoff("a", 3600)
	require.Empty(t, pool.Acquire(4))

	status := pool.Status()
	require.Len(t, status.Accounts, 1)
	require.Equal(t, StatusBackoff, status.Accounts[0].Status)
	require.Greater(t, status.Accounts[0].BackoffRemaining.Seconds(), 0.0)
}

func TestReconcileAddsAndRemovesAccounts(t *testing.T) {
	pool := New(&fakeDialer{})
	ctx := context.Background()
	require.NoError(t, pool.AddAccount(ctx, Account{ID: "a", Tier: TierStandard, Status: StatusActive}))

	require.NoError(t, pool.Reconcile(ctx, []Account{{ID: "b", Tier: TierPremium, Status: StatusActive}}))

	status := pool.Status()
	require.Len(t, status.Accounts, 1)
	require.Equal(t, "b", status.Accounts[0].ID)
}
