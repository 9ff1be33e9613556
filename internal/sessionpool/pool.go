// Package sessionpool owns every authenticated session across every
// configured backend account and hands out exclusive leases to callers.
package sessionpool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relaystream/core/internal/remote"
	"github.com/relaystream/core/internal/slogutil"
)

// Tier determines how many Sessions an Account gets and is used as a soft
// selection priority (premium before standard).
type Tier string

const (
	TierPremium  Tier = "premium"
	TierStandard Tier = "standard"
)

// Status is an Account's lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusBackoff Status = "backoff"
	StatusOffline Status = "offline"
)

const (
	// DefaultSessionsPremium is the session count dialed for each premium
	// account. It is a fixed constant; the configuration does not change it.
	DefaultSessionsPremium = 6
	// DefaultSessionsStandard is the session count dialed for each standard
	// account. It is a fixed constant; the configuration does not change it.
	DefaultSessionsStandard = 4
)

// Account is one authenticated identity at the backend.
type Account struct {
	ID           string
	Tier         Tier
	Credentials  []byte
	Status       Status
	BackoffUntil time.Time
}

// Session is one live authenticated connection belonging to exactly one
// Account. A Session services at most one in-flight fetch at a time; the
// pool's lease bookkeeping enforces this exclusivity (invariant 3).
type Session struct {
	ID        string
	AccountID string
	Client    remote.Client
}

type sessionState struct {
	session *Session
	leased  bool
}

// Pool owns all Sessions across all Accounts and tracks per-account backoff.
type Pool struct {
	mu sync.Mutex

	dialer   remote.Dialer
	accounts map[string]*Account
	sessions map[string]*sessionState // keyed by session id
	// order preserves tier-preference selection: premium accounts' sessions
	// first.
	order []string

	logger interface {
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
	}
}

// New builds an empty Pool. Use AddAccount to populate it.
func New(dialer remote.Dialer) *Pool {
	return &Pool{
		dialer:   dialer,
		accounts: make(map[string]*Account),
		sessions: make(map[string]*sessionState),
	}
}

// SessionsForTier returns the session count for a tier.
func SessionsForTier(tier Tier) int {
	if tier == TierPremium {
		return DefaultSessionsPremium
	}
	return DefaultSessionsStandard
}

// AddAccount dials SessionsForTier(account.Tier) sessions for a newly added
// account and merges them into the pool.
func (p *Pool) AddAccount(ctx context.Context, account Account) error {
	log := slogutil.With("sessionpool")
	n := SessionsForTier(account.Tier)

	p.mu.Lock()
	p.accounts[account.ID] = &account
	p.mu.Unlock()

	for i := 0; i < n; i++ {
		client, err := p.dialer.Dial(ctx, account.Credentials)
		if err != nil {
			log.Warn("failed to dial session", "account_id", account.ID, "err", err)
			continue
		}
		sess := &Session{ID: uuid.NewString(), AccountID: account.ID, Client: client}

		p.mu.Lock()
		p.sessions[sess.ID] = &sessionState{session: sess}
		if account.Tier == TierPremium {
			p.order = append([]string{sess.ID}, p.order...)
		} else {
			p.order = append(p.order, sess.ID)
		}
		p.mu.Unlock()
	}
	return nil
}

// RemoveAccount closes every Session belonging to accountID and drops the
// account from the pool. Sessions that are currently leased are closed
// immediately as well, without waiting for their release; in-flight
// fetches on them fail naturally.
func (p *Pool) RemoveAccount(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.accounts, accountID)
	var remaining []string
	for _, id := range p.order {
		st := p.sessions[id]
		if st.session.AccountID == accountID {
			st.session.Client.Close()
			delete(p.sessions, id)
			continue
		}
		remaining = append(remaining, id)
	}
	p.order = remaining
}

// Acquire returns up to n currently free Sessions, preferring premium-tier
// accounts, marking them leased atomically. It may return fewer than n,
// including zero.
func (p *Pool) Acquire(n int) []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clearExpiredBackoffLocked()

	var out []*Session
	for _, id := range p.order {
		if len(out) >= n {
			break
		}
		st := p.sessions[id]
		if st.leased {
			continue
		}
		if p.accountUnusableLocked(st.session.AccountID) {
			continue
		}
		st.leased = true
		out = append(out, st.session)
	}
	return out
}

// TryAcquireOne is Acquire(1) collapsed to a single Session or nil.
func (p *Pool) TryAcquireOne() *Session {
	sessions := p.Acquire(1)
	if len(sessions) == 0 {
		return nil
	}
	return sessions[0]
}

// Release marks the given Sessions free again.
func (p *Pool) Release(sessions []*Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sess := range sessions {
		if st, ok := p.sessions[sess.ID]; ok {
			st.leased = false
		}
	}
}

// Pressure returns the fraction of Sessions currently leased, or 1.0 if the
// pool is empty (an empty pool offers no slack, so treat it as maximally
// pressured).
func (p *Pool) Pressure() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pressureLocked()
}

func (p *Pool) pressureLocked() float64 {
	total := len(p.sessions)
	if total == 0 {
		return 1.0
	}
	leased := 0
	for _, st := range p.sessions {
		if st.leased {
			leased++
		}
	}
	return float64(leased) / float64(total)
}

// AccountStatus is one row of Status's per-account breakdown.
type AccountStatus struct {
	ID              string
	Tier            Tier
	Status          Status
	BackoffRemaining time.Duration
}

// PoolStatus is the aggregate snapshot exposed at §6.3.
type PoolStatus struct {
	Total     int
	Leased    int
	Available int
	Pressure  float64
	Accounts  []AccountStatus
}

// Status returns an aggregate snapshot of the pool.
func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clearExpiredBackoffLocked()

	st := PoolStatus{Pressure: p.pressureLocked()}
	for _, s := range p.sessions {
		st.Total++
		if s.leased {
			st.Leased++
		} else {
			st.Available++
		}
	}

	ids := make([]string, 0, len(p.accounts))
	for id := range p.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	now := time.Now()
	for _, id := range ids {
		acc := p.accounts[id]
		remaining := time.Duration(0)
		if acc.Status == StatusBackoff && acc.BackoffUntil.After(now) {
			remaining = acc.BackoffUntil.Sub(now)
		}
		st.Accounts = append(st.Accounts, AccountStatus{
			ID: acc.ID, Tier: acc.Tier, Status: acc.Status, BackoffRemaining: remaining,
		})
	}
	return st
}

// HandleBackoff marks accountID (and implicitly all its Sessions) unusable
// until now+seconds. Already-leased Sessions finish their current fetch;
// the window is only consulted on the next Acquire.
func (p *Pool) HandleBackoff(accountID string, seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[accountID]
	if !ok {
		return
	}
	acc.Status = StatusBackoff
	acc.BackoffUntil = time.Now().Add(time.Duration(seconds) * time.Second)
}

func (p *Pool) accountUnusableLocked(accountID string) bool {
	acc, ok := p.accounts[accountID]
	if !ok {
		return false
	}
	return acc.Status == StatusOffline || (acc.Status == StatusBackoff && acc.BackoffUntil.After(time.Now()))
}

// clearExpiredBackoffLocked lazily clears an account's backoff once its
// window has passed, per §3.3.
func (p *Pool) clearExpiredBackoffLocked() {
	now := time.Now()
	for _, acc := range p.accounts {
		if acc.Status == StatusBackoff && !acc.BackoffUntil.After(now) {
			acc.Status = StatusActive
		}
	}
}

// Shutdown closes every Session's transport. The pool must not be used
// afterward.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range p.sessions {
		st.session.Client.Close()
	}
	p.sessions = make(map[string]*sessionState)
	p.order = nil
}

// ErrNoAccount is returned when an operation references an unknown account.
var ErrNoAccount = fmt.Errorf("sessionpool: unknown account")
