package sessionpool

import (
	"context"

	"github.com/relaystream/core/internal/slogutil"
)

// Reconcile applies an incremental account-list diff to the pool rather
// than tearing it down and rebuilding it, mirroring the teacher's
// handleProviderChanges pattern for live-reloadable provider config.
func (p *Pool) Reconcile(ctx context.Context, want []Account) error {
	log := slogutil.With("sessionpool")

	p.mu.Lock()
	have := make(map[string]*Account, len(p.accounts))
	for id, acc := range p.accounts {
		have[id] = acc
	}
	p.mu.Unlock()

	wantByID := make(map[string]Account, len(want))
	for _, acc := range want {
		wantByID[acc.ID] = acc
	}

	for id := range have {
		if _, ok := wantByID[id]; !ok {
			log.Info("removing account no longer in config", "account_id", id)
			p.RemoveAccount(id)
		}
	}

	for id, acc := range wantByID {
		if _, exists := have[id]; exists {
			continue
		}
		log.Info("adding new account from config", "account_id", id, "tier", acc.Tier)
		if err := p.AddAccount(ctx, acc); err != nil {
			log.Warn("failed to add account", "account_id", id, "err", err)
		}
	}
	return nil
}
