package sessionpool

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/relaystream/core/internal/slogutil"
)

const keepAliveInterval = 30 * time.Second

// KeepAlive wakes every interval and pings every Session concurrently,
// panic-safe via conc/pool so one bad Session can't take the loop down.
// Ping failures drop the affected session's transport state so the next
// real fetch transparently re-establishes it.
func (p *Pool) KeepAlive(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pingAll(ctx)
		}
	}
}

func (p *Pool) pingAll(ctx context.Context) {
	log := slogutil.With("sessionpool")
	// conc/pool re-raises a task's panic from Wait; stop it here so the
	// keep-alive loop keeps running.
	defer func() {
		if r := recover(); r != nil {
			log.Error("keep-alive ping panicked", "panic", r)
		}
	}()

	p.mu.Lock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, st := range p.sessions {
		sessions = append(sessions, st.session)
	}
	p.mu.Unlock()

	grp := pool.New().WithMaxGoroutines(16)
	for _, sess := range sessions {
		sess := sess
		grp.Go(func() {
			if err := sess.Client.Ping(ctx); err != nil {
				log.Warn("keep-alive ping failed, dropping transport state",
					"session_id", sess.ID, "err", err)
				sess.Client.Reset()
			}
		})
	}
	grp.Wait()
}
