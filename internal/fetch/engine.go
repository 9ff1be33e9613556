// Package fetch implements the hardest sub-algorithm in the core: given a
// leased session and a part, download a requested byte range with retry,
// back-off, handle refresh, and resumable continuation.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/relaystream/core/internal/catalog"
	"github.com/relaystream/core/internal/chunkcache"
	"github.com/relaystream/core/internal/remote"
	"github.com/relaystream/core/internal/sessionpool"
	"github.com/relaystream/core/internal/slogutil"
)

// ChunkSize is the backend's fixed transfer unit.
const ChunkSize = 1 << 20 // 1 MiB

// ErrFailed is returned when the retry state machine exhausts its attempt
// budget (attempts >= 5 in any non-backoff category).
var ErrFailed = errors.New("fetch: exhausted retries")

// ErrAborted is returned when the caller's abort predicate fires.
var ErrAborted = errors.New("fetch: aborted")

// Engine downloads byte ranges from parts over leased sessions.
type Engine struct {
	Chunks  *chunkcache.ChunkCache
	Handles *chunkcache.HandleCache

	// Pool receives account-level backoff signals (§4.3.5) when the
	// backend asks a session to slow down. Nil is tolerated for tests
	// that don't care about pool-side bookkeeping.
	Pool *sessionpool.Pool

	warmMu sync.Mutex
	warmed map[warmKey]bool
}

type warmKey struct {
	sessionID string
	channel   string
}

// NewEngine builds an Engine over the given caches, marking account backoff
// on pool when the backend signals a rate limit.
func NewEngine(chunks *chunkcache.ChunkCache, handles *chunkcache.HandleCache, pool *sessionpool.Pool) *Engine {
	return &Engine{Chunks: chunks, Handles: handles, Pool: pool, warmed: make(map[warmKey]bool)}
}

// warmChannel pre-resolves the backend's channel for a session the first
// time that session touches it, mirroring telegram.py's populate_peer_cache:
// the first real fetch on a fresh (session, channel) pair would otherwise
// pay this RTT inline and risk timing out alongside its own per-chunk
// deadline.
func (e *Engine) warmChannel(ctx context.Context, session *sessionpool.Session, channel string) {
	key := warmKey{sessionID: session.ID, channel: channel}

	e.warmMu.Lock()
	if e.warmed[key] {
		e.warmMu.Unlock()
		return
	}
	e.warmed[key] = true
	e.warmMu.Unlock()

	if err := session.Client.Ping(ctx); err != nil {
		slogutil.With("fetch").Debug("channel warm-up ping failed",
			"session_id", session.ID, "channel", channel, "err", err)
	}
}

// Fetch returns a lazy, cancellable Stream of byte blobs whose concatenation
// equals part[byteOffset : byteOffset+byteLength]. aborted is polled at
// every chunk boundary; when it returns true the stream terminates with
// ErrAborted and yields nothing further (§4.4.5 force-release).
func (e *Engine) Fetch(session *sessionpool.Session, part catalog.Part, byteOffset, byteLength int64, aborted func() bool) *Stream {
	q0 := byteOffset / ChunkSize
	r0 := byteOffset % ChunkSize
	qEnd := ceilDiv(byteOffset+byteLength, ChunkSize)

	return &Stream{
		engine:    e,
		session:   session,
		part:      part,
		qCur:      q0,
		qEnd:      qEnd,
		skip:      r0,
		remaining: byteLength,
		aborted:   aborted,
		log:       slogutil.With("fetch", "part_id", part.ID, "session_id", session.ID),
	}
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// Stream is one in-flight fetch call's resumable state.
type Stream struct {
	engine  *Engine
	session *sessionpool.Session
	part    catalog.Part

	qCur      int64 // next chunk index to serve, only ever advances
	qEnd      int64 // exclusive upper bound
	skip      int64 // bytes to skip from the first yielded chunk
	remaining int64 // bytes still owed to the caller

	iter remote.ChunkIterator

	consecutiveIncomplete int
	attempts              int

	// nextDelay is computed by shouldRetry (the retry.RetryIf callback)
	// and read back by delayFunc (the retry.DelayType callback), so the
	// delay reflects the exact state shouldRetry just transitioned
	// through rather than retry-go's own attempt counter.
	nextDelay   time.Duration
	terminalErr error

	aborted func() bool
	log     interface {
		Debug(msg string, args ...any)
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
	}
}

// Next returns the next effective blob, or io.EOF once remaining has been
// fully delivered.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	if s.remaining <= 0 {
		return nil, io.EOF
	}
	if s.aborted != nil && s.aborted() {
		return nil, ErrAborted
	}

	raw, err := s.nextChunk(ctx)
	if err != nil {
		return nil, err
	}
	return s.applySkipTruncate(raw), nil
}

func (s *Stream) applySkipTruncate(chunk []byte) []byte {
	if s.skip > 0 {
		n := s.skip
		if n > int64(len(chunk)) {
			n = int64(len(chunk))
		}
		chunk = chunk[n:]
		s.skip -= n
	}
	if int64(len(chunk)) > s.remaining {
		chunk = chunk[:s.remaining]
	}
	s.remaining -= int64(len(chunk))
	return chunk
}

// nextChunk serves one whole chunk either from the chunk cache or via the
// fetch phase, advancing qCur.
func (s *Stream) nextChunk(ctx context.Context) ([]byte, error) {
	if s.iter == nil {
		if cached, ok := s.engine.Chunks.GetChunk(s.part.ID, s.qCur); ok {
			s.qCur++
			return cached, nil
		}
	}
	return s.fetchPhase(ctx)
}

// fetchPhase runs the retry/recovery state machine (§4.3.4) via
// avast/retry-go/v4 until one chunk has been delivered, the stream
// aborts, or attempts are exhausted. shouldRetry carries out every
// Recovering-state transition (handle invalidation, session reset,
// account backoff, attempt/consecutive-failure bookkeeping) and decides
// whether retry-go should try again; delayFunc reports back the delay
// shouldRetry just computed for that transition.
func (s *Stream) fetchPhase(ctx context.Context) ([]byte, error) {
	var chunk []byte

	err := retry.Do(
		func() error {
			if s.aborted != nil && s.aborted() {
				return retry.Unrecoverable(ErrAborted)
			}

			if s.iter == nil {
				s.engine.warmChannel(ctx, s.session, s.part.Channel)
				if err := s.openStream(ctx); err != nil {
					return err
				}
			}

			c, err := s.readOneChunk(ctx)
			if err != nil {
				return err
			}

			s.engine.Chunks.PutChunk(s.part.ID, s.qCur, c)
			s.qCur++
			s.consecutiveIncomplete = 0
			chunk = c
			return nil
		},
		retry.Attempts(0), // unbounded; shouldRetry enforces maxAttempts
		retry.Context(ctx),
		retry.RetryIf(s.shouldRetry),
		retry.DelayType(s.delayFunc),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return chunk, nil
	}
	if s.terminalErr != nil {
		return nil, s.terminalErr
	}
	return nil, err
}

// shouldRetry classifies err, applies the corresponding Recovering
// transition (including account-level backoff on the Session Pool per
// §4.3.5), and reports whether retry-go should try again. When it
// returns false, terminalErr holds the error the fetch must surface.
func (s *Stream) shouldRetry(err error) bool {
	reason, waitSeconds, ok := classify(err)
	if !ok {
		s.log.Warn("fatal error, not retrying", "err", err)
		s.terminalErr = err
		return false
	}

	switch reason {
	case ReasonIncomplete:
		s.closeIter()
		s.consecutiveIncomplete++
		if s.consecutiveIncomplete >= maxConsecutiveIncomplete {
			s.engine.Handles.InvalidateHandle(s.part.ID, s.session.ID)
			s.consecutiveIncomplete = 0
			s.log.Info("refreshing handle after repeated incomplete streams")
			s.nextDelay = 0
		} else {
			s.nextDelay = time.Duration(s.consecutiveIncomplete) * time.Second
		}
		s.attempts++

	case ReasonHandleExpired:
		s.closeIter()
		s.engine.Handles.InvalidateHandle(s.part.ID, s.session.ID)
		s.nextDelay = 0
		s.attempts++

	case ReasonBackoff:
		s.closeIter()
		s.log.Info("backend requested backoff", "wait_seconds", waitSeconds)
		if s.engine.Pool != nil {
			s.engine.Pool.HandleBackoff(s.session.AccountID, waitSeconds)
		}
		s.nextDelay = time.Duration(waitSeconds) * time.Second
		// does not count against attempts

	case ReasonIO:
		s.closeIter()
		s.session.Client.Reset()
		s.nextDelay = ioBackoff(s.attempts)
		s.attempts++
	}

	if reason != ReasonBackoff && s.attempts >= maxAttempts {
		s.log.Warn("exhausted retries", "attempts", s.attempts, "last_reason", reason.String())
		s.terminalErr = fmt.Errorf("%w: %s (%v)", ErrFailed, reason, err)
		return false
	}
	return true
}

// delayFunc reports the delay shouldRetry computed for the transition it
// just ran, rather than deriving one from retry-go's own attempt counter
// (which advances once per call regardless of reason, including Backoff
// calls that must not count toward the exponential I/O schedule).
func (s *Stream) delayFunc(_ uint, _ error, _ *retry.Config) time.Duration {
	return s.nextDelay
}

// openStream mints/refreshes the per-session handle and opens the backend
// iterator covering the remaining chunk range.
func (s *Stream) openStream(ctx context.Context) error {
	handle, err := s.engine.Handles.Refresh(ctx, s.part.ID, s.session.ID, func(ctx context.Context) (string, error) {
		mintCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		doc, err := s.session.Client.FetchMessage(mintCtx, s.part.Channel, s.part.Message)
		if err != nil {
			return "", err
		}
		return doc.Handle, nil
	})
	if err != nil {
		return err
	}

	iter, err := s.session.Client.Stream(ctx, handle, s.qCur, s.qEnd-s.qCur)
	if err != nil {
		return err
	}
	s.iter = iter
	return nil
}

// readOneChunk pulls the next blob from the open iterator under the
// per-chunk timeout.
func (s *Stream) readOneChunk(ctx context.Context) ([]byte, error) {
	chunkCtx, cancel := context.WithTimeout(ctx, perChunkTimeoutSeconds*time.Second)
	defer cancel()
	return s.iter.Next(chunkCtx)
}

// ioBackoff is immediate on the first retry, then grows by 2s per prior
// attempt (2s, 4s, 6s, ...), capped at 8s.
func ioBackoff(attempts int) time.Duration {
	if attempts == 0 {
		return 0
	}
	seconds := attempts * 2
	if seconds > ioBackoffCap {
		seconds = ioBackoffCap
	}
	return time.Duration(seconds) * time.Second
}

func (s *Stream) closeIter() {
	if s.iter != nil {
		s.iter.Close()
		s.iter = nil
	}
}
