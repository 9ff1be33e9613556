// Package vreader implements the Virtual Reader: it maps a virtual byte
// range over an ordered sequence of Parts to Fetch Engine operations,
// maintains its own LeaseSet, and supports dynamic scale-up/scale-down of
// that LeaseSet alongside concurrent range requests.
package vreader

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/relaystream/core/internal/catalog"
	"github.com/relaystream/core/internal/fetch"
	"github.com/relaystream/core/internal/sessionpool"
	"github.com/relaystream/core/internal/slogutil"
)

// KMax is the maximum LeaseSet size a Reader will grow to.
const KMax = 6

// scaleThreshold is the pool_pressure() value above which scale-up stops
// and scale-down kicks in.
const scaleThreshold = 0.75

// ErrNoWorkers is returned when read_range cannot acquire even one Session
// at entry.
var ErrNoWorkers = errors.New("vreader: no workers available")

// Reader maps a media's ordered parts onto byte-range fetches and owns a
// LeaseSet of Sessions sized dynamically against pool pressure.
type Reader struct {
	MediaID   int64
	TotalSize int64
	Parts     []catalog.Part

	pool   *sessionpool.Pool
	engine *fetch.Engine

	mu          sync.Mutex
	leases      []*sessionpool.Session
	rr          int
	activeRange int32 // atomic
	batchMode   bool
	persistent  bool

	forceReleased atomic.Bool

	log interface {
		Debug(msg string, args ...any)
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
	}
}

// New builds a Reader over media with no leases yet held.
func New(pool *sessionpool.Pool, engine *fetch.Engine, media *catalog.Media, persistent bool) *Reader {
	return &Reader{
		MediaID:    media.ID,
		TotalSize:  media.TotalSize,
		Parts:      media.Parts,
		pool:       pool,
		engine:     engine,
		persistent: persistent,
		log:        slogutil.With("vreader", "media_id", media.ID),
	}
}

// Locate finds the Part containing byteOffset and the local offset within
// it, via linear scan (the part count is small — a few dozen at most).
func (r *Reader) Locate(byteOffset int64) (catalog.Part, int64, bool) {
	for _, p := range r.Parts {
		if byteOffset >= p.StartByte && byteOffset < p.EndByte {
			return p, byteOffset - p.StartByte, true
		}
	}
	return catalog.Part{}, 0, false
}

// ReadRange returns a lazy iterator over [start, end). Out-of-range
// arguments are silently clamped; an empty range yields nothing.
func (r *Reader) ReadRange(ctx context.Context, start, end int64) (*RangeStream, error) {
	if start < 0 {
		start = 0
	}
	if end > r.TotalSize {
		end = r.TotalSize
	}
	if start >= end {
		return &RangeStream{done: true}, nil
	}

	atomic.AddInt32(&r.activeRange, 1)

	if err := r.ensureLeaseSet(); err != nil {
		atomic.AddInt32(&r.activeRange, -1)
		return nil, err
	}

	r.tryScaleDown()
	r.tryScaleUp()

	r.mu.Lock()
	session := r.leases[r.rr%len(r.leases)]
	r.rr++
	r.mu.Unlock()

	if err := r.prewarmHandles(ctx, session); err != nil {
		r.log.Warn("prewarm failed, continuing anyway", "err", err)
	}

	return &RangeStream{
		reader:  r,
		session: session,
		cur:     start,
		end:     end,
	}, nil
}

func (r *Reader) ensureLeaseSet() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.leases) > 0 {
		return nil
	}
	sess := r.pool.TryAcquireOne()
	if sess == nil {
		return ErrNoWorkers
	}
	r.leases = append(r.leases, sess)
	return nil
}

// tryScaleUp acquires one more Session if under KMax and the pool isn't
// under pressure. Best-effort; never blocks the read (§4.4.3).
func (r *Reader) tryScaleUp() {
	r.mu.Lock()
	n := len(r.leases)
	r.mu.Unlock()
	if n >= KMax || r.pool.Pressure() > scaleThreshold {
		return
	}
	sess := r.pool.TryAcquireOne()
	if sess == nil {
		return
	}
	r.mu.Lock()
	r.leases = append(r.leases, sess)
	r.mu.Unlock()
	r.log.Debug("scaled up", "lease_count", len(r.leases))
}

// tryScaleDown releases the tail Session when the pool is under pressure,
// never going below 1.
func (r *Reader) tryScaleDown() {
	r.mu.Lock()
	if len(r.leases) <= 1 {
		r.mu.Unlock()
		return
	}
	pressure := r.pool.Pressure()
	if pressure <= scaleThreshold {
		r.mu.Unlock()
		return
	}
	tail := r.leases[len(r.leases)-1]
	r.leases = r.leases[:len(r.leases)-1]
	r.mu.Unlock()

	r.pool.Release([]*sessionpool.Session{tail})
	r.log.Debug("scaled down")
}

// prewarmHandles ensures a fresh per-session handle exists for every Part
// on session, so the hot read path doesn't pay handle-refresh latency
// inline for parts it hasn't touched yet on this session.
func (r *Reader) prewarmHandles(ctx context.Context, session *sessionpool.Session) error {
	for _, part := range r.Parts {
		if _, ok := r.engine.Handles.GetHandle(part.ID, session.ID); ok {
			continue
		}
		_, err := r.engine.Handles.Refresh(ctx, part.ID, session.ID, func(ctx context.Context) (string, error) {
			doc, err := session.Client.FetchMessage(ctx, part.Channel, part.Message)
			if err != nil {
				return "", err
			}
			return doc.Handle, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// releaseIfNotPinned returns the LeaseSet to the pool unless the Reader is
// persistent or currently in batch mode.
func (r *Reader) releaseIfNotPinned() {
	r.mu.Lock()
	pinned := r.persistent || r.batchMode
	var toRelease []*sessionpool.Session
	if !pinned {
		toRelease = r.leases
		r.leases = nil
	}
	r.mu.Unlock()

	if len(toRelease) > 0 {
		r.pool.Release(toRelease)
	}
}

// Batch runs fn with the LeaseSet guaranteed pinned for its duration. Once
// fn returns, on every exit path, the LeaseSet is released unless the Reader
// is persistent; a persistent Reader keeps its leases. Used by callers issuing many
// small ReadRange calls (e.g. the MKV keyframe index helper).
func (r *Reader) Batch(ctx context.Context, fn func() error) error {
	r.mu.Lock()
	r.batchMode = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.batchMode = false
		r.mu.Unlock()
		r.releaseIfNotPinned()
	}()

	if err := r.ensureLeaseSet(); err != nil {
		return err
	}
	return fn()
}

// ForceRelease marks the Reader terminal: any in-flight ReadRange must
// observe this and abort promptly, and all Sessions return to the pool
// unconditionally.
func (r *Reader) ForceRelease() {
	r.forceReleased.Store(true)

	r.mu.Lock()
	toRelease := r.leases
	r.leases = nil
	r.persistent = false
	r.batchMode = false
	r.mu.Unlock()

	if len(toRelease) > 0 {
		r.pool.Release(toRelease)
	}
}

// IsForceReleased reports the monotonic force-release flag.
func (r *Reader) IsForceReleased() bool { return r.forceReleased.Load() }

// ActiveRanges returns the current count of in-flight ReadRange calls.
func (r *Reader) ActiveRanges() int32 { return atomic.LoadInt32(&r.activeRange) }

// LeaseCount returns the current LeaseSet size, for observability.
func (r *Reader) LeaseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.leases)
}

// RangeStream is the lazy byte iterator returned by ReadRange.
type RangeStream struct {
	reader  *Reader
	session *sessionpool.Session
	cur     int64
	end     int64

	stream   *fetch.Stream
	part     catalog.Part
	finished bool
	done     bool
}

// Next returns the next blob in the range, or io.EOF when exhausted.
func (rs *RangeStream) Next(ctx context.Context) ([]byte, error) {
	if rs.done {
		return nil, io.EOF
	}
	if rs.finished {
		rs.done = true
		rs.finish()
		return nil, io.EOF
	}

	if rs.reader.IsForceReleased() {
		rs.done = true
		rs.finish()
		return nil, io.EOF
	}

	if rs.stream == nil {
		if err := rs.openNextPart(ctx); err != nil {
			rs.done = true
			rs.finish()
			return nil, err
		}
	}

	blob, err := rs.stream.Next(ctx)
	if err == io.EOF {
		rs.stream = nil
		if rs.cur >= rs.end {
			rs.finished = true
			return rs.Next(ctx)
		}
		return rs.Next(ctx)
	}
	if err != nil {
		rs.done = true
		rs.finish()
		return nil, err
	}

	rs.cur += int64(len(blob))
	if rs.cur >= rs.end {
		rs.finished = true
	}
	return blob, nil
}

func (rs *RangeStream) openNextPart(ctx context.Context) error {
	part, localOffset, ok := rs.reader.Locate(rs.cur)
	if !ok {
		rs.finished = true
		return nil
	}
	length := rs.end - rs.cur
	if maxInPart := part.EndByte - rs.cur; length > maxInPart {
		length = maxInPart
	}
	rs.part = part
	rs.stream = rs.reader.engine.Fetch(rs.session, part, localOffset, length, rs.reader.IsForceReleased)
	return nil
}

// finish decrements the active-range counter and releases the LeaseSet if
// appropriate (§4.4.2 step 7). Each call decrements the counter, so it must
// run once per stream; Next's done flag ensures that.
func (rs *RangeStream) finish() {
	atomic.AddInt32(&rs.reader.activeRange, -1)
	rs.reader.releaseIfNotPinned()
}
