// Package remote defines the boundary to the chat/messaging backend that
// holds media bytes. The core never implements this protocol; it only
// consumes an implementation handed to it at startup.
package remote

import (
	"context"
	"errors"
)

// ErrHandleExpired is returned by Stream when the handle passed to it is no
// longer valid on the session it was issued against.
var ErrHandleExpired = errors.New("remote: handle expired")

// ErrRateLimited is returned by FetchMessage or Stream when the backend asks
// the caller to back off. Wait is always > 0.
type ErrRateLimited struct {
	Wait int // seconds
}

func (e *ErrRateLimited) Error() string { return "remote: rate limited" }

// ErrDesync signals that the session's transport state has drifted and
// should be dropped before the next attempt.
var ErrDesync = errors.New("remote: session desynchronized")

// Document describes the handle and size minted by FetchMessage.
type Document struct {
	Handle string
	Size   int64
}

// Client is the per-session RPC surface a Session wraps. Implementations are
// not required to be safe for concurrent use by multiple goroutines on the
// same session — the session pool's exclusive-lease invariant guarantees
// only one caller ever holds a given session at a time.
type Client interface {
	// FetchMessage mints or refreshes a handle for (channel, message).
	FetchMessage(ctx context.Context, channel, message string) (Document, error)

	// Stream returns a ChunkIterator yielding up to chunkLimit blobs of up
	// to 1 MiB each, starting at chunkOffset. It may terminate before
	// chunkLimit blobs have been produced.
	Stream(ctx context.Context, handle string, chunkOffset, chunkLimit int64) (ChunkIterator, error)

	// Ping is a keep-alive no-op.
	Ping(ctx context.Context) error

	// ExportState returns an opaque blob used to persist session
	// credentials across restarts.
	ExportState(ctx context.Context) ([]byte, error)

	// Close releases any transport resources. Reset drops cached transport
	// state (e.g. after a desync signal) without destroying the session.
	Close() error
	Reset()
}

// ChunkIterator yields successive chunk blobs from a Stream call.
type ChunkIterator interface {
	// Next returns the next chunk, or io.EOF when the stream is exhausted.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer constructs a Client for one account's credentials. One Dialer call
// corresponds to one Session.
type Dialer interface {
	Dial(ctx context.Context, credentials []byte) (Client, error)
}
