package remote

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Fake is an in-memory Client used by unit tests across the core's
// packages. It is not exported behavior for production use.
type Fake struct {
	mu sync.Mutex

	// Data maps channel -> message -> full byte content.
	Data map[string]map[string][]byte

	// Scripted is a queue of per-call overrides, consumed in order;
	// a nil entry means "behave normally".
	Scripted []func(call int) error

	handleSeq int
	calls     int
	closed    bool
}

// NewFake builds a Fake with no data; use Put to seed content.
func NewFake() *Fake {
	return &Fake{Data: make(map[string]map[string][]byte)}
}

// FakeDialer hands out Fake clients that all share the same backing data, so
// every dialed session sees content Put on any one of them. It is the
// bundled stand-in Dialer used until a real backend transport is supplied.
type FakeDialer struct {
	shared map[string]map[string][]byte
}

// NewFakeDialer builds a FakeDialer with an empty shared data set.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{shared: make(map[string]map[string][]byte)}
}

func (d *FakeDialer) Dial(ctx context.Context, credentials []byte) (Client, error) {
	return &Fake{Data: d.shared}, nil
}

// Put registers the bytes a (channel, message) pair resolves to.
func (f *Fake) Put(channel, message string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Data[channel] == nil {
		f.Data[channel] = make(map[string][]byte)
	}
	f.Data[channel][message] = content
}

func (f *Fake) FetchMessage(ctx context.Context, channel, message string) (Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.Data[channel][message]
	if !ok {
		return Document{}, fmt.Errorf("remote/fake: no such message %s/%s", channel, message)
	}
	f.handleSeq++
	handle := fmt.Sprintf("%s:%s:h%d", channel, message, f.handleSeq)
	return Document{Handle: handle, Size: int64(len(content))}, nil
}

func (f *Fake) Stream(ctx context.Context, handle string, chunkOffset, chunkLimit int64) (ChunkIterator, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	var override func(call int) error
	if call-1 < len(f.Scripted) {
		override = f.Scripted[call-1]
	}
	f.mu.Unlock()

	if override != nil {
		if err := override(call); err != nil {
			return nil, err
		}
	}

	content, handleChannel, handleMessage, err := f.resolveHandle(handle)
	if err != nil {
		return nil, err
	}
	_ = handleChannel
	_ = handleMessage

	const chunkSize = 1 << 20
	return &fakeIterator{
		content:     content,
		chunkOffset: chunkOffset,
		chunkLimit:  chunkLimit,
		chunkSize:   chunkSize,
	}, nil
}

func (f *Fake) resolveHandle(handle string) (content []byte, channel, message string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch, byMsg := range f.Data {
		for msg, content := range byMsg {
			want := fmt.Sprintf("%s:%s:", ch, msg)
			if len(handle) >= len(want) && handle[:len(want)] == want {
				return content, ch, msg, nil
			}
		}
	}
	return nil, "", "", ErrHandleExpired
}

func (f *Fake) Ping(ctx context.Context) error { return nil }

func (f *Fake) ExportState(ctx context.Context) ([]byte, error) { return []byte("fake-state"), nil }

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *Fake) Reset() {}

type fakeIterator struct {
	content     []byte
	chunkOffset int64
	chunkLimit  int64
	chunkSize   int64
	emitted     int64
}

func (it *fakeIterator) Next(ctx context.Context) ([]byte, error) {
	if it.emitted >= it.chunkLimit {
		return nil, io.EOF
	}
	start := (it.chunkOffset + it.emitted) * it.chunkSize
	if start >= int64(len(it.content)) {
		return nil, io.EOF
	}
	end := start + it.chunkSize
	if end > int64(len(it.content)) {
		end = int64(len(it.content))
	}
	it.emitted++
	return it.content[start:end], nil
}

func (it *fakeIterator) Close() error { return nil }
