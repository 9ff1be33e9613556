package vreader

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/relaystream/core/internal/catalog"
	"github.com/relaystream/core/internal/chunkcache"
	"github.com/relaystream/core/internal/fetch"
	"github.com/relaystream/core/internal/remote"
	"github.com/relaystream/core/internal/sessionpool"
	"github.com/stretchr/testify/require"
)

type fakeDialer struct{}

func (fakeDialer) Dial(ctx context.Context, credentials []byte) (remote.Client, error) {
	return remote.NewFake(), nil
}

func makeContent(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 256)
	}
	return b
}

func drain(t *testing.T, ctx context.Context, rs *RangeStream) []byte {
	t.Helper()
	var buf bytes.Buffer
	for {
		blob, err := rs.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		buf.Write(blob)
	}
	return buf.Bytes()
}

func newTestReader(t *testing.T, parts []catalog.Part, totalSize int64, dataByChannel map[string][]byte) (*Reader, *sessionpool.Pool) {
	t.Helper()
	pool := sessionpool.New(fakeDialer{})
	require.NoError(t, pool.AddAccount(context.Background(), sessionpool.Account{
		ID: "a1", Tier: sessionpool.TierStandard, Status: sessionpool.StatusActive,
	}))

	engine := fetch.NewEngine(chunkcache.NewChunkCache(), chunkcache.NewHandleCache(), pool)
	media := &catalog.Media{ID: 1, TotalSize: totalSize, Parts: parts}
	reader := New(pool, engine, media, false)
	return reader, pool
}

func TestReadRangeCrossPartSeam(t *testing.T) {
	c := fetch.ChunkSize
	part0Content := makeContent(2 * c)
	part1Content := makeContent(2 * c)

	parts := []catalog.Part{
		{ID: 1, MediaID: 1, Index: 0, Size: int64(2 * c), StartByte: 0, EndByte: int64(2 * c), Channel: "ch", Message: "m0"},
		{ID: 2, MediaID: 1, Index: 1, Size: int64(2 * c), StartByte: int64(2 * c), EndByte: int64(4 * c), Channel: "ch", Message: "m1"},
	}
	data := map[string][]byte{"ch/m0": part0Content, "ch/m1": part1Content}

	reader, pool := newTestReader(t, parts, int64(4*c), data)
	defer pool.Shutdown()

	// Seed fake backend content on every dialed session's client directly.
	seedAllSessions(t, pool, parts, data)

	ctx := context.Background()
	start := int64(2*c - 10)
	end := int64(2*c + 10)
	rs, err := reader.ReadRange(ctx, start, end)
	require.NoError(t, err)
	got := drain(t, ctx, rs)

	want := append(append([]byte{}, part0Content[2*c-10:]...), part1Content[:10]...)
	require.Equal(t, want, got)
}

func seedAllSessions(t *testing.T, pool *sessionpool.Pool, parts []catalog.Part, data map[string][]byte) {
	t.Helper()
	sessions := pool.Acquire(100)
	for _, sess := range sessions {
		fake, ok := sess.Client.(*remote.Fake)
		require.True(t, ok)
		for _, p := range parts {
			fake.Put(p.Channel, p.Message, data[p.Channel+"/"+p.Message])
		}
	}
	pool.Release(sessions)
}

func TestReadRangeExactSinglePart(t *testing.T) {
	c := fetch.ChunkSize
	content := makeContent(3 * c)
	parts := []catalog.Part{
		{ID: 1, MediaID: 1, Index: 0, Size: int64(3 * c), StartByte: 0, EndByte: int64(3 * c), Channel: "ch", Message: "m0"},
	}
	data := map[string][]byte{"ch/m0": content}

	reader, pool := newTestReader(t, parts, int64(3*c), data)
	defer pool.Shutdown()
	seedAllSessions(t, pool, parts, data)

	ctx := context.Background()
	rs, err := reader.ReadRange(ctx, 0, int64(3*c))
	require.NoError(t, err)
	got := drain(t, ctx, rs)
	require.Equal(t, content, got)
}

func TestForceReleaseStopsFurtherReads(t *testing.T) {
	c := fetch.ChunkSize
	content := makeContent(2 * c)
	parts := []catalog.Part{
		{ID: 1, MediaID: 1, Index: 0, Size: int64(2 * c), StartByte: 0, EndByte: int64(2 * c), Channel: "ch", Message: "m0"},
	}
	data := map[string][]byte{"ch/m0": content}

	reader, pool := newTestReader(t, parts, int64(2*c), data)
	defer pool.Shutdown()
	seedAllSessions(t, pool, parts, data)

	reader.ForceRelease()
	require.True(t, reader.IsForceReleased())

	ctx := context.Background()
	rs, err := reader.ReadRange(ctx, 0, int64(c))
	require.NoError(t, err)
	got := drain(t, ctx, rs)
	require.Empty(t, got, "force-released reader must yield zero bytes")
}

func TestNoWorkersWhenPoolEmpty(t *testing.T) {
	pool := sessionpool.New(fakeDialer{})
	engine := fetch.NewEngine(chunkcache.NewChunkCache(), chunkcache.NewHandleCache(), pool)
	media := &catalog.Media{ID: 1, TotalSize: 100, Parts: []catalog.Part{
		{ID: 1, MediaID: 1, Index: 0, Size: 100, StartByte: 0, EndByte: 100, Channel: "ch", Message: "m0"},
	}}
	reader := New(pool, engine, media, false)

	_, err := reader.ReadRange(context.Background(), 0, 10)
	require.ErrorIs(t, err, ErrNoWorkers)
}
