package catalog

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	_, err = db.Exec(`INSERT INTO media (id, total_size) VALUES (1, 3145728)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO part (id, media_id, idx, size, start_byte, end_byte, channel, message, handle)
		VALUES (1, 1, 0, 1572864, 0, 1572864, 'chan-a', 'msg-1', 'h1'),
		       (2, 1, 1, 1572864, 1572864, 3145728, 'chan-a', 'msg-2', 'h2')`)
	require.NoError(t, err)

	return &Store{db: db}
}

func TestGetMedia(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	media, err := store.GetMedia(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(3145728), media.TotalSize)
	require.Len(t, media.Parts, 2)
	require.Equal(t, 0, media.Parts[0].Index)
	require.Equal(t, int64(1572864), media.Parts[1].StartByte)
}

func TestGetMediaNotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetMedia(context.Background(), 999)
	require.ErrorIs(t, err, ErrNotFound)
}
