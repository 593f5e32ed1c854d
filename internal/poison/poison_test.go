package poison

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knightpfhor/lokad-cloud/internal/codec"
	"github.com/knightpfhor/lokad-cloud/internal/overflow"
)

type fakeBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{data: make(map[string][]byte)} }

func (f *fakeBlobs) key(container, name string) string { return container + "/" + name }

func (f *fakeBlobs) EnsureContainer(_ context.Context, _ string) error { return nil }

func (f *fakeBlobs) Put(_ context.Context, container, name string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[f.key(container, name)] = append([]byte(nil), value...)
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, container, name string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[f.key(container, name)]
	return v, ok, nil
}

func (f *fakeBlobs) List(_ context.Context, container, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	full := container + "/" + prefix
	var out []string
	for k := range f.data {
		if len(k) >= len(full) && k[:len(full)] == full {
			out = append(out, k[len(container)+1:])
		}
	}
	return out, nil
}

func (f *fakeBlobs) Delete(_ context.Context, container, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, f.key(container, name))
	return nil
}

func newStore() (*Store, *fakeBlobs) {
	blobs := newFakeBlobs()
	ov := overflow.New(blobs, codec.YAMLSerializer{})
	return New(blobs, codec.YAMLSerializer{}, ov), blobs
}

func TestPersistListGetDelete(t *testing.T) {
	store, _ := newStore()
	ctx := context.Background()
	insertedAt := time.Now().Add(-time.Hour)

	key, err := store.Persist(ctx, "failing-messages", "orders", insertedAt, 6, "too many trials", []byte("payload"))
	require.NoError(t, err)

	keys, err := store.List(ctx, "failing-messages")
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	res, ok, err := store.Get(ctx, "failing-messages", key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "orders", res.Record.QueueName)
	assert.Equal(t, int64(6), res.Record.DequeueCount)
	assert.True(t, res.IsDataAvailable)

	require.NoError(t, store.Delete(ctx, "failing-messages", key))

	_, ok, err = store.Get(ctx, "failing-messages", key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetUnavailableWhenOverflowBlobMissing(t *testing.T) {
	store, blobs := newStore()
	ctx := context.Background()
	ov := overflow.New(blobs, codec.YAMLSerializer{})

	wrapped, err := ov.Wrap(ctx, "orders", []byte("oversize payload"))
	require.NoError(t, err)

	w, ok := ov.TryUnwrap(wrapped)
	require.True(t, ok)
	require.NoError(t, ov.DeleteBlob(ctx, w))

	key, err := store.Persist(ctx, "failing-messages", "orders", time.Now(), 1, "oversize", wrapped)
	require.NoError(t, err)

	res, ok, err := store.Get(ctx, "failing-messages", key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, res.IsDataAvailable)
}

func TestRestoreReturnsRawBytesAndDeletesRecord(t *testing.T) {
	store, _ := newStore()
	ctx := context.Background()

	key, err := store.Persist(ctx, "failing-messages", "orders", time.Now(), 1, "reason", []byte("payload"))
	require.NoError(t, err)

	queue, raw, err := store.Restore(ctx, "failing-messages", key)
	require.NoError(t, err)
	assert.Equal(t, "orders", queue)
	assert.Equal(t, []byte("payload"), raw)

	_, ok, err := store.Get(ctx, "failing-messages", key)
	require.NoError(t, err)
	assert.False(t, ok, "restore must delete the record")
}

func TestListKeysRoundTripThroughGet(t *testing.T) {
	store, _ := newStore()
	ctx := context.Background()

	_, err := store.Persist(ctx, "store-a", "orders", time.Now(), 1, "r1", []byte("one"))
	require.NoError(t, err)
	_, err = store.Persist(ctx, "store-a", "orders", time.Now(), 1, "r2", []byte("two"))
	require.NoError(t, err)

	keys, err := store.List(ctx, "store-a")
	require.NoError(t, err)
	require.Len(t, keys, 2)

	for _, k := range keys {
		_, ok, err := store.Get(ctx, "store-a", k)
		require.NoError(t, err)
		assert.True(t, ok, "every key returned by List must resolve directly through Get")
	}
}
