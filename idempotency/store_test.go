package idempotency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_CreateAndGet(t *testing.T) {
	store := NewInMemoryStore(0)

	record, err := store.Create("register")
	require.NoError(t, err)
	assert.Equal(t, "register", record.Key)
	assert.Equal(t, StatusPending, record.Status)

	got, err := store.Get("register")
	require.NoError(t, err)
	assert.Equal(t, record.Key, got.Key)
	assert.Equal(t, record.CreatedAt, got.CreatedAt)
}

func TestInMemoryStore_CreateDuplicate(t *testing.T) {
	store := NewInMemoryStore(0)

	_, err := store.Create("transfer")
	require.NoError(t, err)

	existing, err := store.Create("transfer")
	assert.ErrorIs(t, err, ErrDuplicateKey)
	require.NotNil(t, existing)
	assert.Equal(t, "transfer", existing.Key)
}

func TestInMemoryStore_GetNotFound(t *testing.T) {
	store := NewInMemoryStore(0)

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestInMemoryStore_Update(t *testing.T) {
	store := NewInMemoryStore(0)

	record, err := store.Create("update")
	require.NoError(t, err)

	record.Status = StatusSubmitted
	record.TxHash = common.HexToHash("0x1234")
	require.NoError(t, store.Update(record))

	got, err := store.Get("update")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, got.Status)
	assert.Equal(t, common.HexToHash("0x1234"), got.TxHash)

	assert.ErrorIs(t, store.Update(&Record{Key: "missing"}), ErrKeyNotFound)
	assert.Error(t, store.Update(nil))
}

func TestInMemoryStore_DeleteReleasesKey(t *testing.T) {
	store := NewInMemoryStore(0)

	_, err := store.Create("register")
	require.NoError(t, err)
	require.NoError(t, store.Delete("register"))

	_, err = store.Create("register")
	assert.NoError(t, err)

	// deleting an unknown key is not an error
	assert.NoError(t, store.Delete("never-created"))
}

func TestInMemoryStore_Expiry(t *testing.T) {
	store := NewInMemoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	_, err := store.Create("register")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	_, err = store.Get("register")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = store.Create("register")
	assert.NoError(t, err)
}

func TestInMemoryStore_ConcurrentCreate(t *testing.T) {
	store := NewInMemoryStore(0)

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Create("register"); err == nil {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "submitted", StatusSubmitted.String())
	assert.Equal(t, "confirmed", StatusConfirmed.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "unknown", Status(42).String())
}
