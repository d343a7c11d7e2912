package redis

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inboxpilot/provisioner/internal/domain"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) *StateStore {
	t.Helper()

	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	store, err := New(context.Background(), Opts{
		URL:       url,
		KeyPrefix: "provisioner-test:" + xid.New().String() + ":",
		TTL:       ttl,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStateStore_Key(t *testing.T) {
	store := NewWithClient(nil, Opts{})
	assert.Equal(t, DefaultKeyPrefix+"abc", store.key("abc"))
}

func TestStateStore_ConsumeOnce(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.CreateOAuthState(ctx, domain.OAuthState{State: "s1", UserID: "u1", TemplateID: "t1"}))
	assert.ErrorIs(t, store.CreateOAuthState(ctx, domain.OAuthState{State: "s1", UserID: "u2"}), domain.ErrOAuthStateExists)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			row, err := store.ConsumeOAuthState(ctx, "s1")
			if err == nil {
				assert.Equal(t, "u1", row.UserID)
				assert.Equal(t, "t1", row.TemplateID)
				successes.Add(1)
				return
			}
			assert.ErrorIs(t, err, domain.ErrOAuthStateNotFound)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
}

func TestStateStore_Expiry(t *testing.T) {
	store := newTestStore(t, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, store.CreateOAuthState(ctx, domain.OAuthState{State: "s1", UserID: "u1", TemplateID: "t1"}))
	time.Sleep(200 * time.Millisecond)

	_, err := store.ConsumeOAuthState(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrOAuthStateNotFound)
}
