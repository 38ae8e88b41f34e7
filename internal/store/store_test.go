package store_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vincentbai/sitetrace-agent/internal/blob"
	"github.com/vincentbai/sitetrace-agent/internal/codec"
	"github.com/vincentbai/sitetrace-agent/internal/models"
	"github.com/vincentbai/sitetrace-agent/internal/store"
)

var fixedNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func setupTestStore(t *testing.T, backend blob.Backend, opts ...store.Option) (*store.Store, *codec.Codec) {
	t.Helper()
	c, err := codec.New("store-test-secret")
	require.NoError(t, err)
	opts = append([]store.Option{store.WithClock(func() time.Time { return fixedNow })}, opts...)
	return store.New(backend, c, zap.NewNop(), opts...), c
}

func sessionIDs(sessions []models.Session) []string {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.SessionID
	}
	return ids
}

func TestReadAllEmptyBackend(t *testing.T) {
	t.Parallel()
	s, _ := setupTestStore(t, blob.NewMemory())

	sessions, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, sessions)
	assert.Empty(t, sessions)
}

func TestAppendPersistsEncrypted(t *testing.T) {
	t.Parallel()
	backend := blob.NewMemory()
	s, c := setupTestStore(t, backend)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, models.Session{SessionID: "a", Page: "/"}))

	raw, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"sessionId"`, "blob must not be plaintext")

	var decoded []models.Session
	require.NoError(t, c.Decrypt(string(raw), &decoded))
	assert.Equal(t, []string{"a"}, sessionIDs(decoded))
}

func TestAppendEvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()
	s, _ := setupTestStore(t, blob.NewMemory())
	ctx := context.Background()

	for i := 1; i <= 1001; i++ {
		require.NoError(t, s.Append(ctx, models.Session{SessionID: fmt.Sprintf("s-%d", i)}))
	}

	sessions, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, store.DefaultCapacity)
	assert.Equal(t, "s-2", sessions[0].SessionID)
	assert.Equal(t, "s-1001", sessions[len(sessions)-1].SessionID)
	assert.NotContains(t, sessionIDs(sessions), "s-1")
}

func TestAppendCustomCapacity(t *testing.T) {
	t.Parallel()
	s, _ := setupTestStore(t, blob.NewMemory(), store.WithCapacity(3))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.Append(ctx, models.Session{SessionID: id}))
	}

	sessions, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d", "e"}, sessionIDs(sessions))
	assert.Equal(t, 3, s.Capacity())
}

func TestConcurrentAppendsKeepEverySession(t *testing.T) {
	t.Parallel()
	backend, err := blob.NewFile(t.TempDir() + "/store.enc")
	require.NoError(t, err)
	s, _ := setupTestStore(t, backend)
	ctx := context.Background()

	const writers = 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Append(ctx, models.Session{SessionID: fmt.Sprintf("w-%d", i)}))
		}(i)
	}
	wg.Wait()

	sessions, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, writers)
	ids := sessionIDs(sessions)
	for i := 0; i < writers; i++ {
		assert.Contains(t, ids, fmt.Sprintf("w-%d", i))
	}
}

func TestReadAllCorruptBlob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := blob.NewMemory()
	s, c := setupTestStore(t, backend)

	token, err := c.Encrypt([]models.Session{{SessionID: "x"}})
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(token)
	require.NoError(t, err)
	raw[codec.NonceSize] ^= 0x01 // flip a tag byte
	require.NoError(t, backend.Save(ctx, []byte(base64.StdEncoding.EncodeToString(raw))))

	sessions, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestReadAllGarbage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := blob.NewMemory()
	require.NoError(t, backend.Save(ctx, []byte("this is not a token")))
	s, _ := setupTestStore(t, backend)

	sessions, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestAppendKeepsUndecodableBlob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := blob.NewMemory()

	rotated, err := codec.New("previous-secret")
	require.NoError(t, err)
	old := store.New(backend, rotated, zap.NewNop())
	require.NoError(t, old.Append(ctx, models.Session{SessionID: "old"}))
	before, err := backend.Load(ctx)
	require.NoError(t, err)

	s, _ := setupTestStore(t, backend)
	err = s.Append(ctx, models.Session{SessionID: "new"})
	assert.ErrorIs(t, err, store.ErrPersistence)
	assert.ErrorIs(t, err, store.ErrUndecodable)

	after, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "stored blob must not be overwritten")

	sessions, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	sessions, err = old.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, sessionIDs(sessions))
}

func TestReadAllLegacyPlaintext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := blob.NewMemory()
	require.NoError(t, backend.Save(ctx, []byte(`[{"sessionId":"legacy","startTime":1700000000000,"timeOnScreen":12}]`+"\n")))
	s, _ := setupTestStore(t, backend)

	sessions, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "legacy", sessions[0].SessionID)
	assert.Equal(t, int64(12), sessions[0].TimeOnScreen)

	// The next append re-encrypts the legacy data.
	require.NoError(t, s.Append(ctx, models.Session{SessionID: "new"}))
	sessions, err = s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy", "new"}, sessionIDs(sessions))
}

type failingBackend struct {
	blob.Backend
	loadErr error
	saveErr error
	saves   int
}

func (f *failingBackend) Load(ctx context.Context) ([]byte, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.Backend.Load(ctx)
}

func (f *failingBackend) Save(ctx context.Context, payload []byte) error {
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Backend.Save(ctx, payload)
}

func TestAppendLoadFailureAbortsWithoutWriting(t *testing.T) {
	t.Parallel()
	backend := &failingBackend{Backend: blob.NewMemory(), loadErr: errors.New("disk gone")}
	s, _ := setupTestStore(t, backend)

	err := s.Append(context.Background(), models.Session{SessionID: "a"})
	assert.ErrorIs(t, err, store.ErrPersistence)
	assert.Zero(t, backend.saves)

	_, err = s.ReadAll(context.Background())
	assert.ErrorIs(t, err, store.ErrPersistence)
}

func TestAppendSaveFailureKeepsPreviousState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := &failingBackend{Backend: blob.NewMemory()}
	s, _ := setupTestStore(t, backend)
	require.NoError(t, s.Append(ctx, models.Session{SessionID: "kept"}))

	backend.saveErr = errors.New("read-only filesystem")
	err := s.Append(ctx, models.Session{SessionID: "lost"})
	assert.ErrorIs(t, err, store.ErrPersistence)

	backend.saveErr = nil
	sessions, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, sessionIDs(sessions))
}

func TestLen(t *testing.T) {
	t.Parallel()
	s, _ := setupTestStore(t, blob.NewMemory())
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, models.Session{}))
	require.NoError(t, s.Append(ctx, models.Session{}))

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
