package statuslist

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	credmodels "credentials/internal/credentials/models"
	"credentials/internal/verifiable/models"
	dErrors "credentials/pkg/domain-errors"
	"credentials/pkg/testutil"
)

func TestBitstring_RoundTrip(t *testing.T) {
	bits, err := NewBitstring(1024)
	require.NoError(t, err)
	for _, idx := range []int{0, 7, 8, 513, 1023} {
		require.NoError(t, bits.Set(idx))
	}

	encoded, err := bits.Encode()
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, 1024, decoded.Len())
	assert.Equal(t, []int{0, 7, 8, 513, 1023}, decoded.SetIndexes())
	assert.False(t, decoded.Get(1))
}

func TestBitstring_MostSignificantBitFirst(t *testing.T) {
	bits, err := NewBitstring(16)
	require.NoError(t, err)
	require.NoError(t, bits.Set(0))
	require.NoError(t, bits.Set(15))
	assert.Equal(t, []byte{0x80, 0x01}, bits.bits)
}

func TestBitstring_Bounds(t *testing.T) {
	_, err := NewBitstring(12)
	assert.Error(t, err)
	_, err = NewBitstring(0)
	assert.Error(t, err)

	bits, _ := NewBitstring(8)
	assert.Error(t, bits.Set(8))
	assert.Error(t, bits.Set(-1))
	assert.False(t, bits.Get(99))
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"did:key:z6MkAbc":             "did-key-z6MkAbc",
		"did:web:example.com:issuer":  "did-web-example-com-issuer",
		"did-key-z6MkAbc":             "did-key-z6MkAbc",
		"did:web:example.com:issuer:": "did-web-example-com-issuer",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slug(in), in)
		assert.Equal(t, want, Slug(Slug(in)), "slug of slug for %s", in)
	}
}

func TestURL(t *testing.T) {
	assert.Equal(t,
		"https://credentials.example.com/verifiable_credentials/api/v1/status-list/2021/v1/did:key:z6Mk/",
		URL("https://credentials.example.com/", "did:key:z6Mk"))
}

func TestFilePublisher_ReplacesAtomically(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := NewFilePublisher(dir)

	_, err := p.Read(ctx, "did:key:z6Mk")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	require.NoError(t, p.Publish(ctx, "did:key:z6Mk", models.Document{"version": 1}))
	require.NoError(t, p.Publish(ctx, "did:key:z6Mk", models.Document{"version": 2}))

	data, err := p.Read(ctx, "did:key:z6Mk")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, float64(2), doc["version"])

	entries, err := os.ReadDir(filepath.Join(dir, "status-list", "2021", "v1"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "did-key-z6Mk.json", entries[0].Name())
}

type fakeStore struct {
	mu      sync.Mutex
	revoked map[string][]int
	issuers []string
	updates int
}

func (s *fakeStore) UpdateStatusForCredential(context.Context, uuid.UUID, credmodels.Status) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	return s.issuers, nil
}

func (s *fakeStore) RevokedStatusIndexes(_ context.Context, issuerID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked[issuerID], nil
}

type fakeIssuer struct {
	mu     sync.Mutex
	calls  map[string]int
	err    error
	active atomic.Int32
	maxAct atomic.Int32
}

func (i *fakeIssuer) IssueStatusList(_ context.Context, issuerID, encoded string) (models.Document, error) {
	n := i.active.Add(1)
	defer i.active.Add(-1)
	if n > i.maxAct.Load() {
		i.maxAct.Store(n)
	}
	time.Sleep(5 * time.Millisecond)

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.calls == nil {
		i.calls = map[string]int{}
	}
	i.calls[issuerID]++
	if i.err != nil {
		return nil, i.err
	}
	return models.Document{"issuer": issuerID, "encodedList": encoded}, nil
}

func revocation() credmodels.StatusChange {
	return credmodels.StatusChange{
		Credential: *testutil.NewUserCredentialBuilder().Revoked().Build(),
		Previous:   credmodels.StatusAwarded,
	}
}

func TestManager_RegeneratePublishesRevokedIndexes(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{revoked: map[string][]int{"did:key:a": {2, 5}}}
	publisher := NewFilePublisher(t.TempDir())
	m, err := NewManager(store, &fakeIssuer{}, publisher, 64)
	require.NoError(t, err)

	require.NoError(t, m.Regenerate(ctx, "did:key:a"))

	data, err := publisher.Read(ctx, "did:key:a")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	bits, err := Decode(doc["encodedList"].(string))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5}, bits.SetIndexes())
	assert.Equal(t, 64, bits.Len())
}

func TestManager_IndexOutsideListIsInvariantViolation(t *testing.T) {
	store := &fakeStore{revoked: map[string][]int{"did:key:a": {64}}}
	m, err := NewManager(store, &fakeIssuer{}, NewFilePublisher(t.TempDir()), 64)
	require.NoError(t, err)

	err = m.Regenerate(context.Background(), "did:key:a")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestManager_HandleStatusChangeRegeneratesOncePerIssuer(t *testing.T) {
	store := &fakeStore{issuers: []string{"did:key:b", "did:key:a", "did:key:a"}}
	issuer := &fakeIssuer{}
	m, err := NewManager(store, issuer, NewFilePublisher(t.TempDir()), 64)
	require.NoError(t, err)

	require.NoError(t, m.HandleStatusChange(context.Background(), revocation()))
	assert.Equal(t, map[string]int{"did:key:a": 1, "did:key:b": 1}, issuer.calls)
	assert.Equal(t, 1, store.updates)
}

func TestManager_HandleStatusChangeSkipsUnchangedAndCreated(t *testing.T) {
	store := &fakeStore{issuers: []string{"did:key:a"}}
	issuer := &fakeIssuer{}
	m, err := NewManager(store, issuer, NewFilePublisher(t.TempDir()), 64)
	require.NoError(t, err)

	unchanged := revocation()
	unchanged.Previous = credmodels.StatusRevoked
	require.NoError(t, m.HandleStatusChange(context.Background(), unchanged))

	created := revocation()
	created.Created = true
	require.NoError(t, m.HandleStatusChange(context.Background(), created))

	assert.Zero(t, store.updates)
	assert.Empty(t, issuer.calls)
}

func TestManager_RegenerationsForOneIssuerDoNotInterleave(t *testing.T) {
	issuer := &fakeIssuer{}
	m, err := NewManager(&fakeStore{}, issuer, NewFilePublisher(t.TempDir()), 64)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Regenerate(context.Background(), "did:key:a"))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), issuer.maxAct.Load())
	assert.Equal(t, 5, issuer.calls["did:key:a"])
}

func TestManager_SignerFailurePropagates(t *testing.T) {
	issuer := &fakeIssuer{err: dErrors.New(dErrors.CodeUnavailable, "signer down")}
	publisher := NewFilePublisher(t.TempDir())
	m, err := NewManager(&fakeStore{issuers: []string{"did:key:a"}}, issuer, publisher, 64)
	require.NoError(t, err)

	err = m.HandleStatusChange(context.Background(), revocation())
	require.Error(t, err)
	assert.True(t, dErrors.IsRetryable(err))

	_, readErr := publisher.Read(context.Background(), "did:key:a")
	assert.True(t, dErrors.HasCode(readErr, dErrors.CodeNotFound))
}

func TestNewManager_RejectsBadLength(t *testing.T) {
	_, err := NewManager(&fakeStore{}, &fakeIssuer{}, NewFilePublisher(""), 100)
	require.Error(t, err)
	var de *dErrors.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, dErrors.CodeConfiguration, de.Code)
}
