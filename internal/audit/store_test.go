package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chongzixuan-ai/logminer-qa/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), testutil.TestSigningKey)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &Record{
		Source:           "payments.log",
		RecordsProcessed: 120,
		RedactionsTotal:  34,
		CategoryCounts:   map[string]int64{"CREDIT_CARD": 20, "EMAIL": 14},
		PrivacyBudget:    "ε=1.00, δ=1.0e-05 (enabled)",
		InputHash:        "aabb",
		OutputHash:       "ccdd",
	}
	require.NoError(t, s.Store(ctx, rec))
	assert.NotEmpty(t, rec.ID, "ID is assigned on store")
	assert.NotEmpty(t, rec.Signature)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "payments.log", got.Source)
	assert.Equal(t, 120, got.RecordsProcessed)
	assert.Equal(t, int64(20), got.CategoryCounts["CREDIT_CARD"])
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestVerify(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &Record{Source: "a.log", RecordsProcessed: 1}
	require.NoError(t, s.Store(ctx, rec))

	ok, err := s.Verify(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, ok, "freshly stored record must verify")
}

func TestList_FiltersBySource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, &Record{Source: "a.log"}))
	require.NoError(t, s.Store(ctx, &Record{Source: "b.log"}))
	require.NoError(t, s.Store(ctx, &Record{Source: "a.log"}))

	results, err := s.List(ctx, "a.log", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = s.List(ctx, "", time.Time{}, time.Time{}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2, "limit applies")
}

func TestCategoryTotals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, &Record{
		Source:         "a.log",
		CategoryCounts: map[string]int64{"EMAIL": 3, "SSN": 1},
	}))
	require.NoError(t, s.Store(ctx, &Record{
		Source:         "b.log",
		CategoryCounts: map[string]int64{"EMAIL": 2},
	}))

	totals, err := s.CategoryTotals(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"EMAIL": 5, "SSN": 1}, totals)
}

func TestQueriesOnClosedStoreError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Store(context.Background(), &Record{Source: "a.log"}))
	require.NoError(t, s.Close())

	_, err := s.List(context.Background(), "", time.Time{}, time.Time{}, 0)
	require.Error(t, err, "query errors must not read as an empty result set")

	_, err = s.CategoryTotals(context.Background(), time.Time{}, time.Time{})
	require.Error(t, err)
}

func TestNewSigner_KeyValidation(t *testing.T) {
	_, err := NewSigner("short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 bytes")

	_, err = NewSigner(testutil.TestSigningKey)
	require.NoError(t, err)

	// 64 hex chars decode to exactly 32 bytes.
	_, err = NewSigner("aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899")
	require.NoError(t, err)
}

func TestSigner_SignAndVerify(t *testing.T) {
	signer, err := NewSigner(testutil.TestSigningKey)
	require.NoError(t, err)

	sig, err := signer.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.Contains(t, sig, "hmac-sha256:")

	assert.True(t, signer.Verify([]byte("payload"), sig))
	assert.False(t, signer.Verify([]byte("tampered"), sig))
}
