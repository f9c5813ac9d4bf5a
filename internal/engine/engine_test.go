package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chongzixuan-ai/logminer-qa/internal/config"
	"github.com/chongzixuan-ai/logminer-qa/internal/privacy"
	"github.com/chongzixuan-ai/logminer-qa/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:          dir,
		HashAlgorithm:    "sha256",
		HashSecret:       testutil.TestHashSecret,
		SigningKey:       testutil.TestSigningKey,
		TokenPrefix:      config.DefaultTokenPrefix,
		TokenSuffix:      config.DefaultTokenSuffix,
		TokenStorePath:   filepath.Join(dir, "tokens.json"),
		PersistBatchSize: 100,
		Privacy:          privacy.DefaultConfig(),
	}
}

const sampleLog = `{"user": {"email": "john@example.com"}, "msg": "payment ok"}
{"msg": "card 4111111111111111 declined"}
{"msg": "card 4111111111111111 retried"}
`

func TestRunJSONLines(t *testing.T) {
	e, err := New(testConfig(t), WithAuditTrail())
	require.NoError(t, err)
	defer e.Close()

	var out bytes.Buffer
	rec, err := e.RunJSONLines(context.Background(), "payments.log", strings.NewReader(sampleLog), &out)
	require.NoError(t, err)

	assert.Equal(t, 3, rec.RecordsProcessed)
	assert.Equal(t, 3, rec.RedactionsTotal)
	assert.Equal(t, int64(1), rec.CategoryCounts["EMAIL"])
	assert.Equal(t, int64(2), rec.CategoryCounts["CREDIT_CARD"])
	assert.NotEmpty(t, rec.InputHash)
	assert.NotEmpty(t, rec.OutputHash)
	assert.NotEmpty(t, rec.Signature)

	// Output contains no raw PII.
	assert.NotContains(t, out.String(), "john@example.com")
	assert.NotContains(t, out.String(), "4111111111111111")

	// The same card number tokenizes identically in both records.
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	var second, third map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &third))
	tokenOf := func(m map[string]any) string {
		msg := m["msg"].(string)
		return msg[strings.Index(msg, "["):strings.Index(msg, "]")+1]
	}
	assert.Equal(t, tokenOf(second), tokenOf(third))

	// The run is audited and verifiable.
	ok, err := e.Audit().Verify(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunJSONLines_TokensStableAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	run := func() string {
		e, err := New(cfg)
		require.NoError(t, err)
		defer e.Close()

		var out bytes.Buffer
		_, err = e.RunJSONLines(ctx, "a.log", strings.NewReader(`{"email": "john@example.com"}`+"\n"), &out)
		require.NoError(t, err)
		return out.String()
	}

	first := run()
	second := run()
	assert.Equal(t, first, second, "restart must re-issue identical tokens")
}

func TestRunJSONLines_WindowReporterReceivesCounts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Privacy.Enabled = false // pass-through for assertable counts
	cfg.Privacy.WindowSeconds = 3600

	var reported map[string]int64
	e, err := New(cfg, WithWindowReporter(func(noisy map[string]int64) { reported = noisy }))
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = e.RunJSONLines(context.Background(), "a.log", strings.NewReader(sampleLog), &out)
	require.NoError(t, err)

	require.NoError(t, e.Close()) // Stop flushes the final window

	assert.Equal(t, int64(2), reported["CREDIT_CARD"])
	assert.Equal(t, int64(1), reported["EMAIL"])
}

func TestNew_InvalidHashAlgorithm(t *testing.T) {
	cfg := testConfig(t)
	cfg.HashAlgorithm = "rot13"

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field hasher")
}

func TestNew_MalformedTokenStoreIsFatal(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.TokenStorePath, []byte("{broken"), 0o600))

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token store")
}
