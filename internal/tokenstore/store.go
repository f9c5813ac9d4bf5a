// Package tokenstore keeps a stable mapping between original sensitive values
// and their sanitized tokens, so recurring identifiers continue to correlate
// across log lines without exposing raw PII.
//
// The mapping is persisted as a single JSON object (sorted keys, rewritten
// wholesale) so token assignments survive process restarts. Because the file
// maps plaintext originals to tokens, it must live on storage with the same
// access controls as the raw logs themselves.
package tokenstore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

const (
	// DefaultTokenPrefix and DefaultTokenSuffix delimit tokens in sanitized
	// output, e.g. [TOKEN_AB12CD34EF56AB12CD34EF56].
	DefaultTokenPrefix = "[TOKEN_"
	DefaultTokenSuffix = "]"

	// DefaultDigestSize is the BLAKE2b digest width in bytes. 12 bytes gives
	// 24 hex characters per token; collisions are assumed negligible at this
	// width and are not otherwise handled.
	DefaultDigestSize = 12

	// DefaultBatchSize is the number of newly minted tokens that triggers an
	// automatic persist.
	DefaultBatchSize = 100
)

// Store is a thread-safe, optionally persisted mapping from original value to
// stable token. One original value always yields exactly one token for the
// lifetime of the store, including across a reload from persisted state.
type Store struct {
	prefix     string
	suffix     string
	digestSize int
	batchSize  int
	path       string

	tokenRe *regexp.Regexp

	mu       sync.Mutex
	mapping  map[string]string
	dirty    int
	fileLock *flock.Flock
}

// Option configures a Store.
type Option func(*Store)

// WithPath enables persistence at the given file path. The parent directory
// is created if needed, and existing state at the path is loaded.
func WithPath(path string) Option {
	return func(s *Store) { s.path = path }
}

// WithTokenFormat overrides the token prefix and suffix.
func WithTokenFormat(prefix, suffix string) Option {
	return func(s *Store) { s.prefix, s.suffix = prefix, suffix }
}

// WithBatchSize overrides how many new tokens are minted between automatic
// persists. Values < 1 are coerced to 1 (persist on every mint).
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n < 1 {
			n = 1
		}
		s.batchSize = n
	}
}

// WithDigestSize overrides the token digest width in bytes (1-64).
func WithDigestSize(n int) Option {
	return func(s *Store) { s.digestSize = n }
}

// New creates a Store. When a persistence path is configured and a file
// already exists there, it is loaded as the initial mapping; a malformed file
// is a fatal construction error: silently starting empty would break
// referential stability for previously issued tokens.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		prefix:     DefaultTokenPrefix,
		suffix:     DefaultTokenSuffix,
		digestSize: DefaultDigestSize,
		batchSize:  DefaultBatchSize,
		mapping:    make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}

	if s.digestSize < 1 || s.digestSize > blake2b.Size {
		return nil, fmt.Errorf("digest size must be 1-%d bytes (got %d)", blake2b.Size, s.digestSize)
	}

	s.tokenRe = regexp.MustCompile(regexp.QuoteMeta(s.prefix) + "[0-9A-F]+" + regexp.QuoteMeta(s.suffix))

	if s.path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, fmt.Errorf("creating token store directory: %w", err)
	}

	// Advisory lock against concurrent processes sharing the same store file.
	// A second process mutating the mapping would silently lose updates on
	// the next wholesale rewrite.
	s.fileLock = flock.New(s.path + ".lock")
	locked, err := s.fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking token store %s: %w", s.path, err)
	}
	if !locked {
		return nil, fmt.Errorf("token store %s is locked by another process", s.path)
	}

	if err := s.load(); err != nil {
		_ = s.fileLock.Unlock()
		return nil, err
	}

	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading token store %s: %w", s.path, err)
	}

	mapping := make(map[string]string)
	if err := json.Unmarshal(data, &mapping); err != nil {
		return fmt.Errorf("token store %s is malformed, refusing to start empty: %w", s.path, err)
	}
	s.mapping = mapping

	log.Debug().Str("path", s.path).Int("tokens", len(mapping)).Msg("token store loaded")
	return nil
}

// makeToken derives the token string for a value. Deterministic, so a re-run
// over the same source data re-mints identical tokens.
func (s *Store) makeToken(value string) string {
	h, _ := blake2b.New(s.digestSize, nil)
	h.Write([]byte(value))
	digest := strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
	return s.prefix + digest + s.suffix
}

// GetOrCreateToken returns the stable token for value, minting one on first
// sight. The digest is computed outside the critical section; map mutation and
// the batch-persist decision are atomic together so a lost update cannot issue
// two tokens for one value.
func (s *Store) GetOrCreateToken(value string) (string, error) {
	candidate := s.makeToken(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if token, ok := s.mapping[value]; ok {
		return token, nil
	}

	s.mapping[value] = candidate
	s.dirty++
	if s.dirty >= s.batchSize {
		if err := s.persistLocked(); err != nil {
			return "", err
		}
		s.dirty = 0
	}
	return candidate, nil
}

// Flush persists all pending assignments. Safe to call when nothing is
// pending. Callers must invoke Flush (or Close) once after the last
// GetOrCreateToken call to guarantee durability.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dirty == 0 {
		return nil
	}
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.dirty = 0
	return nil
}

// Close flushes pending assignments and releases the file lock.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	if s.fileLock != nil {
		return s.fileLock.Unlock()
	}
	return nil
}

// Len returns the number of distinct values with assigned tokens.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mapping)
}

// TokenPattern returns a regexp matching any token this store mints. The
// sanitization layer uses it to exclude already-issued tokens from
// re-matching, so sanitizing sanitized output is a no-op.
func (s *Store) TokenPattern() *regexp.Regexp {
	return s.tokenRe
}

// Tokens returns a copy of the current mapping, for reporting and tests.
func (s *Store) Tokens() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.mapping))
	for k, v := range s.mapping {
		out[k] = v
	}
	return out
}

// persistLocked writes the whole mapping to disk. Must be called with s.mu
// held. The write goes to a temp file in the same directory which is fsynced
// and atomically renamed over the target, so a crash mid-write never leaves
// partial state behind.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	// encoding/json sorts map keys, giving deterministic diffs of the file.
	data, err := json.MarshalIndent(s.mapping, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing token store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tokens-*.json")
	if err != nil {
		return fmt.Errorf("creating token store temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing token store %s: %w", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing token store %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing token store temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing token store %s: %w", s.path, err)
	}
	return nil
}
