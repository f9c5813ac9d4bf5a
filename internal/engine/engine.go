// Package engine assembles the sanitization pipeline from operator
// configuration: pattern detector, token store, sanitization layer,
// differential-privacy aggregator and the signed audit trail.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chongzixuan-ai/logminer-qa/internal/audit"
	"github.com/chongzixuan-ai/logminer-qa/internal/config"
	"github.com/chongzixuan-ai/logminer-qa/internal/detector"
	lmotel "github.com/chongzixuan-ai/logminer-qa/internal/otel"
	"github.com/chongzixuan-ai/logminer-qa/internal/privacy"
	"github.com/chongzixuan-ai/logminer-qa/internal/sanitize"
	"github.com/chongzixuan-ai/logminer-qa/internal/tokenstore"
)

var tracer = lmotel.Tracer("github.com/chongzixuan-ai/logminer-qa/internal/engine")

// Engine owns one sanitization pipeline run. Construct once per process,
// Close at shutdown to flush pending token assignments.
type Engine struct {
	Layer      *sanitize.Layer
	Store      *tokenstore.Store
	Aggregator *privacy.Aggregator

	auditStore *audit.Store
	reporter   *privacy.WindowReporter
}

// Option configures optional engine collaborators.
type Option func(*options)

type options struct {
	withAudit bool
	report    privacy.ReportFunc
}

// WithAuditTrail enables the HMAC-signed SQLite audit trail at
// cfg.AuditDBPath().
func WithAuditTrail() Option {
	return func(o *options) { o.withAudit = true }
}

// WithWindowReporter starts a periodic reporter that flushes noised
// per-category redaction counts to the callback every aggregation window.
func WithWindowReporter(report privacy.ReportFunc) Option {
	return func(o *options) { o.report = report }
}

// New builds an Engine from operator configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg.WarnIfDefaults()

	var detOpts []detector.Option
	if cfg.PatternFile != "" {
		detOpts = append(detOpts, detector.WithPatternFile(cfg.PatternFile))
	}
	det, err := detector.New(detOpts...)
	if err != nil {
		return nil, fmt.Errorf("building detector: %w", err)
	}

	storeOpts := []tokenstore.Option{
		tokenstore.WithTokenFormat(cfg.TokenPrefix, cfg.TokenSuffix),
		tokenstore.WithBatchSize(cfg.PersistBatchSize),
	}
	if cfg.TokenStorePath != "" {
		storeOpts = append(storeOpts, tokenstore.WithPath(cfg.TokenStorePath))
	}
	store, err := tokenstore.New(storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("building token store: %w", err)
	}

	hasher, err := sanitize.NewFieldHasher(cfg.HashAlgorithm, cfg.HashSecret)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("building field hasher: %w", err)
	}

	e := &Engine{
		Layer:      sanitize.NewLayer(det, store, hasher),
		Store:      store,
		Aggregator: privacy.NewAggregator(cfg.Privacy),
	}

	if o.withAudit {
		if err := cfg.EnsureDataDir(); err != nil {
			store.Close()
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		e.auditStore, err = audit.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("building audit store: %w", err)
		}
	}

	if o.report != nil {
		e.reporter, err = privacy.NewWindowReporter(e.Aggregator, o.report)
		if err != nil {
			e.closeStores()
			return nil, fmt.Errorf("building window reporter: %w", err)
		}
		e.reporter.Start()
	}

	return e, nil
}

// RunJSONLines sanitizes newline-delimited JSON records from r into w,
// accumulates per-category redaction counts, and, when the audit trail is
// enabled, persists a signed run record with content hashes of the raw input
// and sanitized output. Returns the run record (unsigned when auditing is
// disabled).
func (e *Engine) RunJSONLines(ctx context.Context, source string, r io.Reader, w io.Writer) (*audit.Record, error) {
	ctx, span := tracer.Start(ctx, "engine.run_json_lines",
		trace.WithAttributes(attribute.String("run.source", source)))
	defer span.End()

	inHash := sha256.New()
	outHash := sha256.New()
	counts := make(map[string]int64)
	records := 0
	redactions := 0

	observe := func(line string, encoded []byte, result *sanitize.Result) error {
		inHash.Write([]byte(line))
		inHash.Write([]byte{'\n'})
		outHash.Write(encoded)
		records++
		for _, category := range result.RedactionMap {
			counts[category]++
			redactions++
			if e.reporter != nil {
				e.reporter.Incr(category, 1)
			}
		}
		return nil
	}
	if err := e.Layer.SanitizeJSONLinesFunc(ctx, r, w, observe); err != nil {
		return nil, fmt.Errorf("sanitizing %s: %w", source, err)
	}

	// Durability: a run is not complete until every minted token is persisted.
	if err := e.Store.Flush(); err != nil {
		return nil, fmt.Errorf("flushing token store after %s: %w", source, err)
	}

	rec := &audit.Record{
		Source:           source,
		RecordsProcessed: records,
		RedactionsTotal:  redactions,
		CategoryCounts:   counts,
		PrivacyBudget:    e.Aggregator.String(),
		InputHash:        hex.EncodeToString(inHash.Sum(nil)),
		OutputHash:       hex.EncodeToString(outHash.Sum(nil)),
	}
	if e.auditStore != nil {
		if err := e.auditStore.Store(ctx, rec); err != nil {
			return nil, fmt.Errorf("recording audit entry for %s: %w", source, err)
		}
	}

	log.Info().
		Str("source", source).
		Int("records", records).
		Int("redactions", redactions).
		Func(lmotel.LogTraceFields(ctx)).
		Msg("sanitization run complete")

	span.SetAttributes(
		attribute.Int("run.records", records),
		attribute.Int("run.redactions", redactions),
	)
	return rec, nil
}

// Audit returns the signed audit store, or nil when auditing is disabled.
func (e *Engine) Audit() *audit.Store { return e.auditStore }

// Close stops the window reporter, flushes the token store and closes the
// audit database. Must be called exactly once at shutdown.
func (e *Engine) Close() error {
	if e.reporter != nil {
		e.reporter.Stop()
	}
	return e.closeStores()
}

func (e *Engine) closeStores() error {
	var firstErr error
	if err := e.Store.Close(); err != nil {
		firstErr = err
	}
	if e.auditStore != nil {
		if err := e.auditStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
