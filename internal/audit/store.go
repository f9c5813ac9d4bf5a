// Package audit provides an HMAC-signed trail of sanitization runs.
//
// Every run produces a Record holding derived statistics only (redaction
// counts per category, content hashes of input and output, the privacy budget
// in effect), never raw values. Records are signed (HMAC-SHA256) and
// persisted in SQLite so QA teams can prove what was redacted and when.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	lmotel "github.com/chongzixuan-ai/logminer-qa/internal/otel"
)

var tracer = lmotel.Tracer("github.com/chongzixuan-ai/logminer-qa/internal/audit")

// Record is the audit entry for a single sanitization run.
type Record struct {
	ID               string           `json:"id"`
	Timestamp        time.Time        `json:"timestamp"`
	Source           string           `json:"source"`
	RecordsProcessed int              `json:"records_processed"`
	RedactionsTotal  int              `json:"redactions_total"`
	CategoryCounts   map[string]int64 `json:"category_counts,omitempty"`
	PrivacyBudget    string           `json:"privacy_budget,omitempty"`
	InputHash        string           `json:"input_hash,omitempty"`
	OutputHash       string           `json:"output_hash,omitempty"`
	Signature        string           `json:"signature"`
}

// Store persists HMAC-signed run records in SQLite.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// NewStore creates an audit store with HMAC signing.
func NewStore(dbPath string, signingKey string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		source TEXT NOT NULL,
		record_json TEXT NOT NULL,
		signature TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source);
	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	signer, err := NewSigner(signingKey)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	return &Store{db: db, signer: signer}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store saves a run record with an HMAC signature. A missing ID or timestamp
// is filled in.
func (s *Store) Store(ctx context.Context, rec *Record) error {
	ctx, span := tracer.Start(ctx, "audit.store",
		trace.WithAttributes(attribute.String("audit.source", rec.Source)))
	defer span.End()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.Signature = ""

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling run record: %w", err)
	}

	signature, err := s.signer.Sign(recordJSON)
	if err != nil {
		return fmt.Errorf("signing run record: %w", err)
	}
	rec.Signature = signature

	recordJSONWithSig, _ := json.Marshal(rec)

	query := `INSERT INTO runs (id, timestamp, source, record_json, signature)
	          VALUES (?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Timestamp, rec.Source, string(recordJSONWithSig), signature)
	if err != nil {
		return fmt.Errorf("storing run record: %w", err)
	}
	return nil
}

// Get retrieves a run record by ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	ctx, span := tracer.Start(ctx, "audit.get",
		trace.WithAttributes(attribute.String("audit.id", id)))
	defer span.End()

	var recordJSON string
	err := s.db.QueryRowContext(ctx, `SELECT record_json FROM runs WHERE id = ?`, id).Scan(&recordJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run record %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling run record: %w", err)
	}
	return &rec, nil
}

// List returns run records matching the given filters, newest first.
func (s *Store) List(ctx context.Context, source string, from, to time.Time, limit int) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "audit.list",
		trace.WithAttributes(attribute.String("audit.source", source)))
	defer span.End()

	query := `SELECT record_json FROM runs WHERE 1=1`
	args := []interface{}{}

	if source != "" {
		query += ` AND source = ?`
		args = append(args, source)
	}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying run records: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			continue
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run records: %w", err)
	}

	span.SetAttributes(attribute.Int("audit.count", len(results)))
	return results, nil
}

// CategoryTotals sums redaction counts per category across runs in the
// half-open time range [from, to). Callers should pass to as the start of the
// next period to avoid double-counting at boundaries.
func (s *Store) CategoryTotals(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	ctx, span := tracer.Start(ctx, "audit.category_totals")
	defer span.End()

	query := `SELECT record_json FROM runs WHERE 1=1`
	args := []interface{}{}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, to)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying run records for totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			continue
		}
		for category, n := range rec.CategoryCounts {
			totals[category] += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run records for totals: %w", err)
	}

	span.SetAttributes(attribute.Int("audit.category_count", len(totals)))
	return totals, nil
}

// Verify checks the HMAC signature integrity of a run record.
func (s *Store) Verify(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "audit.verify",
		trace.WithAttributes(attribute.String("audit.id", id)))
	defer span.End()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}

	signature := rec.Signature
	rec.Signature = ""

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshaling for verification: %w", err)
	}
	return s.signer.Verify(recordJSON, signature), nil
}
