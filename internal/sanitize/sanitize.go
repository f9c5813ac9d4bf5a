// Package sanitize redacts PII from semi-structured records before they reach
// any downstream analysis. Each string leaf is scanned for PII spans, the
// spans are reduced to a deterministic non-overlapping cover, and every
// accepted span is replaced by a stable token from the token store while a
// keyed hash of the original value is recorded for correlation.
package sanitize

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chongzixuan-ai/logminer-qa/internal/detector"
	lmotel "github.com/chongzixuan-ai/logminer-qa/internal/otel"
	"github.com/chongzixuan-ai/logminer-qa/internal/tokenstore"
)

var tracer = lmotel.Tracer("github.com/chongzixuan-ai/logminer-qa/internal/sanitize")

const (
	// Reserved top-level keys that receive the merged redaction and hash
	// maps when the sanitized record is map-shaped.
	redactionsKey   = "redactions"
	hashedFieldsKey = "hashed_fields"
)

// Result is the output of one sanitize call: the rebuilt record, plus
// path-qualified token-to-category and token-to-keyed-hash maps.
type Result struct {
	Sanitized    any               `json:"sanitized"`
	RedactionMap map[string]string `json:"redaction_map"`
	HashedFields map[string]string `json:"hashed_fields"`
}

// Layer orchestrates detection, span resolution, tokenization and field
// hashing over arbitrary nested records. Safe for use by multiple concurrent
// workers operating on different records; the token store serializes the only
// shared mutable state.
type Layer struct {
	detector *detector.Detector
	store    *tokenstore.Store
	hasher   *FieldHasher
}

// NewLayer builds a sanitization layer from its three collaborators.
func NewLayer(d *detector.Detector, store *tokenstore.Store, hasher *FieldHasher) *Layer {
	return &Layer{detector: d, store: store, hasher: hasher}
}

// SanitizeRecord sanitizes a record (structured tree or raw text) by
// redacting PII. A raw string is wrapped as a minimal structured record; a
// tree is deep-cloned and every string leaf sanitized in place. The layer
// never errors for well-formed input; the only error source is token store
// persistence, which propagates as fatal.
func (l *Layer) SanitizeRecord(ctx context.Context, record any) (*Result, error) {
	ctx, span := tracer.Start(ctx, "sanitize.record")
	defer span.End()

	if text, ok := record.(string); ok {
		sanitized, redactions, hashed, err := l.sanitizeText(ctx, text)
		if err != nil {
			return nil, err
		}
		payload := map[string]any{
			"message":       sanitized,
			redactionsKey:   redactions,
			hashedFieldsKey: hashed,
		}
		span.SetAttributes(attribute.Int("sanitize.redactions", len(redactions)))
		return &Result{Sanitized: payload, RedactionMap: redactions, HashedFields: hashed}, nil
	}

	cloned, ok := cloneRecord(record)
	if !ok {
		// Not JSON-shaped: coerce to its string representation and scan that.
		log.Debug().Type("record_type", record).Msg("coercing unrecognized record to string")
		return l.SanitizeRecord(ctx, fmt.Sprint(record))
	}

	redactionMap := map[string]string{}
	hashedFields := map[string]string{}

	sanitized, err := l.walk(ctx, cloned, nil, redactionMap, hashedFields)
	if err != nil {
		return nil, err
	}

	if top, isMap := sanitized.(map[string]any); isMap {
		mergeReserved(top, redactionsKey, redactionMap)
		mergeReserved(top, hashedFieldsKey, hashedFields)
	}

	span.SetAttributes(attribute.Int("sanitize.redactions", len(redactionMap)))
	return &Result{Sanitized: sanitized, RedactionMap: redactionMap, HashedFields: hashedFields}, nil
}

// cloneRecord deep-clones a record through a JSON round-trip, which also
// normalizes leaves to the closed set map/slice/string/float64/bool/nil.
func cloneRecord(record any) (any, bool) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, false
	}
	var cloned any
	if err := json.Unmarshal(data, &cloned); err != nil {
		return nil, false
	}
	return cloned, true
}

// walk recursively sanitizes every string leaf of node, returning the
// (possibly replaced) node. Redaction and hash entries are qualified with the
// dotted access path from the root before being accumulated.
func (l *Layer) walk(ctx context.Context, node any, path []string, redactionMap, hashedFields map[string]string) (any, error) {
	switch v := node.(type) {
	case string:
		sanitized, redactions, hashed, err := l.sanitizeText(ctx, v)
		if err != nil {
			return nil, err
		}
		qualifyInto(redactionMap, path, redactions)
		qualifyInto(hashedFields, path, hashed)
		return sanitized, nil

	case map[string]any:
		for key, child := range v {
			replaced, err := l.walk(ctx, child, append(path, key), redactionMap, hashedFields)
			if err != nil {
				return nil, err
			}
			v[key] = replaced
		}
		return v, nil

	case []any:
		for i, child := range v {
			replaced, err := l.walk(ctx, child, append(path, strconv.Itoa(i)), redactionMap, hashedFields)
			if err != nil {
				return nil, err
			}
			v[i] = replaced
		}
		return v, nil

	default:
		// Numbers, booleans and nulls carry no PII spans.
		return v, nil
	}
}

// qualifyInto copies entries into dst with keys prefixed by the dotted path.
func qualifyInto(dst map[string]string, path []string, entries map[string]string) {
	if len(path) == 0 {
		for k, v := range entries {
			dst[k] = v
		}
		return
	}
	prefix := strings.Join(path, ".")
	for k, v := range entries {
		if k == "" {
			dst[prefix] = v
			continue
		}
		dst[prefix+"."+k] = v
	}
}

// mergeReserved performs an additive merge of entries into the reserved key:
// a missing key is created, an existing map gains the new entries, and a
// pre-existing non-map value is left untouched.
func mergeReserved(top map[string]any, key string, entries map[string]string) {
	existing, present := top[key]
	if !present {
		top[key] = toAnyMap(entries)
		return
	}
	if m, ok := existing.(map[string]any); ok {
		for k, v := range entries {
			m[k] = v
		}
	}
}

func toAnyMap(entries map[string]string) map[string]any {
	m := make(map[string]any, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return m
}

// sanitizeText finds PII spans in one string, resolves overlaps, and rebuilds
// the text with each accepted span replaced by its stable token, left to
// right. Candidate spans overlapping an already-issued token are dropped
// before resolution so re-sanitizing sanitized output is a no-op.
func (l *Layer) sanitizeText(ctx context.Context, text string) (string, map[string]string, map[string]string, error) {
	redactions := map[string]string{}
	hashedFields := map[string]string{}

	matches := l.detector.FindMatches(ctx, text)
	matches = dropTokenOverlaps(matches, l.store.TokenPattern().FindAllStringIndex(text, -1))
	spans := resolveSpans(matches)
	if len(spans) == 0 {
		return text, redactions, hashedFields, nil
	}

	var b strings.Builder
	cursor := 0
	for _, span := range spans {
		b.WriteString(text[cursor:span.Start])
		original := text[span.Start:span.End]
		token, err := l.store.GetOrCreateToken(original)
		if err != nil {
			return "", nil, nil, fmt.Errorf("tokenizing %s span: %w", span.Category, err)
		}
		b.WriteString(token)
		redactions[token] = span.Category
		hashedFields[token] = l.hasher.Hash(original)
		cursor = span.End
	}
	b.WriteString(text[cursor:])
	return b.String(), redactions, hashedFields, nil
}

// dropTokenOverlaps removes candidate matches that overlap any existing token
// occurrence in the text.
func dropTokenOverlaps(matches []detector.Match, tokenRanges [][]int) []detector.Match {
	if len(tokenRanges) == 0 {
		return matches
	}
	kept := matches[:0]
	for _, m := range matches {
		overlaps := false
		for _, r := range tokenRanges {
			if m.Start < r[1] && m.End > r[0] {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, m)
		}
	}
	return kept
}
