// Package detector finds PII spans in text using configurable regex
// recognizers. Recognizers follow the Presidio YAML registry format; the
// embedded banking defaults cover account numbers, card numbers, emails,
// IBANs, phone numbers and SSNs.
package detector

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	lmotel "github.com/chongzixuan-ai/logminer-qa/internal/otel"
)

var tracer = lmotel.Tracer("github.com/chongzixuan-ai/logminer-qa/internal/detector")

// GenericNumberEntity is the downgrade category for matches that fail a
// checksum gate. The span is still redacted; it just is not attributed to the
// high-sensitivity entity the checksum could not confirm.
const GenericNumberEntity = "GENERIC_NUMBER"

// fallbackSensitivity ranks downgraded matches below every confirmed entity
// so checksum-verified categories win span-resolution ties.
const fallbackSensitivity = 1

// Pattern represents a compiled, ready-to-use PII detection pattern.
type Pattern struct {
	Name         string
	Category     string
	Pattern      *regexp.Regexp
	Sensitivity  int // 1-3, higher = more sensitive
	ValidateLuhn bool
	ValidateIBAN bool
	// FallbackCategory is reported instead of Category when a checksum gate
	// fails. Empty means GenericNumberEntity.
	FallbackCategory string
}

// fallback returns the downgraded category and sensitivity for a
// checksum-failing match.
func (p Pattern) fallback() (string, int) {
	if p.FallbackCategory != "" {
		return p.FallbackCategory, fallbackSensitivity
	}
	return GenericNumberEntity, fallbackSensitivity
}

// Match is a single raw PII match within one string. Start and End are byte
// offsets; End is exclusive.
type Match struct {
	Category    string `json:"category"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Value       string `json:"value"`
	Sensitivity int    `json:"sensitivity"`
}

// Len returns the match length in bytes.
func (m Match) Len() int { return m.End - m.Start }

// Detector scans text for PII using compiled recognizer patterns.
type Detector struct {
	patterns []Pattern
}

// Option configures a Detector via the functional options pattern.
type Option func(*detectorConfig)

type detectorConfig struct {
	patternFile        string
	extraRecognizers   []RecognizerConfig
	enabledEntities    []string
	disabledEntities   []string
	skipEmbeddedDeflts bool
}

// WithPatternFile loads additional recognizers from a patterns YAML file.
// If the file does not exist, it is silently skipped.
func WithPatternFile(path string) Option {
	return func(c *detectorConfig) { c.patternFile = path }
}

// WithRecognizers adds caller-supplied recognizer definitions. These form the
// last merge layer and override embedded and file-loaded recognizers that
// share the same name.
func WithRecognizers(recognizers []RecognizerConfig) Option {
	return func(c *detectorConfig) { c.extraRecognizers = recognizers }
}

// WithEnabledEntities sets a whitelist of entity categories. When non-empty,
// only recognizers with a matching supported_entity will be active.
func WithEnabledEntities(entities []string) Option {
	return func(c *detectorConfig) { c.enabledEntities = entities }
}

// WithDisabledEntities sets a blacklist of entity categories to exclude.
func WithDisabledEntities(entities []string) Option {
	return func(c *detectorConfig) { c.disabledEntities = entities }
}

// WithoutDefaults drops the embedded default recognizers so tests and callers
// can substitute a fully deterministic pattern set.
func WithoutDefaults() Option {
	return func(c *detectorConfig) { c.skipEmbeddedDeflts = true }
}

// New creates a Detector. Without options it uses the embedded banking
// defaults. Options layer file overrides and caller customization on top.
func New(opts ...Option) (*Detector, error) {
	var cfg detectorConfig
	for _, o := range opts {
		o(&cfg)
	}

	var defaults []RecognizerConfig
	if !cfg.skipEmbeddedDeflts {
		var err error
		defaults, err = DefaultRecognizers()
		if err != nil {
			return nil, fmt.Errorf("loading default recognizers: %w", err)
		}
	}

	var fileRecs []*RecognizerConfig
	if cfg.patternFile != "" {
		rf, err := LoadRecognizerFile(cfg.patternFile)
		if err != nil {
			return nil, fmt.Errorf("loading pattern file: %w", err)
		}
		if rf != nil {
			fileRecs = toPtrSlice(rf.Recognizers)
		}
	}

	var callerRecs []*RecognizerConfig
	if len(cfg.extraRecognizers) > 0 {
		callerRecs = toPtrSlice(cfg.extraRecognizers)
	}

	merged := MergeRecognizers(toPtrSlice(defaults), fileRecs, callerRecs)
	merged = FilterByEntities(merged, cfg.enabledEntities, cfg.disabledEntities)

	compiled, err := CompilePatterns(merged)
	if err != nil {
		return nil, fmt.Errorf("compiling patterns: %w", err)
	}

	return &Detector{patterns: compiled}, nil
}

// MustNew is like New but panics on error. Useful for zero-config startup
// where the embedded defaults are expected to always compile.
func MustNew(opts ...Option) *Detector {
	d, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("detector.New: %v", err))
	}
	return d
}

// FindMatches applies every configured pattern independently over text and
// collects every raw match, including overlaps across and within categories.
// Matches failing a checksum gate (Luhn for cards, MOD-97 for IBANs) are
// downgraded to the recognizer's fallback category rather than dropped:
// anything shaped like a configured pattern must still be redacted, even when
// the checksum disproves the specific entity. No ordering guarantee on
// output; clean text yields an empty slice.
func (d *Detector) FindMatches(ctx context.Context, text string) []Match {
	_, span := tracer.Start(ctx, "detector.find_matches")
	defer span.End()

	var matches []Match
	for _, pattern := range d.patterns {
		for _, loc := range pattern.Pattern.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]
			category := pattern.Category
			sensitivity := pattern.Sensitivity

			// Checksum gate: IBAN MOD-97 + country length
			if pattern.ValidateIBAN {
				clean := strings.ReplaceAll(value, " ", "")
				if !validateIBANLength(clean) || !validateIBANChecksum(clean) {
					category, sensitivity = pattern.fallback()
				}
			}

			// Checksum gate: Luhn for credit cards
			if pattern.ValidateLuhn && !luhnValid(stripNonDigits(value)) {
				category, sensitivity = pattern.fallback()
			}

			matches = append(matches, Match{
				Category:    category,
				Start:       loc[0],
				End:         loc[1],
				Value:       value,
				Sensitivity: sensitivity,
			})
		}
	}

	span.SetAttributes(
		attribute.Int("pii.match_count", len(matches)),
		attribute.Bool("pii.detected", len(matches) > 0),
	)
	return matches
}

// Categories returns the distinct entity categories this detector scans for.
func (d *Detector) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range d.patterns {
		if !seen[p.Category] {
			seen[p.Category] = true
			out = append(out, p.Category)
		}
	}
	return out
}
