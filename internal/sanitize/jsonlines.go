package sanitize

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// LineFunc observes each sanitized NDJSON record: the raw input line, the
// encoded output line (including the trailing newline) and the sanitize
// result. Returning an error aborts the stream.
type LineFunc func(line string, encoded []byte, result *Result) error

// SanitizeJSONLines reads newline-delimited JSON records from r, sanitizes
// each one, and writes the sanitized records as NDJSON to w. Blank lines are
// skipped; lines that fail to parse as JSON are sanitized as raw text.
func (l *Layer) SanitizeJSONLines(ctx context.Context, r io.Reader, w io.Writer) error {
	return l.SanitizeJSONLinesFunc(ctx, r, w, nil)
}

// SanitizeJSONLinesFunc is SanitizeJSONLines with a per-record observer, for
// callers that accumulate statistics or content hashes over the stream.
func (l *Layer) SanitizeJSONLinesFunc(ctx context.Context, r io.Reader, w io.Writer, fn LineFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var record any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			record = line
		}

		result, err := l.SanitizeRecord(ctx, record)
		if err != nil {
			return fmt.Errorf("sanitizing record at line %d: %w", lineNo, err)
		}

		out, err := json.Marshal(result.Sanitized)
		if err != nil {
			return fmt.Errorf("encoding sanitized record at line %d: %w", lineNo, err)
		}
		out = append(out, '\n')
		if _, err := w.Write(out); err != nil {
			return fmt.Errorf("writing sanitized record at line %d: %w", lineNo, err)
		}

		if fn != nil {
			if err := fn(line, out, result); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}
