// Package bridge turns text exposition payloads scraped from external
// processes into metric samples.
package bridge

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"telemetry-backbone/src/models"
)

// ParseResult is the outcome of parsing one payload. Skipped counts lines that
// could not be parsed; they never abort the parse.
type ParseResult struct {
	Samples []models.MMetricSample
	Skipped int
	Lines   int
}

var (
	errNoValue       = errors.New("missing value")
	errBadName       = errors.New("invalid metric name")
	errUnterminated  = errors.New("unterminated label set")
	errBadLabel      = errors.New("malformed label")
	errTrailingInput = errors.New("unexpected trailing input")
)

// -----------------------------------------------------------------------------

// Parse reads a line-oriented exposition payload. Samples without an explicit
// timestamp are stamped with now, so parsing the same text with the same now
// always yields the same samples in the same order.
func Parse(text string, now time.Time) ParseResult {
	declared := make(map[string]models.MetricKind)
	var res ParseResult

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		res.Lines++

		if strings.HasPrefix(line, "#") {
			if !parseComment(line, declared) {
				res.Skipped++
			}
			continue
		}

		sample, err := parseSampleLine(line, now)
		if err != nil {
			res.Skipped++
			continue
		}
		sample.Kind = resolveKind(sample.Name, declared)
		res.Samples = append(res.Samples, sample)
	}

	sort.SliceStable(res.Samples, func(i, j int) bool {
		a, b := res.Samples[i], res.Samples[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return SeriesKey(a.Name, a.Labels) < SeriesKey(b.Name, b.Labels)
	})
	return res
}

// -----------------------------------------------------------------------------

// parseComment handles "# TYPE" and ignores "# HELP" and free comments.
// It returns false only for a TYPE line it cannot read.
func parseComment(line string, declared map[string]models.MetricKind) bool {
	fields := strings.Fields(strings.TrimPrefix(line, "#"))
	if len(fields) == 0 || fields[0] != "TYPE" {
		return true
	}
	if len(fields) != 3 || !validName(fields[1]) {
		return false
	}
	if kind, ok := models.ParseMetricKind(fields[2]); ok {
		declared[fields[1]] = kind
	}
	// summary/untyped declarations fall back to the suffix heuristic
	return true
}

// -----------------------------------------------------------------------------

func resolveKind(name string, declared map[string]models.MetricKind) models.MetricKind {
	if kind, ok := declared[name]; ok {
		return kind
	}
	for _, suffix := range []string{"_bucket", "_sum", "_count"} {
		if base := strings.TrimSuffix(name, suffix); base != name {
			if declared[base] == models.KindHistogram {
				return models.KindHistogram
			}
		}
	}
	if base := strings.TrimSuffix(name, "_total"); base != name && declared[base] == models.KindCounter {
		return models.KindCounter
	}

	switch {
	case strings.HasSuffix(name, "_total"), strings.HasSuffix(name, "_count"):
		return models.KindCounter
	case strings.HasSuffix(name, "_bucket"), strings.HasSuffix(name, "_sum"):
		return models.KindHistogram
	}
	return models.KindGauge
}

// -----------------------------------------------------------------------------

// parseSampleLine splits `name{labels} value [timestamp]`.
func parseSampleLine(line string, now time.Time) (models.MMetricSample, error) {
	var sample models.MMetricSample

	nameEnd := 0
	for nameEnd < len(line) && isNameChar(line[nameEnd], nameEnd == 0) {
		nameEnd++
	}
	if nameEnd == 0 {
		return sample, errBadName
	}
	sample.Name = line[:nameEnd]
	rest := line[nameEnd:]

	if strings.HasPrefix(rest, "{") {
		closeIdx, err := findLabelSetEnd(rest)
		if err != nil {
			return sample, err
		}
		labels, err := ParseLabels(rest[1:closeIdx])
		if err != nil {
			return sample, err
		}
		if len(labels) > 0 {
			sample.Labels = labels
		}
		rest = rest[closeIdx+1:]
	}

	// the value must be separated from the series by whitespace
	if rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
		return sample, errNoValue
	}
	parts := strings.Fields(rest)
	if len(parts) == 0 {
		return sample, errNoValue
	}
	if len(parts) > 2 {
		return sample, errTrailingInput
	}

	// ParseFloat also accepts NaN, +Inf and -Inf
	value, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return sample, err
	}
	sample.Value = value

	sample.Timestamp = now
	if len(parts) == 2 {
		ms, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return sample, fmt.Errorf("bad timestamp %q: %w", parts[1], err)
		}
		sample.Timestamp = time.UnixMilli(ms).UTC()
	}

	return sample, nil
}

// findLabelSetEnd returns the index of the '}' closing the label set that
// starts at s[0], skipping braces inside quoted values.
func findLabelSetEnd(s string) (int, error) {
	inQuotes := false
	for i := 1; i < len(s); i++ {
		switch c := s[i]; {
		case inQuotes && c == '\\':
			i++
		case c == '"':
			inQuotes = !inQuotes
		case !inQuotes && c == '}':
			return i, nil
		}
	}
	return 0, errUnterminated
}

// -----------------------------------------------------------------------------

// ParseLabels parses the inside of a label set: `a="x,y",b="z"`.
// Commas and braces inside quoted values are part of the value.
func ParseLabels(s string) (map[string]string, error) {
	labels := make(map[string]string)
	i := 0
	for {
		i = skipSpace(s, i)
		if i >= len(s) {
			return labels, nil
		}

		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return nil, errBadLabel
		}
		name := strings.TrimSpace(s[i : i+eq])
		if !validName(name) {
			return nil, errBadLabel
		}
		i = skipSpace(s, i+eq+1)
		if i >= len(s) || s[i] != '"' {
			return nil, errBadLabel
		}

		value, next, err := readQuoted(s, i+1)
		if err != nil {
			return nil, err
		}
		labels[name] = value

		i = skipSpace(s, next)
		if i >= len(s) {
			return labels, nil
		}
		if s[i] != ',' {
			return nil, errBadLabel
		}
		i++
	}
}

// readQuoted reads an escaped value starting just after the opening quote and
// returns the index just after the closing quote.
func readQuoted(s string, i int) (string, int, error) {
	var b strings.Builder
	for i < len(s) {
		c := s[i]
		switch c {
		case '\\':
			if i+1 >= len(s) {
				return "", 0, errBadLabel
			}
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
			case '"', '\\':
				b.WriteByte(s[i+1])
			default:
				b.WriteByte('\\')
				b.WriteByte(s[i+1])
			}
			i += 2
		case '"':
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, errBadLabel
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

// -----------------------------------------------------------------------------

func isNameChar(c byte, first bool) bool {
	if c == '_' || c == ':' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
		return true
	}
	return !first && c >= '0' && c <= '9'
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isNameChar(s[i], i == 0) {
			return false
		}
	}
	return true
}

// SeriesKey renders name{k="v",...} with labels in sorted order.
func SeriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(strings.ReplaceAll(labels[k], `"`, `\"`))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
