// Package wiretoken reads and writes the multi-field wire token:
//
//	token   := segment (" || " segment)*
//	segment := tag ":" bitstring
//
// The tag is the field name written backwards ("eman" for "name"). This is
// obfuscation kept for wire compatibility; it protects nothing.
//
// Parsing never fails. Segments without a colon are dropped and validation
// is left to the bit decoder.
package wiretoken

import (
	"strings"

	"idshield/internal/shield/bitcodec"
	pstrings "idshield/pkg/platform/strings"
)

// SegmentDelimiter separates segments.
const SegmentDelimiter = " || "

// Field is one named raw value on the submitter side.
type Field struct {
	Name  string
	Value string
}

// Parse returns field name -> bitstring. Malformed input yields an empty map.
func Parse(token string) map[string]string {
	fields, _ := ParseStats(token)
	return fields
}

// ParseStats is Parse that also reports how many segments were dropped.
// A later segment for the same field replaces an earlier one.
func ParseStats(token string) (map[string]string, int) {
	fields := make(map[string]string)
	if strings.TrimSpace(token) == "" {
		return fields, 0
	}

	dropped := 0
	for _, part := range strings.Split(token, SegmentDelimiter) {
		part = strings.TrimSpace(part)
		tag, bits, ok := strings.Cut(part, ":")
		if !ok {
			dropped++
			continue
		}
		fields[pstrings.Reverse(strings.TrimSpace(tag))] = strings.TrimSpace(bits)
	}
	return fields, dropped
}

// Build encodes each value and writes the token in field order.
func Build(fields []Field) string {
	segments := make([]string, 0, len(fields))
	for _, f := range fields {
		segments = append(segments, pstrings.Reverse(f.Name)+":"+bitcodec.Encode(f.Value))
	}
	return strings.Join(segments, SegmentDelimiter)
}
