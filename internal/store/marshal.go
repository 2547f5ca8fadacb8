package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalize applies NFC to free-text columns so paths and error messages
// compare equal regardless of how the filesystem decomposed them.
func normalize(s string) string {
	return norm.NFC.String(s)
}

// marshalQuality converts quality statistics to JSON TEXT for storage.
// HTML escaping is disabled so stored text matches what operators read.
func marshalQuality(q Quality) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(q); err != nil {
		return "", fmt.Errorf("marshal quality: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalQuality parses JSON TEXT back into quality statistics.
func unmarshalQuality(data string) (Quality, error) {
	var q Quality
	if data == "" || data == "{}" {
		return q, nil
	}
	if err := json.Unmarshal([]byte(data), &q); err != nil {
		return q, fmt.Errorf("unmarshal quality: %w", err)
	}
	return q, nil
}
