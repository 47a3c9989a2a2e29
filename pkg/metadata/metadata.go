// Package metadata parses and serializes the tus Upload-Metadata header:
// a comma-separated list of "key [base64value]" pairs.
package metadata

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyHeader is returned by Parse when given an empty header value.
var ErrEmptyHeader = errors.New("metadata: empty Upload-Metadata header")

// ErrMalformedPair is returned by Parse when a non-empty pair contains more
// than two whitespace-separated tokens, or an empty key.
var ErrMalformedPair = errors.New("metadata: malformed key/value pair")

// ErrInvalidKey is returned by GetRaw when the key is not present.
var ErrInvalidKey = errors.New("metadata: key not found")

// Metadata is the parsed key/value mapping from an Upload-Metadata header.
// Values are kept exactly as received, base64-encoded, so that decoding
// failures surface at read time rather than at parse time and so that
// re-serializing a Metadata round-trips byte for byte.
type Metadata map[string]string

// Parse parses the value of an Upload-Metadata header into a Metadata
// mapping. Around each comma-separated pair, whitespace is trimmed. A pair
// is either "key" (yielding an empty-string value) or "key value", where
// value is expected to be standard, padded base64; Parse stores it as given
// and does not decode it (GetRaw does). Empty pairs produced by a trailing
// comma are silently skipped. Parse fails if s is empty, if a non-empty pair
// has more than two whitespace-separated tokens, or if a key is empty.
func Parse(s string) (Metadata, error) {
	if s == "" {
		return nil, ErrEmptyHeader
	}

	meta := make(Metadata)

	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.Fields(pair)
		if len(parts) == 0 || len(parts) > 2 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedPair, pair)
		}

		key := parts[0]
		if key == "" {
			return nil, fmt.Errorf("%w: empty key in %q", ErrMalformedPair, pair)
		}

		value := ""
		if len(parts) == 2 {
			value = parts[1]
		}

		meta[key] = value
	}

	return meta, nil
}

// GetRaw looks up key and base64-decodes its stored value. It returns
// ErrInvalidKey if the key is absent, or a wrapped error describing the
// decode failure if the stored value is not valid base64.
func (m Metadata) GetRaw(key string) ([]byte, error) {
	value, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("metadata: failed to decode value for key %q: %w", key, err)
	}

	return decoded, nil
}

// Len returns the number of key/value pairs.
func (m Metadata) Len() int {
	return len(m)
}

// IsEmpty reports whether the mapping has no entries.
func (m Metadata) IsEmpty() bool {
	return len(m) == 0
}

// Serialize renders a Metadata mapping back into Upload-Metadata header
// form. Since Metadata stores values still base64-encoded, this is a pure
// formatting operation and is guaranteed to round-trip through Parse to an
// equal mapping (modulo pair ordering, which this format does not carry).
func Serialize(m Metadata) string {
	if len(m) == 0 {
		return ""
	}

	pairs := make([]string, 0, len(m))
	for key, value := range m {
		if value == "" {
			pairs = append(pairs, key)
			continue
		}
		pairs = append(pairs, key+" "+value)
	}

	return strings.Join(pairs, ",")
}
