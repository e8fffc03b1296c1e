package backend

import (
	"bytes"
	"fmt"

	"howett.net/plist"

	"github.com/kalambet/prefkit/internal/settings"
)

// decodeDomain parses a property list holding one dictionary, the layout
// shared by plist files and `defaults export`. Empty input is an empty domain.
func decodeDomain(data []byte) (map[string]any, error) {
	out := make(map[string]any)
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	var raw map[string]any
	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing property list: %w", err)
	}
	for k, v := range raw {
		n, err := settings.Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func encodeDomain(data map[string]any) ([]byte, error) {
	return plist.MarshalIndent(data, plist.XMLFormat, "\t")
}

// encodeValue and decodeValue store a single primitive as a one-element
// binary property list, for stores that only hold strings.
func encodeValue(v any) ([]byte, error) {
	n, err := settings.Normalize(v)
	if err != nil {
		return nil, err
	}
	return plist.Marshal([]any{n}, plist.BinaryFormat)
}

func decodeValue(data []byte) (any, error) {
	var wrapped []any
	if _, err := plist.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	if len(wrapped) != 1 {
		return nil, fmt.Errorf("expected one value, got %d", len(wrapped))
	}
	return settings.Normalize(wrapped[0])
}

func copyValue(v any) any {
	// Values held by stores are normalized already; copying cannot fail.
	c, _ := settings.Normalize(v)
	return c
}
