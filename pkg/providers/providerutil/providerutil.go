// Package providerutil holds the small decoding helpers every adapter in
// pkg/providers shares, so each adapter's Fetch stays focused on its own
// endpoint shape.
package providerutil

import (
	"encoding/json"
	"fmt"
)

// DecodeObjects unmarshals body as either a JSON array of objects or a
// single JSON object, returning one-element output for the latter. Most
// REST list endpoints return an array; a few (Reddit's listing envelope)
// come back as one object that the adapter unwraps after this returns.
func DecodeObjects(body []byte) ([]map[string]any, error) {
	var arr []map[string]any
	if err := json.Unmarshal(body, &arr); err == nil {
		return arr, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("providerutil: decoding response: %w", err)
	}
	return []map[string]any{obj}, nil
}

// DecodeField unmarshals body into an object and returns the array found
// under key (e.g. Google's {"messages": [...]}).
func DecodeField(body []byte, key string) ([]map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("providerutil: decoding response: %w", err)
	}
	raw, ok := obj[key].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}
