package audit

import (
	"encoding/json"
	"strings"
)

// Redacted replaces every sensitive value in audit metadata.
const Redacted = "[REDACTED]"

// sensitive holds normalised key names: lower case, no '_' or '-'.
var sensitive = map[string]struct{}{
	"password":         {},
	"passwordhash":     {},
	"token":            {},
	"accesstoken":      {},
	"refreshtoken":     {},
	"secret":           {},
	"clientsecret":     {},
	"apikey":           {},
	"connectionstring": {},
	"databaseurl":      {},
	"dsn":              {},
}

// IsSensitive reports whether a field name must be masked.  Matching ignores
// case, underscores, and hyphens, so "connection_string" and
// "connectionString" both match.
func IsSensitive(key string) bool {
	k := strings.ToLower(key)
	k = strings.NewReplacer("_", "", "-", "").Replace(k)
	_, ok := sensitive[k]
	return ok
}

// Mask returns a deep copy of v with sensitive values replaced by Redacted.
// Maps and slices are walked at any depth.  Structs and typed containers are
// first flattened through JSON so their field names are visible.  The input
// is never modified.
func Mask(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if IsSensitive(k) {
				out[k] = Redacted
				continue
			}
			out[k] = Mask(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Mask(val)
		}
		return out
	case string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return t
	}

	b, err := json.Marshal(v)
	if err != nil {
		// Unserialisable values cannot be inspected, so they are not stored.
		return Redacted
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return Redacted
	}
	switch generic.(type) {
	case map[string]any, []any:
		return Mask(generic)
	}
	return generic
}
