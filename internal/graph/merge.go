package graph

// Attribute merge rules shared by every backend: scalar attributes use
// latest-timestamp-wins, set-valued attributes use set union.

// setValuedAttrs are merged by union rather than replacement.
var setValuedAttrs = map[string]bool{
	"identities":   true,
	"repositories": true,
	"channels":     true,
}

// MergeAttrs merges incoming attributes into existing ones and returns
// the result. incomingNewer reports whether the incoming record's
// timestamp is at or after the stored node's last update; scalars only
// overwrite when it is.
func MergeAttrs(existing, incoming map[string]any, incomingNewer bool) map[string]any {
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}

	for k, v := range incoming {
		if setValuedAttrs[k] {
			merged[k] = unionStrings(merged[k], v)
			continue
		}
		if _, seen := merged[k]; !seen || incomingNewer {
			merged[k] = v
		}
	}

	return merged
}

// unionStrings merges two string-set attribute values, preserving the
// order of first sighting.
func unionStrings(a, b any) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range toStrings(a) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range toStrings(b) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// toStrings normalizes the representations a set attribute may arrive
// in: []string from our own code, []any after a JSON or store round
// trip, or a bare string.
func toStrings(v any) []string {
	switch vv := v.(type) {
	case nil:
		return nil
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{vv}
	default:
		return nil
	}
}
