package node

import "encoding/json"

// encodeDescriptor turns a Descriptor into the string stored in the
// cluster:discovery set (§3).
func encodeDescriptor(d Descriptor) string {
	b, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(b)
}

// decodeDescriptor is the inverse of encodeDescriptor; malformed entries are
// skipped rather than failing the whole discovery fetch.
func decodeDescriptor(raw string) (Descriptor, bool) {
	var d Descriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Descriptor{}, false
	}
	if d.UUID == "" {
		return Descriptor{}, false
	}
	return d, true
}
