package store

import "strings"

// Key namespaces, shared with catalogs written by earlier versions of the service.
const (
	RecordPrefix        = "pcap:file:"
	ProtocolIndexPrefix = "pcap:index:protocol:"
	AutocompleteKey     = "pcap:protocols:autocomplete"
)

// RecordKey returns the record key of a content identity.
func RecordKey(id string) string {
	return RecordPrefix + id
}

// IDFromRecordKey strips the record namespace. ok is false for foreign keys.
func IDFromRecordKey(key string) (id string, ok bool) {
	if !strings.HasPrefix(key, RecordPrefix) {
		return "", false
	}
	return key[len(RecordPrefix):], true
}

// ProtocolKey returns the membership set key of a protocol. Protocol names are case-insensitive.
func ProtocolKey(protocol string) string {
	return ProtocolIndexPrefix + NormalizeProtocol(protocol)
}

// NormalizeProtocol lower-cases and trims a protocol name.
func NormalizeProtocol(protocol string) string {
	return strings.ToLower(strings.TrimSpace(protocol))
}

// PrefixEnd returns the smallest string greater than every string with the
// given prefix, or "" when no such bound exists (empty or all-0xff prefix).
func PrefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
