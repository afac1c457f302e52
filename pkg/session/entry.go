package session

import (
	"maps"
	"strings"
	"time"
)

// Payload is an entry value serialized by the Store Codec.
type Payload []byte

// Entry is a session value and its absolute expiry time.
type Entry struct {
	Value Payload `json:"v" cbor:"1,keyasint"`

	// ExpiresAt is a unix timestamp in seconds, 0 means the Entry never expires.
	ExpiresAt int64 `json:"x,omitempty" cbor:"2,keyasint,omitempty"`
}

// Expired returns true if the Entry expiry time is before now.
func (self Entry) Expired(now time.Time) bool {
	return 0 != self.ExpiresAt && self.ExpiresAt < now.Unix()
}

// Map holds the entries of a session indexed by normalized key.
type Map map[string]Entry

// Clone returns a shallow copy of the Map, nil Map clones to an empty Map.
func (self Map) Clone() Map {
	rv := make(Map, len(self))
	maps.Copy(rv, self)
	return rv
}

// NormalizeKey returns key lower cased with surrounding spaces removed.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
