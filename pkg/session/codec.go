package session

import (
	"code.kerpass.org/sessions/internal/serializer"
)

const codecVersion = 1

type envelope struct {
	Version int `json:"v" cbor:"1,keyasint"`
	Entries Map `json:"e" cbor:"2,keyasint"`
}

// Codec converts a Map to the bytes persisted by an Adapter.
// The zero Codec uses cbor.
type Codec struct {
	Serializer serializer.Serializer
}

// NewCodec returns a Codec that uses srz, nil srz selects cbor.
func NewCodec(srz serializer.Serializer) Codec {
	return Codec{Serializer: srz}
}

func (self Codec) srz() serializer.Serializer {
	if nil == self.Serializer {
		return serializer.CBORSerializer{}
	}
	return self.Serializer
}

// Encode serializes m.
func (self Codec) Encode(m Map) ([]byte, error) {
	if nil == m {
		m = Map{}
	}
	data, err := self.srz().Marshal(envelope{Version: codecVersion, Entries: m})
	if nil != err {
		return nil, wrapError(err, Error, "failed encoding session map")
	}

	return data, nil
}

// Decode deserializes data.
//
// Decode never fails, empty or malformed data and unknown versions return an empty Map.
// Keys are normalized, a key already in normal form wins over keys normalizing to the same value.
func (self Codec) Decode(data []byte) Map {
	m, _ := self.decode(data)
	return m
}

func (self Codec) decode(data []byte) (Map, error) {
	if 0 == len(data) {
		return Map{}, nil
	}

	var env envelope
	err := self.srz().Unmarshal(data, &env)
	if nil != err {
		return Map{}, wrapError(err, Error, "malformed session record")
	}
	if codecVersion != env.Version {
		return Map{}, newError(Error, "unsupported session record version %d", env.Version)
	}

	rv := make(Map, len(env.Entries))
	for key, entry := range env.Entries {
		if NormalizeKey(key) == key && "" != key {
			rv[key] = entry
		}
	}
	for key, entry := range env.Entries {
		nkey := NormalizeKey(key)
		if _, found := rv[nkey]; "" == nkey || found {
			continue
		}
		rv[nkey] = entry
	}

	return rv, nil
}

// Marshal serializes an entry value.
func (self Codec) Marshal(v any) (Payload, error) {
	data, err := self.srz().Marshal(v)
	if nil != err {
		return nil, wrapError(err, ErrInvalidArgument, "failed serializing value of type %T", v)
	}

	return Payload(data), nil
}

// Unmarshal deserializes p into dst.
func (self Codec) Unmarshal(p Payload, dst any) error {
	return wrapError(self.srz().Unmarshal(p, dst), Error, "failed deserializing value") // nil if err is nil
}
