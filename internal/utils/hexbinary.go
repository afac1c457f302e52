package utils

import (
	"encoding/hex"
)

// HexBinary is a byte slice that marshals to & from hexadecimal text.
// It is used for key material read from configuration files.
type HexBinary []byte

// UnmarshalText implements encoding.TextUnmarshaler.
func (self *HexBinary) UnmarshalText(text []byte) error {
	var dst []byte
	hxsz := hex.DecodedLen(len(text))
	if cap([]byte(*self)) >= hxsz {
		dst = []byte(*self)[:0]
	} else {
		dst = make([]byte, 0, hxsz)
	}

	dst, err := hex.AppendDecode(dst, text)
	if nil != err {
		return WrapError(err, 0, Error, "invalid hex text")
	}

	*self = HexBinary(dst)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (self HexBinary) MarshalText() ([]byte, error) {
	var dst []byte
	dst = hex.AppendEncode(dst, []byte(self))
	return dst, nil
}

// String does not reveal the bytes, so that keys are not leaked in logs.
func (self HexBinary) String() string {
	if 0 == len(self) {
		return "HexBinary(empty)"
	}
	return "HexBinary(redacted)"
}
