package serializer

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"code.kerpass.org/sessions/internal/utils"
)

// errorFlag is a private error type that allows declaring error constants.
type errorFlag string

const (
	Error          = errorFlag("serializer: error")
	ErrUnknownName = errorFlag("serializer: unknown serializer name")
)

// Error implements the error interface.
func (self errorFlag) Error() string {
	return string(self)
}

func (self errorFlag) Unwrap() error {
	if Error == self {
		return nil
	}
	return Error
}

// Serializer is an interface that provides methods to Marshal/Unmarshal values.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer provides a Serializer that uses json Marshal/Unmarshal
type JSONSerializer struct{}

// Marshal wraps json.Marshal
func (self JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal wraps json.Unmarshal
func (self JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

var _ Serializer = JSONSerializer{}

// CBORSerializer provides a Serializer that uses core deterministic cbor encoding.
//
// Decoded maps default to map[string]any so that values round trip through any.
type CBORSerializer struct{}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode

	mapStringAnyType = reflect.TypeOf(map[string]any(nil))
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if nil != err {
		panic(err)
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: mapStringAnyType,
	}.DecMode()
	if nil != err {
		panic(err)
	}
}

// Marshal encodes v using deterministic cbor.
func (self CBORSerializer) Marshal(v any) ([]byte, error) {
	return cborEnc.Marshal(v)
}

// Unmarshal decodes data in v.
func (self CBORSerializer) Unmarshal(data []byte, v any) error {
	return cborDec.Unmarshal(data, v)
}

var _ Serializer = CBORSerializer{}

// ByName returns the Serializer registered under name.
// Empty name selects cbor.
func ByName(name string) (Serializer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cbor":
		return CBORSerializer{}, nil
	case "json":
		return JSONSerializer{}, nil
	default:
		return nil, utils.NewError(0, ErrUnknownName, "%q", name)
	}
}
