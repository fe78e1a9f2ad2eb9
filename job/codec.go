package job

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/ferry"
)

// Codec serializes payloads across the store boundary.
type Codec interface {
	// Marshal encodes v.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes data into v, rejecting fields v does not declare.
	Unmarshal(data []byte, v any) error

	// IsNull reports whether data encodes an absent value.
	IsNull(data []byte) bool

	// Name returns the codec identifier ("json" or "msgpack").
	Name() string
}

// Codec names accepted by CodecByName.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// CodecByName returns the codec registered under name. An empty name
// selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case CodecNameJSON, "":
		return JSONCodec{}, nil
	case CodecNameMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("job: unknown codec %q", name)
	}
}

// JSONCodec encodes payloads as JSON.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (JSONCodec) IsNull(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func (JSONCodec) Name() string { return CodecNameJSON }

// MsgpackCodec encodes payloads as MessagePack using the json struct tags.
type MsgpackCodec struct{}

// msgpackNil is the single-byte MessagePack encoding of nil.
const msgpackNil = 0xc0

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	dec.DisallowUnknownFields(true)
	return dec.Decode(v)
}

func (MsgpackCodec) IsNull(data []byte) bool {
	return len(data) == 0 || (len(data) == 1 && data[0] == msgpackNil)
}

func (MsgpackCodec) Name() string { return CodecNameMsgpack }

// Validator is implemented by payloads that check their own shape.
type Validator interface {
	Validate() error
}

// Encode serializes params for submission. Encoding failures are
// parameter contract violations.
func Encode[T any](c Codec, params T) ([]byte, error) {
	data, err := c.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %T: %w", ferry.ErrParameterContract, params, err)
	}
	return data, nil
}

// Decode turns a stored payload back into T. It rejects absent payloads,
// payloads of the wrong shape, and payloads whose Validate fails.
func Decode[T any](c Codec, data []byte) (T, error) {
	var params T
	if c.IsNull(data) {
		return params, fmt.Errorf("%w: payload for %T is missing", ferry.ErrParameterContract, params)
	}
	if err := c.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("%w: decode %T: %w", ferry.ErrParameterContract, params, err)
	}
	if err := validate(&params); err != nil {
		return params, fmt.Errorf("%w: %T: %w", ferry.ErrParameterContract, params, err)
	}
	return params, nil
}

func validate[T any](p *T) error {
	if v, ok := any(*p).(Validator); ok {
		return v.Validate()
	}
	if v, ok := any(p).(Validator); ok {
		return v.Validate()
	}
	return nil
}
