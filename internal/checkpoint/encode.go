package checkpoint

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes v as MessagePack. It is the inverse of DecodeRaw, and of
// Decode for every Value that does not contain an ExtWrappedObject extension.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeValue(enc, &buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeValue writes through enc; ext payloads are appended to buf directly
// after their header since the encoder does not buffer.
func encodeValue(enc *msgpack.Encoder, buf *bytes.Buffer, v Value) error {
	switch x := v.(type) {
	case nil, Nil:
		return enc.EncodeNil()
	case Bool:
		return enc.EncodeBool(bool(x))
	case Int:
		return enc.EncodeInt(int64(x))
	case Uint:
		return enc.EncodeUint(uint64(x))
	case Float:
		return enc.EncodeFloat64(float64(x))
	case String:
		return enc.EncodeString(string(x))
	case Bytes:
		if x == nil {
			x = Bytes{}
		}
		return enc.EncodeBytes(x)
	case Array:
		if err := enc.EncodeArrayLen(len(x)); err != nil {
			return err
		}
		for _, item := range x {
			if err := encodeValue(enc, buf, item); err != nil {
				return err
			}
		}
		return nil
	case Map:
		if err := enc.EncodeMapLen(len(x)); err != nil {
			return err
		}
		for _, e := range x {
			if err := encodeValue(enc, buf, e.Key); err != nil {
				return err
			}
			if err := encodeValue(enc, buf, e.Value); err != nil {
				return err
			}
		}
		return nil
	case Ext:
		if err := enc.EncodeExtHeader(x.Code, len(x.Data)); err != nil {
			return err
		}
		_, err := buf.Write(x.Data)
		return err
	default:
		return fmt.Errorf("checkpoint: cannot encode %T", v)
	}
}

// WrapObject encodes a serialized-object extension carrying
// [module, class, props, "model_validate_json"].
func WrapObject(module, class string, props Map) (Ext, error) {
	payload, err := Encode(Array{String(module), String(class), props, String("model_validate_json")})
	if err != nil {
		return Ext{}, fmt.Errorf("checkpoint: wrap %s.%s: %w", module, class, err)
	}
	return Ext{Code: ExtWrappedObject, Data: payload}, nil
}
