package checkpoint

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

const (
	// ExtWrappedObject is the extension code used to wrap serialized message
	// objects as [module, class, properties, ...].
	ExtWrappedObject int8 = 5

	maxDepth = 512
)

// Decode turns a persisted checkpoint blob into a Value.
//
// blob may be raw bytes, a DynamoDB binary or string attribute, or base64
// text. Every failure is a *DecodeError.
func Decode(blob any) (Value, error) {
	return decode(blob, false)
}

// DecodeRaw is Decode without unwrapping extensions: every extension,
// including wrapped objects, stays an Ext holding its original payload, so
// Encode writes it back byte for byte.
func DecodeRaw(blob any) (Value, error) {
	return decode(blob, true)
}

func decode(blob any, keepExt bool) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = newDecodeError(KindUnexpected, fmt.Sprintf("panic: %v", r), nil)
		}
	}()

	raw, derr := toBytes(blob)
	if derr != nil {
		return nil, derr
	}
	return decodeBytes(raw, 0, keepExt)
}

func toBytes(blob any) ([]byte, *DecodeError) {
	switch b := blob.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case *types.AttributeValueMemberB:
		if b == nil {
			return nil, nil
		}
		return b.Value, nil
	case *types.AttributeValueMemberS:
		if b == nil {
			return nil, nil
		}
		return decodeBase64(b.Value)
	case string:
		return decodeBase64(b)
	default:
		return nil, newDecodeError(KindUnexpected, fmt.Sprintf("unsupported blob type %T", blob), nil)
	}
}

func decodeBase64(s string) ([]byte, *DecodeError) {
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, newDecodeError(KindMalformed, "invalid base64", err)
	}
	return out, nil
}

func decodeBytes(raw []byte, depth int, keepExt bool) (Value, error) {
	if len(raw) == 0 {
		return nil, newDecodeError(KindEmpty, "", nil)
	}
	r := bytes.NewReader(raw)
	d := &decoder{dec: msgpack.NewDecoder(r), r: r, keepExt: keepExt}
	v, err := d.value(depth)
	if err != nil {
		return nil, newDecodeError(KindMalformed, "", err)
	}
	if r.Len() > 0 {
		return nil, newDecodeError(KindMalformed, fmt.Sprintf("%d trailing bytes", r.Len()), nil)
	}
	return v, nil
}

type decoder struct {
	dec     *msgpack.Decoder
	r       *bytes.Reader
	keepExt bool
}

func (d *decoder) value(depth int) (Value, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("nesting deeper than %d", maxDepth)
	}
	c, err := d.dec.PeekCode()
	if err != nil {
		return nil, err
	}

	switch {
	case c == msgpcode.Nil:
		return Nil{}, d.dec.DecodeNil()
	case c == msgpcode.False || c == msgpcode.True:
		b, err := d.dec.DecodeBool()
		return Bool(b), err
	case c == msgpcode.Uint64:
		n, err := d.dec.DecodeUint64()
		if err != nil {
			return nil, err
		}
		if n > math.MaxInt64 {
			return Uint(n), nil
		}
		return Int(int64(n)), nil
	case msgpcode.IsFixedNum(c), isIntCode(c):
		n, err := d.dec.DecodeInt64()
		return Int(n), err
	case c == msgpcode.Float:
		f, err := d.dec.DecodeFloat32()
		return Float(float64(f)), err
	case c == msgpcode.Double:
		f, err := d.dec.DecodeFloat64()
		return Float(f), err
	case msgpcode.IsString(c):
		s, err := d.dec.DecodeString()
		return String(s), err
	case msgpcode.IsBin(c):
		b, err := d.dec.DecodeBytes()
		if b == nil {
			b = []byte{}
		}
		return Bytes(b), err
	case msgpcode.IsFixedArray(c), c == msgpcode.Array16, c == msgpcode.Array32:
		return d.array(depth)
	case msgpcode.IsFixedMap(c), c == msgpcode.Map16, c == msgpcode.Map32:
		return d.mapping(depth)
	case msgpcode.IsExt(c):
		return d.ext(depth)
	default:
		return nil, fmt.Errorf("invalid code 0x%x", c)
	}
}

func isIntCode(c byte) bool {
	switch c {
	case msgpcode.Uint8, msgpcode.Uint16, msgpcode.Uint32,
		msgpcode.Int8, msgpcode.Int16, msgpcode.Int32, msgpcode.Int64:
		return true
	}
	return false
}

func (d *decoder) array(depth int) (Value, error) {
	n, err := d.dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return Nil{}, nil
	}
	if n > d.r.Len() {
		return nil, fmt.Errorf("array length %d exceeds remaining input", n)
	}
	out := make(Array, n)
	for i := range out {
		if out[i], err = d.value(depth + 1); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) mapping(depth int) (Value, error) {
	n, err := d.dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return Nil{}, nil
	}
	if 2*n > d.r.Len() {
		return nil, fmt.Errorf("map length %d exceeds remaining input", n)
	}
	out := make(Map, n)
	for i := range out {
		if out[i].Key, err = d.value(depth + 1); err != nil {
			return nil, err
		}
		if out[i].Value, err = d.value(depth + 1); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) ext(depth int) (Value, error) {
	code, n, err := d.dec.DecodeExtHeader()
	if err != nil {
		return nil, err
	}
	if n > d.r.Len() {
		return nil, fmt.Errorf("ext length %d exceeds remaining input", n)
	}
	data := make([]byte, n)
	if err := d.dec.ReadFull(data); err != nil {
		return nil, err
	}
	if d.keepExt {
		return Ext{Code: code, Data: data}, nil
	}
	return unwrapExt(code, data, depth), nil
}

// unwrapExt resolves a wrapped object to its property map. A payload that
// fails to decode is kept as raw bytes so one bad object cannot fail the
// whole checkpoint.
func unwrapExt(code int8, data []byte, depth int) Value {
	if code != ExtWrappedObject {
		return Ext{Code: code, Data: data}
	}
	inner, err := decodeBytes(data, depth+1, false)
	if err != nil {
		return Bytes(data)
	}
	if arr, ok := inner.(Array); ok && len(arr) >= 3 {
		if props, ok := arr[2].(Map); ok {
			return props
		}
	}
	return inner
}
