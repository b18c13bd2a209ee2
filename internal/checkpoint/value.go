// Package checkpoint encodes and decodes persisted conversation checkpoints.
//
// Checkpoints are MessagePack documents. Decoded data is represented by the
// closed Value variant so every consumer switches over a known set of shapes
// instead of asserting on interface{} trees.
package checkpoint

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Value is one decoded MessagePack node. The set of implementations is closed:
// Nil, Bool, Int, Uint, Float, String, Bytes, Array, Map and Ext.
type Value interface {
	isValue()
}

type (
	Nil    struct{}
	Bool   bool
	Int    int64
	Float  float64
	String string
	Bytes  []byte
	Array  []Value
	Map    []Entry
)

// Uint holds unsigned integers that do not fit in an int64. Smaller unsigned
// values decode as Int.
type Uint uint64

// Entry is one key/value pair of a Map. Keys may be any Value.
type Entry struct {
	Key   Value
	Value Value
}

// Ext is an extension payload whose type code has no decoder.
type Ext struct {
	Code int8
	Data []byte
}

func (Nil) isValue()    {}
func (Bool) isValue()   {}
func (Int) isValue()    {}
func (Uint) isValue()   {}
func (Float) isValue()  {}
func (String) isValue() {}
func (Bytes) isValue()  {}
func (Array) isValue()  {}
func (Map) isValue()    {}
func (Ext) isValue()    {}

// Field builds a string-keyed map entry.
func Field(key string, v Value) Entry {
	return Entry{Key: String(key), Value: v}
}

// Get returns the value stored under a string key. The first match wins.
func (m Map) Get(key string) (Value, bool) {
	for _, e := range m {
		if k, ok := e.Key.(String); ok && string(k) == key {
			return e.Value, true
		}
	}
	return nil, false
}

// GetMap returns the nested map stored under key, if the value is a map.
func (m Map) GetMap(key string) (Map, bool) {
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	inner, ok := v.(Map)
	return inner, ok
}

// GetString returns the string stored under key, if the value is a string.
func (m Map) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(String)
	return string(s), ok
}

// IsNil reports whether v is absent or an explicit nil.
func IsNil(v Value) bool {
	switch v.(type) {
	case nil, Nil:
		return true
	default:
		return false
	}
}

// Display renders v as a human-readable string.
func Display(v Value) string {
	switch x := v.(type) {
	case nil, Nil:
		return "null"
	case Bool:
		return strconv.FormatBool(bool(x))
	case Int:
		return strconv.FormatInt(int64(x), 10)
	case Uint:
		return strconv.FormatUint(uint64(x), 10)
	case Float:
		return strconv.FormatFloat(float64(x), 'g', -1, 64)
	case String:
		return string(x)
	case Bytes:
		if utf8.Valid(x) {
			return string(x)
		}
		return base64.StdEncoding.EncodeToString(x)
	case Array:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = Display(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Map:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = Display(e.Key) + ": " + Display(e.Value)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case Ext:
		return fmt.Sprintf("ext(%d, %d bytes)", x.Code, len(x.Data))
	default:
		return fmt.Sprintf("%v", x)
	}
}
