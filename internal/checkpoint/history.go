package checkpoint

import (
	"errors"
	"fmt"
	"strings"

	"campus-assistant/internal/domain"
)

var errUnexpectedShape = errors.New("unexpected message shape")

// EntryError describes a message entry that was skipped during projection.
type EntryError struct {
	Index int
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("checkpoint: message %d: %v", e.Index, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// ExtractMessages projects the message list of a decoded checkpoint into
// display messages. Entries that cannot be projected are skipped and reported
// in the second return value; a checkpoint without messages yields an empty
// list.
func ExtractMessages(v Value) ([]domain.ChatMessage, []error) {
	out := []domain.ChatMessage{}
	list, ok := locateMessages(v).(Array)
	if !ok {
		return out, nil
	}

	var skipped []error
	for i, entry := range list {
		msg, err := projectMessage(entry)
		if err != nil {
			skipped = append(skipped, &EntryError{Index: i, Err: err})
			continue
		}
		out = append(out, msg)
	}
	return out, skipped
}

// locateMessages checks channel_values.messages, values.messages and then a
// top-level messages key.
func locateMessages(v Value) Value {
	root, ok := v.(Map)
	if !ok {
		return nil
	}
	for _, container := range []string{"channel_values", "values"} {
		inner, ok := root.GetMap(container)
		if !ok {
			continue
		}
		if msgs, ok := inner.Get("messages"); ok && !IsNil(msgs) {
			return msgs
		}
	}
	if msgs, ok := root.Get("messages"); ok && !IsNil(msgs) {
		return msgs
	}
	return nil
}

func projectMessage(entry Value) (domain.ChatMessage, error) {
	if x, ok := entry.(Ext); ok && x.Code == ExtWrappedObject {
		entry = unwrapExt(x.Code, x.Data, 0)
	}
	props, ok := entry.(Map)
	if !ok {
		return domain.ChatMessage{}, fmt.Errorf("%w: entry is %s", errUnexpectedShape, shapeName(entry))
	}

	role := "unknown"
	switch t := lookup(props, "type").(type) {
	case nil, Nil:
	case String:
		role = string(t)
	default:
		return domain.ChatMessage{}, fmt.Errorf("%w: type is %s", errUnexpectedShape, shapeName(t))
	}

	return domain.ChatMessage{
		Role:    role,
		Content: contentText(lookup(props, "content")),
		ID:      optionalText(props, "id"),
		Name:    optionalText(props, "name"),
	}, nil
}

func contentText(v Value) string {
	switch c := v.(type) {
	case nil, Nil:
		return ""
	case String:
		return string(c)
	case Array:
		var parts []string
		for _, item := range c {
			part, ok := item.(Map)
			if !ok {
				continue
			}
			if typ, _ := part.GetString("type"); typ != "text" {
				continue
			}
			text, _ := part.GetString("text")
			parts = append(parts, text)
		}
		return strings.Join(parts, " ")
	default:
		return Display(c)
	}
}

// optionalText returns nil for an absent or null field. Non-string values are
// rendered with Display.
func optionalText(m Map, key string) *string {
	v := lookup(m, key)
	if v == nil || IsNil(v) {
		return nil
	}
	s := Display(v)
	return &s
}

func lookup(m Map, key string) Value {
	v, _ := m.Get(key)
	return v
}

func shapeName(v Value) string {
	switch v.(type) {
	case nil, Nil:
		return "nil"
	case Bool:
		return "bool"
	case Int, Uint:
		return "integer"
	case Float:
		return "float"
	case String:
		return "string"
	case Bytes:
		return "bytes"
	case Array:
		return "array"
	case Map:
		return "map"
	case Ext:
		return "ext"
	default:
		return fmt.Sprintf("%T", v)
	}
}
