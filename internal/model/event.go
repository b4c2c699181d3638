package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event is one parsed log line. Fields keep the order in which the parser
// set them. Reader names the module that produced the event.
type Event struct {
	Reader string
	keys   []string
	fields map[string]any
}

func NewEvent() *Event {
	return &Event{fields: make(map[string]any)}
}

func (e *Event) Set(key string, value any) {
	if e.fields == nil {
		e.fields = make(map[string]any)
	}
	if _, ok := e.fields[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.fields[key] = value
}

func (e *Event) Get(key string) (any, bool) {
	if e == nil {
		return nil, false
	}
	v, ok := e.fields[key]
	return v, ok
}

// String returns the field formatted as a string, or "" when absent.
func (e *Event) String(key string) string {
	v, ok := e.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (e *Event) Keys() []string {
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}

func (e *Event) Len() int {
	return len(e.keys)
}

// Map returns a copy of the fields suitable for storing in state.
func (e *Event) Map() map[string]any {
	out := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

func (e *Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range e.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.fields[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
