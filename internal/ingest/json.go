package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"logsentry/internal/model"
)

// ParseJSONBytes decodes one JSON object into an event, keeping the order
// of its top-level keys. Keys are lowercased; nested values stay as decoded
// by encoding/json.
func ParseJSONBytes(data []byte) (*model.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("json line is not an object")
	}
	ev := model.NewEvent()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected json token %v", tok)
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return nil, err
		}
		if n, ok := val.(json.Number); ok {
			val = numberValue(n)
		}
		ev.Set(strings.ToLower(key), val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after json object")
	}
	return ev, nil
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
