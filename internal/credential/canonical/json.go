package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"sumbandila/internal/credential/models"
)

// ParseJSON decodes a JSON object into a record. Unlike json.Unmarshal it
// fails on duplicate keys at any depth instead of keeping the last value, and
// it keeps numbers as json.Number so integer precision survives.
func ParseJSON(data []byte) (models.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, invalidRecord("record is not valid JSON")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, invalidRecord("record must be a JSON object")
	}
	obj, err := decodeObject(dec, 0)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, invalidRecord("trailing data after JSON record")
	}
	return models.Record(obj), nil
}

// decodeObject reads the members of an object whose opening brace has
// already been consumed.
func decodeObject(dec *json.Decoder, depth int) (map[string]any, error) {
	if depth > MaxDepth {
		return nil, invalidRecord("record nesting too deep")
	}
	obj := make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, invalidRecord("record is not valid JSON")
		}
		key, ok := tok.(string)
		if !ok {
			return nil, invalidRecord("record is not valid JSON")
		}
		if err := validateKey(key); err != nil {
			return nil, err
		}
		if _, dup := obj[key]; dup {
			return nil, invalidRecord(fmt.Sprintf("duplicate key %q", key))
		}
		v, err := decodeValue(dec, depth)
		if err != nil {
			return nil, err
		}
		obj[key] = v
	}
	if _, err := dec.Token(); err != nil {
		return nil, invalidRecord("record is not valid JSON")
	}
	return obj, nil
}

func decodeList(dec *json.Decoder, depth int) ([]any, error) {
	if depth > MaxDepth {
		return nil, invalidRecord("record nesting too deep")
	}
	items := []any{}
	for dec.More() {
		v, err := decodeValue(dec, depth)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, invalidRecord("record is not valid JSON")
	}
	return items, nil
}

func decodeValue(dec *json.Decoder, depth int) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, invalidRecord("record is not valid JSON")
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec, depth+1)
		case '[':
			return decodeList(dec, depth+1)
		default:
			return nil, invalidRecord("record is not valid JSON")
		}
	default:
		// string, json.Number, bool or nil
		return t, nil
	}
}
