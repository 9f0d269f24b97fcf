package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidPayload is returned when a request body is not a single JSON object.
var ErrInvalidPayload = errors.New("request body must be a JSON object")

// Payload is an opaque JSON object. Keys keep their original order and
// values are kept as raw JSON, so fields the proxy does not know about
// survive a decode/encode round trip.
type Payload struct {
	keys   []string
	values map[string]json.RawMessage
}

// ParsePayload reads r to EOF and decodes it as a Payload.
func ParsePayload(r io.Reader) (*Payload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	var p Payload
	if err := p.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &p, nil
}

// UnmarshalJSON implements json.Unmarshaler. A repeated key keeps its
// first position and takes the last value.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("%w: invalid JSON", ErrInvalidPayload)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: got %v", ErrInvalidPayload, describeToken(tok))
	}

	p.keys = p.keys[:0]
	p.values = make(map[string]json.RawMessage)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: object key is not a string", ErrInvalidPayload)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("%w: value for %q: %v", ErrInvalidPayload, key, err)
		}
		p.Set(key, raw)
	}

	// Closing brace; json.Valid already rejected trailing data.
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// MarshalJSON implements json.Marshaler. Keys are written in original
// order and values are compacted.
func (p *Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, fmt.Errorf("encode key %q: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		if err := json.Compact(&buf, p.values[key]); err != nil {
			return nil, fmt.Errorf("encode value for %q: %w", key, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Set stores raw under key, appending key if it is new.
func (p *Payload) Set(key string, raw json.RawMessage) {
	if p.values == nil {
		p.values = make(map[string]json.RawMessage)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = raw
}

// Get returns the raw value stored under key.
func (p *Payload) Get(key string) (json.RawMessage, bool) {
	raw, ok := p.values[key]
	return raw, ok
}

// Keys returns the keys in original order.
func (p *Payload) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of keys.
func (p *Payload) Len() int {
	return len(p.keys)
}

// Query returns the "query" field when it is a JSON string.
func (p *Payload) Query() (string, bool) {
	raw, ok := p.values["query"]
	if !ok {
		return "", false
	}
	var q string
	if err := json.Unmarshal(raw, &q); err != nil {
		return "", false
	}
	return q, true
}

func describeToken(tok json.Token) string {
	switch v := tok.(type) {
	case json.Delim:
		return fmt.Sprintf("%q", v.String())
	case string:
		return "string"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
