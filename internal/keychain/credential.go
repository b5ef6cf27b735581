package keychain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Credential is one entry found by enumerating a service. It is built once
// by a backend and not modified afterwards.
type Credential struct {
	Service    string     `json:"server"`
	Account    string     `json:"account"`
	Attributes Attributes `json:"settings"`
}

// Attribute is a single key/value pair of platform-specific metadata.
type Attribute struct {
	Key   string
	Value string
}

// Attributes is an ordered string mapping. The zero value is empty and ready
// to use. Keys keep the order in which they were first added.
type Attributes struct {
	items []Attribute
}

// NewAttributes builds an Attributes from pairs, later duplicates replacing
// earlier values in place.
func NewAttributes(pairs ...Attribute) Attributes {
	var a Attributes
	for _, p := range pairs {
		a = a.with(p.Key, p.Value)
	}
	return a
}

func (a Attributes) with(key, value string) Attributes {
	items := make([]Attribute, len(a.items), len(a.items)+1)
	copy(items, a.items)
	for i := range items {
		if items[i].Key == key {
			items[i].Value = value
			return Attributes{items: items}
		}
	}
	return Attributes{items: append(items, Attribute{Key: key, Value: value})}
}

// Get returns the value for key and whether it is present.
func (a Attributes) Get(key string) (string, bool) {
	for _, it := range a.items {
		if it.Key == key {
			return it.Value, true
		}
	}
	return "", false
}

func (a Attributes) Len() int { return len(a.items) }

// Keys returns the keys in order.
func (a Attributes) Keys() []string {
	keys := make([]string, len(a.items))
	for i, it := range a.items {
		keys[i] = it.Key
	}
	return keys
}

// Each calls fn for every pair in order.
func (a Attributes) Each(fn func(key, value string)) {
	for _, it := range a.items {
		fn(it.Key, it.Value)
	}
}

// MarshalJSON encodes the attributes as a JSON object in key order.
func (a Attributes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, it := range a.items {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(it.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(it.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of strings, keeping document order.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*a = Attributes{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("attributes: expected object, got %v", tok)
	}
	var out Attributes
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("attributes: expected string key, got %v", kt)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("attributes: value for %q: %w", key, err)
		}
		out = out.with(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*a = out
	return nil
}

// Well-known attribute keys, in the order backends emit them.
const (
	AttrPath        = "path"
	AttrDomain      = "domain"
	AttrPort        = "port"
	AttrProtocol    = "protocol"
	AttrLabel       = "label"
	AttrDescription = "description"
	AttrComment     = "comment"
	AttrModified    = "modified"
)

// Extractor pulls one optional attribute out of a native record of type R.
// Extract reports false when the record does not carry the attribute.
type Extractor[R any] struct {
	Key     string
	Extract func(R) (string, bool)
}

// StringField is present when get returns a non-empty string.
func StringField[R any](key string, get func(R) string) Extractor[R] {
	return Extractor[R]{Key: key, Extract: func(r R) (string, bool) {
		v := get(r)
		return v, v != ""
	}}
}

// IntField is present when get returns a non-zero value, formatted in decimal.
func IntField[R any](key string, get func(R) int) Extractor[R] {
	return Extractor[R]{Key: key, Extract: func(r R) (string, bool) {
		v := get(r)
		if v == 0 {
			return "", false
		}
		return strconv.Itoa(v), true
	}}
}

// Extract applies extractors to rec in order and collects the attributes
// that are present. Absent attributes are omitted, not stored as "".
func Extract[R any](rec R, extractors []Extractor[R]) Attributes {
	var items []Attribute
	for _, ex := range extractors {
		if v, ok := ex.Extract(rec); ok {
			items = append(items, Attribute{Key: ex.Key, Value: v})
		}
	}
	return NewAttributes(items...)
}
