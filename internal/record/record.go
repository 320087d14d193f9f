package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	nameField     = "name"
	positionField = "position"
)

// RawData is the raw representation of one record as returned by a source.
type RawData struct {
	Position uint64
	Payload  []byte
}

// Record is one immutable item of a remote collection.
type Record struct {
	Position   uint64            `json:"position" yaml:"position"`
	Name       string            `json:"name" yaml:"name"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`

	// typed holds the JSON text of attributes that were not strings in the
	// source payload, so Payload can restore their types.
	typed map[string]json.RawMessage
}

// ConstructionError reports raw data that cannot be turned into a Record.
type ConstructionError struct {
	Position uint64
	Reason   string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("record %d: %s", e.Position, e.Reason)
}

func constructionErrorf(position uint64, format string, args ...interface{}) error {
	return &ConstructionError{Position: position, Reason: fmt.Sprintf(format, args...)}
}

// FromRaw builds a Record from raw source data.
// The payload must be a JSON object with a non-blank string "name". An optional
// "position" field must match the position the data was fetched for. Every other
// top-level key becomes an attribute.
func FromRaw(raw RawData) (Record, error) {
	if len(raw.Payload) == 0 {
		return Record{}, constructionErrorf(raw.Position, "empty payload")
	}
	if !gjson.ValidBytes(raw.Payload) {
		return Record{}, constructionErrorf(raw.Position, "payload is not valid JSON")
	}

	doc := gjson.ParseBytes(raw.Payload)
	if !doc.IsObject() {
		return Record{}, constructionErrorf(raw.Position, "payload must be a JSON object, got %s", doc.Type)
	}

	name := doc.Get(nameField)
	if !name.Exists() {
		return Record{}, constructionErrorf(raw.Position, "missing %q field", nameField)
	}
	if name.Type != gjson.String {
		return Record{}, constructionErrorf(raw.Position, "%q must be a string, got %s", nameField, name.Type)
	}
	if strings.TrimSpace(name.String()) == "" {
		return Record{}, constructionErrorf(raw.Position, "%q must not be blank", nameField)
	}

	if pos := doc.Get(positionField); pos.Exists() {
		if pos.Type != gjson.Number || pos.Uint() != raw.Position || pos.Raw != fmt.Sprint(pos.Uint()) {
			return Record{}, constructionErrorf(raw.Position, "%q field %s does not match position", positionField, pos.Raw)
		}
	}

	rec := Record{
		Position: raw.Position,
		Name:     name.String(),
	}

	doc.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if k == nameField || k == positionField {
			return true
		}
		if rec.Attributes == nil {
			rec.Attributes = make(map[string]string)
		}
		if value.Type == gjson.String {
			rec.Attributes[k] = value.String()
			return true
		}
		rec.Attributes[k] = value.Raw
		if rec.typed == nil {
			rec.typed = make(map[string]json.RawMessage)
		}
		rec.typed[k] = json.RawMessage(value.Raw)
		return true
	})

	return rec, nil
}

// Clone returns a copy of r that shares no memory with it.
func (r Record) Clone() Record {
	cp := r
	if r.Attributes != nil {
		cp.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			cp.Attributes[k] = v
		}
	}
	if r.typed != nil {
		cp.typed = make(map[string]json.RawMessage, len(r.typed))
		for k, v := range r.typed {
			cp.typed[k] = v
		}
	}
	return cp
}

// Attribute returns the named attribute.
func (r Record) Attribute(key string) (string, bool) {
	v, ok := r.Attributes[key]
	return v, ok
}

// AttributeKeys returns the attribute names in sorted order.
func (r Record) AttributeKeys() []string {
	keys := make([]string, 0, len(r.Attributes))
	for k := range r.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Payload encodes r as a JSON object that FromRaw accepts for the same position.
// Attributes read from non-string JSON values keep their original JSON type;
// every other attribute is encoded as a string.
func (r Record) Payload() ([]byte, error) {
	obj := make(map[string]interface{}, len(r.Attributes)+2)
	for k, v := range r.Attributes {
		if raw, ok := r.typed[k]; ok && string(raw) == v {
			obj[k] = raw
			continue
		}
		obj[k] = v
	}
	obj[positionField] = r.Position
	obj[nameField] = r.Name

	b, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode record %d: %w", r.Position, err)
	}
	return b, nil
}
