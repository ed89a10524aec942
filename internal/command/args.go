package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ssd-technologies/depot/internal/collection"
)

// Argument type names advertised in the catalogue.
const (
	TypeInt     = "Int"
	TypeFloat   = "Float"
	TypeString  = "String"
	TypeVehicle = "Vehicle"
)

// Arg declares one named argument of a command.
type Arg struct {
	Name string
	Type string
}

// Schema is an ordered argument list. It encodes as a JSON object of
// name to type with the keys in declaration order, so clients can prompt
// for arguments in a stable sequence.
type Schema []Arg

func (s Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, a := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(a.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(a.Type)
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

func (s *Schema) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("schema: expected object, got %v", tok)
	}
	out := Schema{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var typ string
		if err := dec.Decode(&typ); err != nil {
			return fmt.Errorf("schema: argument %q: %w", name, err)
		}
		out = append(out, Arg{Name: name, Type: typ})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// Names returns the argument names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, a := range s {
		names[i] = a.Name
	}
	return names
}

// Args are the raw string arguments of one request.
type Args map[string]string

func (a Args) raw(name string) (string, error) {
	v, ok := a[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q", name)
	}
	return strings.TrimSpace(v), nil
}

// String returns the named argument.
func (a Args) String(name string) (string, error) {
	return a.raw(name)
}

// Int parses the named argument as an integer.
func (a Args) Int(name string) (int64, error) {
	v, err := a.raw(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %q must be an integer, got %q", name, v)
	}
	return n, nil
}

// Float parses the named argument as a 32-bit float.
func (a Args) Float(name string) (float32, error) {
	v, err := a.raw(name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("argument %q must be a finite number, got %q", name, v)
	}
	return float32(f), nil
}

// Record decodes the named argument as a JSON vehicle and validates it.
func (a Args) Record(name string) (collection.Record, error) {
	v, err := a.raw(name)
	if err != nil {
		return collection.Record{}, err
	}
	var rec collection.Record
	dec := json.NewDecoder(strings.NewReader(v))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return collection.Record{}, fmt.Errorf("argument %q is not a valid vehicle: %w", name, err)
	}
	if err := rec.Validate(); err != nil {
		return collection.Record{}, err
	}
	return rec, nil
}
