// Package serialize provides the codecs used to persist task outputs. Every
// codec obeys the round-trip law: Unmarshal(Marshal(x)) reproduces a value
// equal to x for its declared type.
package serialize

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Serializer encodes and decodes one value type and names the file extension
// of its persisted form.
type Serializer interface {
	Extension() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// JSON returns the structured-text codec for values of type T.
func JSON[T any]() Serializer { return jsonSerializer[T]{} }

type jsonSerializer[T any] struct{}

func (jsonSerializer[T]) Extension() string { return "json" }

func (jsonSerializer[T]) Marshal(v any) ([]byte, error) {
	tv, ok := v.(T)
	if !ok {
		return nil, fmt.Errorf("serialize: expected %T, got %T", *new(T), v)
	}
	return json.Marshal(tv)
}

func (jsonSerializer[T]) Unmarshal(data []byte) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// JSONAny is the schemaless JSON codec, used when a definition declares no
// serializer.
func JSONAny() Serializer { return jsonAny{} }

type jsonAny struct{}

func (jsonAny) Extension() string { return "json" }

func (jsonAny) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonAny) Unmarshal(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// YAML returns the YAML codec for values of type T.
func YAML[T any]() Serializer { return yamlSerializer[T]{} }

type yamlSerializer[T any] struct{}

func (yamlSerializer[T]) Extension() string { return "yaml" }

func (yamlSerializer[T]) Marshal(v any) ([]byte, error) {
	tv, ok := v.(T)
	if !ok {
		return nil, fmt.Errorf("serialize: expected %T, got %T", *new(T), v)
	}
	return yaml.Marshal(tv)
}

func (yamlSerializer[T]) Unmarshal(data []byte) (any, error) {
	var v T
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Text is the codec for plain strings.
func Text() Serializer { return textSerializer{} }

type textSerializer struct{}

func (textSerializer) Extension() string { return "txt" }

func (textSerializer) Marshal(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("serialize: expected string, got %T", v)
	}
	return []byte(s), nil
}

func (textSerializer) Unmarshal(data []byte) (any, error) {
	return string(data), nil
}

// Bytes is the binary-blob fallback: values persist verbatim.
func Bytes() Serializer { return bytesSerializer{} }

type bytesSerializer struct{}

func (bytesSerializer) Extension() string { return "bin" }

func (bytesSerializer) Marshal(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("serialize: expected []byte, got %T", v)
	}
	return append([]byte(nil), b...), nil
}

func (bytesSerializer) Unmarshal(data []byte) (any, error) {
	return append([]byte(nil), data...), nil
}

// CSV is the columnar codec for row-oriented [][]string data.
func CSV() Serializer { return csvSerializer{} }

type csvSerializer struct{}

func (csvSerializer) Extension() string { return "csv" }

func (csvSerializer) Marshal(v any) ([]byte, error) {
	rows, ok := v.([][]string)
	if !ok {
		return nil, fmt.Errorf("serialize: expected [][]string, got %T", v)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (csvSerializer) Unmarshal(data []byte) (any, error) {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// For selects the default codec for type T: plain text for strings, the raw
// blob for []byte, CSV for [][]string rows, JSON for everything else.
func For[T any]() Serializer {
	var zero T
	switch any(zero).(type) {
	case string:
		return Text()
	case []byte:
		return Bytes()
	case [][]string:
		return CSV()
	}
	return JSON[T]()
}
