package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Params - упорядоченный набор параметров команды.
// Порядок ключей совпадает с порядком первой установки.
type Params struct {
	keys   []string
	values map[string]any
}

// NewParams создает пустой набор параметров.
func NewParams() *Params {
	return &Params{values: make(map[string]any)}
}

// Set устанавливает значение. Повторная установка не меняет позицию ключа.
func (p *Params) Set(key string, value any) *Params {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

func (p *Params) Get(key string) (any, bool) {
	if p == nil || p.values == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

func (p *Params) Delete(key string) {
	if p == nil || p.values == nil {
		return
	}
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Keys возвращает копию ключей в порядке вставки.
func (p *Params) Keys() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.keys...)
}

func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Clone возвращает независимую копию набора.
func (p *Params) Clone() *Params {
	out := NewParams()
	if p == nil {
		return out
	}
	for _, k := range p.keys {
		out.Set(k, p.values[k])
	}
	return out
}

// Encode собирает строку запроса key=value через '&' без URL-экранирования.
func (p *Params) Encode() string {
	if p == nil {
		return ""
	}
	parts := make([]string, 0, len(p.keys))
	for _, k := range p.keys {
		parts = append(parts, k+"="+FormatValue(p.values[k]))
	}
	return strings.Join(parts, "&")
}

// FormatValue приводит скалярное значение к виду, принятому в строке запроса.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// MarshalJSON сохраняет порядок ключей.
func (p *Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if p != nil {
		for i, k := range p.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(p.values[k])
			if err != nil {
				return nil, fmt.Errorf("marshal param %q: %w", k, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON читает плоский JSON объект, сохраняя порядок ключей.
// Целые числа становятся int64, дробные - float64.
func (p *Params) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("params: expected object, got %v", tok)
	}

	out := NewParams()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("params: unexpected key %v", keyTok)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("params: value of %q: %w", key, err)
		}
		if num, ok := raw.(json.Number); ok {
			if i, err := num.Int64(); err == nil {
				raw = i
			} else if f, err := num.Float64(); err == nil {
				raw = f
			}
		}
		switch raw.(type) {
		case map[string]any, []any:
			return fmt.Errorf("params: value of %q is not a scalar", key)
		}
		out.Set(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*p = *out
	return nil
}

// ValueKind - тип значения параметра формы.
type ValueKind string

const (
	KindInteger ValueKind = "integer"
	KindNumber  ValueKind = "number"
	KindString  ValueKind = "string"
	KindBoolean ValueKind = "boolean"
	KindEnum    ValueKind = "enum"
)

// ParamDescriptor описывает один параметр POST эндпоинта.
type ParamDescriptor struct {
	Name        string    `json:"name"`
	Kind        ValueKind `json:"kind"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Description string    `json:"description,omitempty"`
}
