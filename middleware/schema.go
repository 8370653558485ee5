package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/go-openapi/spec"

	"github.com/iwtcode/rigAdapter/models"
	apperrors "github.com/iwtcode/rigAdapter/pkg/errors"
)

const componentsPrefix = "#/components/schemas/"

// Schema - разобранный документ openapi.json сервиса Middleware.
// Объекты параметров OpenAPI 3 совместимы по форме с параметрами Swagger 2,
// поэтому документ читается через go-openapi/spec, а схемы компонентов -
// отдельной картой для разрешения $ref.
type Schema struct {
	doc        spec.Swagger
	components map[string]spec.Schema
}

// ParseSchema разбирает тело openapi.json.
func ParseSchema(data []byte) (*Schema, error) {
	s := &Schema{}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, apperrors.NewDecodeError("openapi document", err)
	}

	var extra struct {
		Components struct {
			Schemas map[string]spec.Schema `json:"schemas"`
		} `json:"components"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return nil, apperrors.NewDecodeError("openapi components", err)
	}
	s.components = extra.Components.Schemas
	return s, nil
}

// FetchSchema загружает и разбирает GET {host}/openapi.json.
func (a *MiddlewareAdapter) FetchSchema(ctx context.Context) (*Schema, error) {
	body, _, err := a.getBytes(ctx, DefaultSchemaPath, "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch schema: %w", err)
	}
	return ParseSchema(body)
}

// PostPaths возвращает отсортированный список путей с POST операцией.
func (s *Schema) PostPaths() []string {
	if s == nil || s.doc.Paths == nil {
		return nil
	}
	var out []string
	for path, item := range s.doc.Paths.Paths {
		if item.Post != nil {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// Operation переводит POST операцию пути в набор дескрипторов параметров.
func (s *Schema) Operation(path string) (Descriptors, error) {
	if s == nil {
		return nil, apperrors.NewUnsupportedError(apperrors.SchemaUnavailable)
	}
	if s.doc.Paths == nil {
		return nil, apperrors.NewUnsupportedError(fmt.Sprintf(apperrors.NotServed, path))
	}
	item, ok := s.doc.Paths.Paths[path]
	if !ok {
		return nil, apperrors.NewUnsupportedError(fmt.Sprintf(apperrors.NotServed, path))
	}
	if item.Post == nil {
		return nil, apperrors.NewUnsupportedError(fmt.Sprintf(apperrors.NonPostRequest, path))
	}
	return TranslateParameters(item.Post.Parameters, s.components), nil
}

// TranslateParameters - чистая функция перевода параметров OpenAPI в дескрипторы.
func TranslateParameters(params []spec.Parameter, components map[string]spec.Schema) Descriptors {
	out := make(Descriptors, 0, len(params))
	for _, p := range params {
		if p.In != "" && p.In != "query" && p.In != "path" {
			continue
		}
		out = append(out, translateParameter(p, components))
	}
	return out
}

func translateParameter(p spec.Parameter, components map[string]spec.Schema) models.ParamDescriptor {
	desc := models.ParamDescriptor{
		Name:        p.Name,
		Required:    p.Required,
		Description: p.Description,
		Kind:        models.KindString,
	}

	var resolved *spec.Schema
	if p.Schema != nil {
		resolved = resolveSchema(p.Schema, components, 0)
		desc.Default = p.Schema.Default
		if desc.Description == "" {
			desc.Description = p.Schema.Description
		}
	}
	if resolved == nil {
		resolved = &spec.Schema{}
		if p.Type != "" {
			resolved.Type = spec.StringOrArray{p.Type}
		}
	}
	if desc.Default == nil {
		desc.Default = resolved.Default
	}
	if desc.Default == nil {
		desc.Default = p.Default
	}

	if len(resolved.Enum) > 0 {
		desc.Kind = models.KindEnum
		for _, v := range resolved.Enum {
			desc.Enum = append(desc.Enum, models.FormatValue(v))
		}
	} else {
		desc.Kind = kindFromType(resolved.Type)
	}

	if desc.Kind == models.KindInteger {
		if f, ok := desc.Default.(float64); ok && f == math.Trunc(f) {
			desc.Default = int64(f)
		}
	}
	return desc
}

// resolveSchema раскрывает $ref, allOf из одного элемента и anyOf с null.
func resolveSchema(s *spec.Schema, components map[string]spec.Schema, depth int) *spec.Schema {
	if s == nil || depth > 8 {
		return s
	}
	if ref := s.Ref.String(); ref != "" {
		if target, ok := components[strings.TrimPrefix(ref, componentsPrefix)]; ok {
			return resolveSchema(&target, components, depth+1)
		}
		return s
	}
	if len(s.AllOf) == 1 && len(s.Type) == 0 && len(s.Enum) == 0 {
		return resolveSchema(&s.AllOf[0], components, depth+1)
	}
	if len(s.AnyOf) > 0 && len(s.Type) == 0 && len(s.Enum) == 0 {
		for i := range s.AnyOf {
			if s.AnyOf[i].Type.Contains("null") {
				continue
			}
			return resolveSchema(&s.AnyOf[i], components, depth+1)
		}
	}
	return s
}

func kindFromType(types spec.StringOrArray) models.ValueKind {
	for _, t := range types {
		switch t {
		case "integer":
			return models.KindInteger
		case "number":
			return models.KindNumber
		case "boolean":
			return models.KindBoolean
		case "string":
			return models.KindString
		}
	}
	return models.KindString
}

// Descriptors - набор дескрипторов параметров одной операции.
type Descriptors []models.ParamDescriptor

// Lookup находит дескриптор по имени.
func (d Descriptors) Lookup(name string) (models.ParamDescriptor, bool) {
	for _, p := range d {
		if p.Name == name {
			return p, true
		}
	}
	return models.ParamDescriptor{}, false
}

// Defaults строит параметры из значений по умолчанию в порядке схемы.
func (d Descriptors) Defaults() *models.Params {
	out := models.NewParams()
	for _, p := range d {
		if p.Default != nil {
			out.Set(p.Name, p.Default)
		}
	}
	return out
}

// Validate проверяет обязательные параметры и типы значений.
func (d Descriptors) Validate(params *models.Params) error {
	for _, p := range d {
		if !p.Required {
			continue
		}
		if _, ok := params.Get(p.Name); !ok {
			return fmt.Errorf("parameter %q is required", p.Name)
		}
	}
	for _, key := range params.Keys() {
		desc, ok := d.Lookup(key)
		if !ok {
			return fmt.Errorf("unknown parameter %q", key)
		}
		v, _ := params.Get(key)
		if err := checkKind(desc, v); err != nil {
			return err
		}
	}
	return nil
}

func checkKind(desc models.ParamDescriptor, v any) error {
	switch desc.Kind {
	case models.KindInteger:
		switch val := v.(type) {
		case int, int32, int64:
			return nil
		case float64:
			if val == math.Trunc(val) {
				return nil
			}
		}
	case models.KindNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return nil
		}
	case models.KindBoolean:
		if _, ok := v.(bool); ok {
			return nil
		}
	case models.KindEnum:
		s := models.FormatValue(v)
		for _, e := range desc.Enum {
			if e == s {
				return nil
			}
		}
		return fmt.Errorf("parameter %q: %q is not one of %s", desc.Name, s, strings.Join(desc.Enum, ", "))
	default:
		if _, ok := v.(string); ok {
			return nil
		}
	}
	return fmt.Errorf("parameter %q: expected %s, got %T", desc.Name, desc.Kind, v)
}

// ParseArgs разбирает аргументы вида key=value в порядке их следования.
// Значения приводятся к типу из дескриптора, неизвестные ключи угадываются.
func (d Descriptors) ParseArgs(args []string) (*models.Params, error) {
	out := models.NewParams()
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", arg)
		}
		desc, known := d.Lookup(key)
		if !known {
			out.Set(key, guessValue(raw))
			continue
		}
		v, err := parseValue(desc, raw)
		if err != nil {
			return nil, err
		}
		out.Set(key, v)
	}
	return out, nil
}

func parseValue(desc models.ParamDescriptor, raw string) (any, error) {
	switch desc.Kind {
	case models.KindInteger:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", desc.Name, err)
		}
		return v, nil
	case models.KindNumber:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", desc.Name, err)
		}
		return v, nil
	case models.KindBoolean:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", desc.Name, err)
		}
		return v, nil
	default:
		return raw, nil
	}
}

func guessValue(raw string) any {
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		return v
	}
	return raw
}
