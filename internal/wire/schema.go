package wire

import (
	"reflect"
	"strings"

	"korob/internal/model"
)

// SchemaFor строит схему проекции из структуры: поля в порядке объявления,
// wire-имена из json-тегов, строки с omitempty считаются optional.
// Встроенные структуры разворачиваются на месте.
func SchemaFor(proto any) *Schema {
	t := reflect.TypeOf(proto)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	s := &Schema{Name: t.Name()}
	collect(t, s)
	return s
}

func collect(t reflect.Type, s *Schema) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct {
			collect(sf.Type, s)
			continue
		}
		tag := sf.Tag.Get("json")
		name := strings.Split(tag, ",")[0]
		if name == "-" {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		optional := strings.Contains(tag, ",omitempty")
		s.Fields = append(s.Fields, Field{
			Name:     name,
			Kind:     kindOf(sf.Type),
			Optional: optional && kindOf(sf.Type) == String,
		})
	}
}

func kindOf(t reflect.Type) Kind {
	switch t.Kind() {
	case reflect.Bool:
		return Bool
	case reflect.Uint32:
		return U32
	case reflect.Uint, reflect.Uint64:
		return U64
	case reflect.Int, reflect.Int32, reflect.Int64:
		return I64
	case reflect.Float32, reflect.Float64:
		return F64
	case reflect.Slice:
		if t.Elem().Kind() == reflect.String {
			return StringList
		}
	}
	return String
}

// FromDescriptor строит wire-схему модели: пользовательские поля по порядку
// объявления, затем служебные (как в IR). Optional — displayName,
// description и metadata.
func FromDescriptor(d *model.Descriptor) *Schema {
	s := &Schema{Name: d.Name}
	for _, f := range d.Fields {
		k := String
		switch f.Type {
		case "bool":
			k = Bool
		case "u32":
			k = U32
		case "u64":
			k = U64
		case "i64":
			k = I64
		case "f64":
			k = F64
		case "[]string":
			k = StringList
		}
		opt := f.Common && (f.Name == "displayName" || f.Name == "description" || f.Name == "metadata")
		s.Fields = append(s.Fields, Field{Name: f.Name, Kind: k, Optional: opt})
	}
	return s
}
