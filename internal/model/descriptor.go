package model

import (
	"fmt"
	"reflect"
	"strings"
)

// Field — compile-time описание одного поля модели.
type Field struct {
	Name    string // wire-имя (lowerCamel, из json-тега)
	GoName  string
	Type    string // объявленный тип: id, string, secret, url, bool, u32, u64, i64, f64, datetime, name, []string
	Widget  string
	PK      bool
	Unique  bool
	Indexed bool
	Common  bool

	// ссылки: IsRef=true для полей типа Name; пустой Targets = любая сущность
	IsRef   bool
	Targets []*Descriptor

	index []int // путь до поля в структуре (reflect)
}

// Descriptor — собранная из структуры схема модели.
type Descriptor struct {
	Name       string // PascalCase имя модели
	Module     string
	Resource   string // snake_case единственное число; входит в KV-префикс
	Collection string // сегмент маршрута и ключ прав; по умолчанию = Resource
	Fields     []Field
	PK         []string // wire-имена полей первичного ключа, по порядку объявления

	template string // "module/collection/{pk}"
	rtype    reflect.Type
}

type Option func(*Descriptor)

// WithTemplate переопределяет ресурсный шаблон ("segment/.../{pk}").
func WithTemplate(tpl string) Option {
	return func(d *Descriptor) { d.template = tpl }
}

// WithCollection переопределяет сегмент маршрута (обычно множественное
// число: ресурс "item", коллекция "items").
func WithCollection(coll string) Option {
	return func(d *Descriptor) { d.Collection = coll }
}

// WithRef назначает целевые модели ссылочному полю. Без этой опции поле
// типа Name принимает любое ресурсное имя.
func WithRef(field string, targets ...*Descriptor) Option {
	return func(d *Descriptor) {
		for i := range d.Fields {
			if d.Fields[i].Name == field {
				d.Fields[i].Targets = targets
				return
			}
		}
		panic(fmt.Sprintf("model %s: ref option for unknown field %q", d.Name, field))
	}
}

var (
	typeID        = reflect.TypeOf(ID(""))
	typeSecret    = reflect.TypeOf(Secret(""))
	typeURL       = reflect.TypeOf(URL(""))
	typeTimestamp = reflect.TypeOf(Timestamp(""))
	typeName      = reflect.TypeOf(Name(""))
	typeCommon    = reflect.TypeOf(Common{})
)

func declaredType(t reflect.Type) string {
	switch t {
	case typeID:
		return "id"
	case typeSecret:
		return "secret"
	case typeURL:
		return "url"
	case typeTimestamp:
		return "datetime"
	case typeName:
		return "name"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Uint32:
		return "u32"
	case reflect.Uint, reflect.Uint64:
		return "u64"
	case reflect.Int, reflect.Int32, reflect.Int64:
		return "i64"
	case reflect.Float32, reflect.Float64:
		return "f64"
	case reflect.Slice:
		if t.Elem().Kind() == reflect.String {
			return "[]string"
		}
	}
	return "string"
}

// inferWidget — фиксированная таблица вывода widget по объявленному типу.
// Явная аннотация widget=... в теге всегда побеждает.
func inferWidget(ty string) string {
	switch ty {
	case "secret":
		return "hidden"
	case "url":
		return "url"
	case "bool":
		return "switch"
	case "[]string":
		return "tags"
	case "datetime":
		return "datetime"
	case "id":
		return "readonly"
	}
	return "text"
}

func jsonName(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	if tag == "" {
		return sf.Name
	}
	name := strings.Split(tag, ",")[0]
	if name == "" {
		return sf.Name
	}
	return name
}

// Describe собирает дескриптор модели из прототипа структуры.
// Поля идут в порядке объявления, служебные (Common) — всегда в хвосте.
func Describe(module, resource string, proto any, opts ...Option) *Descriptor {
	t := reflect.TypeOf(proto)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		panic("model.Describe: proto must be a struct")
	}

	d := &Descriptor{
		Name:       t.Name(),
		Module:     module,
		Resource:   resource,
		Collection: resource,
		rtype:      t,
	}

	var commonIdx []int
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Anonymous && sf.Type == typeCommon {
			commonIdx = sf.Index
			continue
		}
		if !sf.IsExported() {
			continue
		}
		ty := declaredType(sf.Type)
		f := Field{
			Name:   jsonName(sf),
			GoName: sf.Name,
			Type:   ty,
			Widget: inferWidget(ty),
			IsRef:  sf.Type == typeName,
			index:  sf.Index,
		}
		// тег korob: "pk", "unique", "index", "widget=...", через запятую
		for _, tok := range strings.Split(sf.Tag.Get("korob"), ",") {
			switch tok = strings.TrimSpace(tok); {
			case tok == "pk":
				f.PK = true
			case tok == "unique":
				f.Unique = true
			case tok == "index":
				f.Indexed = true
			case strings.HasPrefix(tok, "widget="):
				f.Widget = strings.TrimPrefix(tok, "widget=")
			}
		}
		if f.PK {
			d.PK = append(d.PK, f.Name)
		}
		d.Fields = append(d.Fields, f)
	}

	if len(commonIdx) > 0 {
		d.appendCommon(commonIdx)
	}
	if len(d.PK) == 0 {
		panic(fmt.Sprintf("model %s: no primary key field (tag korob:\"pk\")", d.Name))
	}

	for _, opt := range opts {
		opt(d)
	}
	// дефолтный шаблон считается после опций: коллекция могла смениться
	if d.template == "" {
		d.template = module + "/" + d.Collection + "/{" + d.PK[0] + "}"
	}
	return d
}

func (d *Descriptor) appendCommon(base []int) {
	ct := typeCommon
	for i := 0; i < ct.NumField(); i++ {
		sf := ct.Field(i)
		ty := declaredType(sf.Type)
		if sf.Name == "CreatedAt" || sf.Name == "UpdatedAt" {
			ty = "datetime"
		}
		d.Fields = append(d.Fields, Field{
			Name:   jsonName(sf),
			GoName: sf.Name,
			Type:   ty,
			Widget: inferWidget(ty),
			Common: true,
			index:  append(append([]int{}, base...), sf.Index...),
		})
	}
}

// KVPrefix — префикс ключей в KV: "{module}:{resource}:".
func (d *Descriptor) KVPrefix() string {
	return d.Module + ":" + d.Resource + ":"
}

// NameTemplate — полный ресурсный шаблон модели.
func (d *Descriptor) NameTemplate() string { return d.template }

// NamePrefix — шаблон до подстановки первичного ключа (не включая "{").
func (d *Descriptor) NamePrefix() string {
	if i := strings.IndexByte(d.template, '{'); i >= 0 {
		return d.template[:i]
	}
	return d.template
}

// ResourceName подставляет первичный ключ записи в шаблон.
func (d *Descriptor) ResourceName(rec any) string {
	pk := d.PKValues(rec)
	if len(pk) == 0 {
		return ""
	}
	return d.NamePrefix() + pk[0]
}

func (d *Descriptor) field(name string) *Field {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

func (d *Descriptor) recValue(rec any) reflect.Value {
	v := reflect.ValueOf(rec)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	return v
}

// PKValues возвращает значения полей первичного ключа записи (строками,
// в порядке объявления ключа).
func (d *Descriptor) PKValues(rec any) []string {
	v := d.recValue(rec)
	out := make([]string, 0, len(d.PK))
	for _, name := range d.PK {
		f := d.field(name)
		if f == nil {
			continue
		}
		out = append(out, fmt.Sprint(v.FieldByIndex(f.index).Interface()))
	}
	return out
}

// SetPK записывает значение первичного ключа (первого поля ключа).
func (d *Descriptor) SetPK(rec any, id string) {
	f := d.field(d.PK[0])
	fv := d.recValue(rec).FieldByIndex(f.index)
	fv.SetString(id)
}
