// Package facet — проекционные модули: для именованного потребителя
// хост-модуль объявляет набор проекций и действий, из которых
// генерируются маршруты, IR и типизированный клиент.
package facet

import (
	"net/http"
	"strings"

	"korob/internal/wire"
)

// Resource — проекция: структура-прототип плюс сегмент маршрута и имя
// первичного ключа. Для неё генерируются get и list.
type Resource struct {
	Name     string
	Path     string // сегмент маршрута, например "items"
	PK       string // wire-имя ключевого поля
	Singular string // единственное число, опционально
	Proto    any    // экземпляр структуры проекции
}

// Schema — человекочитаемое описание бинарной раскладки проекции.
func (r *Resource) Schema() string {
	return wire.SchemaFor(r.Proto).Describe()
}

// Param — параметр действия; InPath означает подстановку в шаблон URL.
type Param struct {
	Name   string
	InPath bool
}

// Action — именованная операция фасета: метод плюс шаблон пути
// с {name}-подстановками.
type Action struct {
	Name   string
	Method string
	Path   string
	Params []Param
}

// HasBody: тело есть, если метод не DELETE и объявлен хотя бы один
// параметр вне пути.
func (a *Action) HasBody() bool {
	if a.Method == http.MethodDelete {
		return false
	}
	for _, p := range a.Params {
		if !p.InPath {
			return true
		}
	}
	return false
}

// placeholders возвращает {name}-подстановки в порядке появления в шаблоне.
func (a *Action) placeholders() []string {
	var out []string
	rest := a.Path
	for {
		i := strings.IndexByte(rest, '{')
		if i < 0 {
			return out
		}
		j := strings.IndexByte(rest[i:], '}')
		if j < 0 {
			return out
		}
		out = append(out, rest[i+1:i+j])
		rest = rest[i+j+1:]
	}
}

// Definition — объявление фасета для пары (имя потребителя, хост-модуль).
type Definition struct {
	Name      string
	Module    string
	Resources []Resource
	Actions   []Action
}

// BasePath — точка монтирования фасета.
func (d *Definition) BasePath() string {
	return "/" + d.Name + "/" + d.Module
}

// ===== IR =====

type IR struct {
	Name      string       `json:"name"`
	Module    string       `json:"module"`
	Resources []IRResource `json:"resources"`
	Actions   []IRAction   `json:"actions"`
}

type IRResource struct {
	Name string `json:"name"`
	Path string `json:"path"`
	PK   string `json:"pk"`
}

type IRAction struct {
	Name    string `json:"name"`
	Method  string `json:"method"`
	Path    string `json:"path"`
	HasBody bool   `json:"hasBody"`
}

func (d *Definition) IR() IR {
	ir := IR{
		Name:      d.Name,
		Module:    d.Module,
		Resources: make([]IRResource, 0, len(d.Resources)),
		Actions:   make([]IRAction, 0, len(d.Actions)),
	}
	for _, r := range d.Resources {
		ir.Resources = append(ir.Resources, IRResource{Name: r.Name, Path: r.Path, PK: r.PK})
	}
	for i := range d.Actions {
		a := &d.Actions[i]
		ir.Actions = append(ir.Actions, IRAction{
			Name: a.Name, Method: a.Method, Path: a.Path, HasBody: a.HasBody(),
		})
	}
	return ir
}
