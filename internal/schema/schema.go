// Package schema собирает объявления модулей в нейтральный Schema JSON:
// ресурсы (IR), справочники, дерево навигации и сгенерированные права.
package schema

import (
	"fmt"

	"korob/internal/model"
	"korob/internal/reference"
)

// TreeNode — узел иерархии навигации модуля.
type TreeNode struct {
	Resource    string     `json:"resource"`
	Label       string     `json:"label"`
	Icon        string     `json:"icon,omitempty"`
	Description string     `json:"description,omitempty"`
	Children    []TreeNode `json:"children,omitempty"`
}

type actionRef struct {
	module string
	action string
}

// ResourceDef — объявление ресурса внутри модуля.
type ResourceDef struct {
	Desc        *model.Descriptor
	Label       string
	Icon        string
	Description string

	extra []actionRef
}

func Resource(desc *model.Descriptor, label string) *ResourceDef {
	return &ResourceDef{Desc: desc, Label: label}
}

// WithAction добавляет ресурсу нестандартный permission-verb
// ("{module}:{resource}:{action}") сверх пяти CRUD.
func (r *ResourceDef) WithAction(module, action string) *ResourceDef {
	r.extra = append(r.extra, actionRef{module: module, action: action})
	return r
}

// ModuleDef — объявление модуля приложения.
type ModuleDef struct {
	ID        string
	Label     string
	Icon      string
	Resources []*ResourceDef
	Enums     []reference.EnumDirectory
	Hierarchy []TreeNode
}

// ===== выходной JSON =====

type Schema struct {
	Name        string                              `json:"name"`
	Modules     []ModuleJSON                        `json:"modules"`
	Permissions map[string]map[string]ResourcePerms `json:"permissions"`
}

type ModuleJSON struct {
	ID        string                    `json:"id"`
	Label     string                    `json:"label"`
	Icon      string                    `json:"icon,omitempty"`
	Resources []model.IR                `json:"resources"`
	Enums     []reference.EnumDirectory `json:"enums"`
	Hierarchy Hierarchy                 `json:"hierarchy"`
}

type Hierarchy struct {
	Nav []TreeNode `json:"nav"`
}

type ResourcePerms struct {
	Actions []PermAction `json:"actions"`
}

type PermAction struct {
	Perm   string `json:"perm"`
	Action string `json:"action"`
	Desc   string `json:"desc"`
}

// пять CRUD-глаголов; порядок фиксирован
var crudVerbs = []struct{ verb, desc string }{
	{"list", "List %s"},
	{"read", "Read %s"},
	{"create", "Create %s"},
	{"update", "Update %s"},
	{"delete", "Delete %s"},
}

// Assemble собирает Schema из объявлений модулей. Права на каждый ресурс
// генерируются автоматически: CRUD плюс добавленные через WithAction.
func Assemble(appName string, modules ...*ModuleDef) *Schema {
	s := &Schema{
		Name:        appName,
		Modules:     make([]ModuleJSON, 0, len(modules)),
		Permissions: make(map[string]map[string]ResourcePerms, len(modules)),
	}
	for _, m := range modules {
		mj := ModuleJSON{
			ID:        m.ID,
			Label:     m.Label,
			Icon:      m.Icon,
			Resources: make([]model.IR, 0, len(m.Resources)),
			Enums:     m.Enums,
			Hierarchy: Hierarchy{Nav: m.Hierarchy},
		}
		if mj.Enums == nil {
			mj.Enums = []reference.EnumDirectory{}
		}
		perms := make(map[string]ResourcePerms, len(m.Resources))
		for _, r := range m.Resources {
			mj.Resources = append(mj.Resources, r.Desc.IR())

			res := r.Desc.Collection
			actions := make([]PermAction, 0, len(crudVerbs)+len(r.extra))
			for _, v := range crudVerbs {
				actions = append(actions, PermAction{
					Perm:   fmt.Sprintf("%s:%s:%s", m.ID, res, v.verb),
					Action: v.verb,
					Desc:   fmt.Sprintf(v.desc, res),
				})
			}
			for _, ex := range r.extra {
				actions = append(actions, PermAction{
					Perm:   fmt.Sprintf("%s:%s:%s", ex.module, res, ex.action),
					Action: ex.action,
					Desc:   fmt.Sprintf("%s %s", ex.action, res),
				})
			}
			perms[res] = ResourcePerms{Actions: actions}
		}
		s.Modules = append(s.Modules, mj)
		s.Permissions[m.ID] = perms
	}
	return s
}
