package model

// IR — нейтральное JSON-описание модели для UI и генераторов.
type IR struct {
	Name     string    `json:"name"`
	Module   string    `json:"module"`
	Resource string    `json:"resource"`
	Fields   []IRField `json:"fields"`
}

type IRField struct {
	Name   string `json:"name"`
	Ty     string `json:"ty"`
	Widget string `json:"widget"`
	// Ref присутствует только у ссылочных полей; пустой список = любой ресурс.
	Ref   *[]IRRef       `json:"ref,omitempty"`
	Props map[string]any `json:"props,omitempty"`
}

type IRRef struct {
	Type     string `json:"type"`
	Resource string `json:"resource"`
}

// IR строит описание модели: поля в порядке объявления, затем служебные.
func (d *Descriptor) IR() IR {
	ir := IR{
		Name:     d.Name,
		Module:   d.Module,
		Resource: d.Resource,
		Fields:   make([]IRField, 0, len(d.Fields)),
	}
	for i := range d.Fields {
		f := &d.Fields[i]
		irf := IRField{Name: f.Name, Ty: f.Type, Widget: f.Widget}
		if f.IsRef {
			refs := make([]IRRef, 0, len(f.Targets))
			for _, t := range f.Targets {
				refs = append(refs, IRRef{Type: t.Name, Resource: t.Resource})
			}
			irf.Ref = &refs
		}
		ir.Fields = append(ir.Fields, irf)
	}
	return ir
}
