package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Override — декларативная правка виджета поля в собранной схеме.
// ApplyTo адресует поля как "Model.field" (имя Go-типа, имя JSON-поля).
type Override struct {
	Widget  string         `yaml:"widget" json:"widget"`
	ApplyTo []string       `yaml:"apply_to" json:"apply_to"`
	Params  map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

type overrideFile struct {
	Overrides []Override `yaml:"overrides"`
}

// ApplyOverrides накладывает правки на схему. Операция идемпотентна:
// повторное применение того же набора даёт тот же результат. Адреса,
// не совпавшие ни с одним полем, молча игнорируются.
func ApplyOverrides(s *Schema, overrides []Override) {
	for _, ov := range overrides {
		for _, target := range ov.ApplyTo {
			modelName, fieldName, ok := strings.Cut(target, ".")
			if !ok {
				continue
			}
			patchField(s, modelName, fieldName, ov)
		}
	}
}

func patchField(s *Schema, modelName, fieldName string, ov Override) {
	for mi := range s.Modules {
		for ri := range s.Modules[mi].Resources {
			ir := &s.Modules[mi].Resources[ri]
			if ir.Name != modelName {
				continue
			}
			for fi := range ir.Fields {
				f := &ir.Fields[fi]
				if f.Name != fieldName {
					continue
				}
				if ov.Widget != "" {
					f.Widget = ov.Widget
				}
				if len(ov.Params) > 0 {
					if f.Props == nil {
						f.Props = make(map[string]any, len(ov.Params))
					}
					for k, v := range ov.Params {
						f.Props[k] = v
					}
				}
			}
		}
	}
}

// LoadOverrides читает все *.yaml/*.yml из каталога в порядке имён файлов.
// Отсутствующий каталог — не ошибка: правок просто нет.
func LoadOverrides(dir string) ([]Override, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("чтение каталога правок %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Override
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("чтение файла правок %s: %w", name, err)
		}
		var f overrideFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("разбор файла правок %s: %w", name, err)
		}
		out = append(out, f.Overrides...)
	}
	return out, nil
}
