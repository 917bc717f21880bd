package model

import "strings"

// Правила валидации ресурсных имён:
//   - без целей: годится любое значение с хотя бы одним "/" и непустым
//     последним сегментом;
//   - с целями: значение обязано начинаться с префикса одной из целей,
//     и остаток после префикса непуст;
//   - пустое значение невалидно всегда.
func (n Name) ValidFor(targets ...*Descriptor) bool {
	s := string(n)
	if s == "" {
		return false
	}
	if len(targets) == 0 {
		i := strings.LastIndexByte(s, '/')
		return i >= 0 && i < len(s)-1
	}
	for _, t := range targets {
		p := t.NamePrefix()
		if strings.HasPrefix(s, p) && len(s) > len(p) {
			return true
		}
	}
	return false
}

// ResourceID — идентификатор после последнего "/"; пустая строка, если
// значение не подходит ни под один шаблон.
func (n Name) ResourceID(targets ...*Descriptor) string {
	if !n.ValidFor(targets...) {
		return ""
	}
	s := string(n)
	return s[strings.LastIndexByte(s, '/')+1:]
}

// NameIssue — пара (поле, плохое значение), которую возвращает проверка ссылок.
type NameIssue struct {
	Field string
	Value string
}

// CheckNames валидирует все ссылочные поля записи по их целям.
// Пустая ссылка допустима; непустая обязана проходить ValidFor.
func (d *Descriptor) CheckNames(rec any) []NameIssue {
	var issues []NameIssue
	v := d.recValue(rec)
	for i := range d.Fields {
		f := &d.Fields[i]
		if !f.IsRef {
			continue
		}
		val := Name(v.FieldByIndex(f.index).String())
		if val == "" {
			continue
		}
		if !val.ValidFor(f.Targets...) {
			issues = append(issues, NameIssue{Field: f.Name, Value: string(val)})
		}
	}
	return issues
}
