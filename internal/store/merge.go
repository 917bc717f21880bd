package store

// MergePatch применяет RFC 7386 JSON Merge Patch к нейтральному
// JSON-представлению. Правила: null удаляет ключ, объект мержится
// рекурсивно, всё остальное замещает значение целиком.
func MergePatch(target, patch any) any {
	p, ok := patch.(map[string]any)
	if !ok {
		return patch
	}
	t, ok := target.(map[string]any)
	if !ok {
		t = make(map[string]any, len(p))
	}
	for k, v := range p {
		if v == nil {
			delete(t, k)
			continue
		}
		t[k] = MergePatch(t[k], v)
	}
	return t
}
