package wire

import (
	"encoding/binary"
	"math"

	"korob/internal/apperr"
)

type reader struct {
	buf []byte
}

func (r *reader) ok(off, n int) bool { return off >= 0 && off+n <= len(r.buf) }

func (r *reader) u16(off int) (uint16, error) {
	if !r.ok(off, 2) {
		return 0, errTruncated
	}
	return binary.LittleEndian.Uint16(r.buf[off:]), nil
}

func (r *reader) u32(off int) (uint32, error) {
	if !r.ok(off, 4) {
		return 0, errTruncated
	}
	return binary.LittleEndian.Uint32(r.buf[off:]), nil
}

func (r *reader) u64(off int) (uint64, error) {
	if !r.ok(off, 8) {
		return 0, errTruncated
	}
	return binary.LittleEndian.Uint64(r.buf[off:]), nil
}

func (r *reader) str(off int) (string, error) {
	n, err := r.u32(off)
	if err != nil {
		return "", err
	}
	if !r.ok(off+4, int(n)) {
		return "", errTruncated
	}
	return string(r.buf[off+4 : off+4+int(n)]), nil
}

var errTruncated = apperr.New(apperr.Validation, "wire: truncated buffer")

// checkCount отклоняет счётчик из буфера до аллокации: каждому элементу
// нужно минимум elem байт, иначе поддельный счётчик заставит make
// выделить гигабайты.
func (r *reader) checkCount(count uint32, elem int) error {
	if uint64(count)*uint64(elem) > uint64(len(r.buf)) {
		return errTruncated
	}
	return nil
}

// slot возвращает смещение значения поля i (0 = отсутствует).
func (r *reader) slot(table, i int) (int, error) {
	count, err := r.u16(table)
	if err != nil {
		return 0, err
	}
	if i >= int(count) {
		return 0, nil // короткая таблица: поле считается отсутствующим
	}
	off, err := r.u16(table + 4 + 2*i)
	return int(off), err
}

// readField декодирует поле; отсутствие даёт дефолт: числовой ноль,
// пустую строку для обязательных строк, отсутствие ключа для optional.
func (r *reader) readField(f Field, table, i int, out map[string]any) error {
	off, err := r.slot(table, i)
	if err != nil {
		return err
	}
	if off == 0 {
		switch f.Kind {
		case String:
			if !f.Optional {
				out[f.Name] = ""
			}
		case Bool:
			out[f.Name] = false
		case U32, U64, I64:
			out[f.Name] = float64(0)
		case F64:
			out[f.Name] = float64(0)
		case StringList:
			out[f.Name] = []string{}
		}
		return nil
	}
	switch f.Kind {
	case String:
		s, err := r.str(off)
		if err != nil {
			return err
		}
		out[f.Name] = s
	case Bool:
		if !r.ok(off, 1) {
			return errTruncated
		}
		out[f.Name] = r.buf[off] != 0
	case U32:
		n, err := r.u32(off)
		if err != nil {
			return err
		}
		out[f.Name] = float64(n)
	case U64:
		n, err := r.u64(off)
		if err != nil {
			return err
		}
		out[f.Name] = float64(n)
	case I64:
		n, err := r.u64(off)
		if err != nil {
			return err
		}
		out[f.Name] = float64(int64(n))
	case F64:
		n, err := r.u64(off)
		if err != nil {
			return err
		}
		out[f.Name] = math.Float64frombits(n)
	case StringList:
		count, err := r.u32(off)
		if err != nil {
			return err
		}
		if err := r.checkCount(count, 4); err != nil {
			return err
		}
		items := make([]string, 0, count)
		cur := off + 4
		for j := 0; j < int(count); j++ {
			s, err := r.str(cur)
			if err != nil {
				return err
			}
			items = append(items, s)
			cur += 4 + len(s)
		}
		out[f.Name] = items
	}
	return nil
}

func (r *reader) readTable(s *Schema, table int) (map[string]any, error) {
	out := make(map[string]any, len(s.Fields))
	for i, f := range s.Fields {
		if err := r.readField(f, table, i, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Decode разбирает одиночный объект.
func (s *Schema) Decode(buf []byte) (map[string]any, error) {
	r := &reader{buf: buf}
	root, err := r.u32(0)
	if err != nil {
		return nil, err
	}
	return r.readTable(s, int(root))
}

// DecodeList разбирает обёртку списка (items @ слот 4, hasMore @ слот 6).
func (s *Schema) DecodeList(buf []byte) ([]map[string]any, bool, error) {
	r := &reader{buf: buf}
	root, err := r.u32(0)
	if err != nil {
		return nil, false, err
	}
	itemsOff, err := r.slot(int(root), 0)
	if err != nil {
		return nil, false, err
	}
	moreOff, err := r.slot(int(root), 1)
	if err != nil {
		return nil, false, err
	}

	var items []map[string]any
	if itemsOff != 0 {
		count, err := r.u32(itemsOff)
		if err != nil {
			return nil, false, err
		}
		if err := r.checkCount(count, 4); err != nil {
			return nil, false, err
		}
		items = make([]map[string]any, 0, count)
		for i := 0; i < int(count); i++ {
			t, err := r.u32(itemsOff + 4 + 4*i)
			if err != nil {
				return nil, false, err
			}
			obj, err := r.readTable(s, int(t))
			if err != nil {
				return nil, false, err
			}
			items = append(items, obj)
		}
	}
	hasMore := false
	if moreOff != 0 {
		if !r.ok(moreOff, 1) {
			return nil, false, errTruncated
		}
		hasMore = r.buf[moreOff] != 0
	}
	return items, hasMore, nil
}
