// Package wire — детерминированный бинарный кодек табличной раскладки.
//
// Буфер: [u32 LE: смещение корневой таблицы][куча][таблицы].
// Таблица: [u16 LE: число слотов][u16: 0], слот поля i лежит по смещению
// 4 + 2*i от начала таблицы и содержит u16-смещение значения в буфере
// (0 = поле отсутствует). Скаляры — fixed-width little-endian, строки и
// переменная ширина пишутся в кучу до таблицы. Один и тот же вход всегда
// даёт один и тот же буфер.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"korob/internal/apperr"
)

// MimeBinary — значение Accept/Content-Type для бинарного формата.
const MimeBinary = "application/vnd.korob+bin"

type Kind int

const (
	String Kind = iota
	Bool
	U32
	U64
	I64
	F64
	StringList
)

var kindNames = map[Kind]string{
	String: "string", Bool: "bool", U32: "u32", U64: "u64",
	I64: "i64", F64: "f64", StringList: "[]string",
}

type Field struct {
	Name     string
	Kind     Kind
	Optional bool // отсутствие декодируется как "нет значения", а не пустая строка
}

// Schema — плоская таблица ресурса: поля в порядке объявления.
type Schema struct {
	Name   string
	Fields []Field
}

// Describe — человекочитаемый дескриптор раскладки.
func (s *Schema) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s {", s.Name)
	for i, f := range s.Fields {
		opt := ""
		if f.Optional {
			opt = "?"
		}
		fmt.Fprintf(&b, " %s: %s%s @ %d;", f.Name, kindNames[f.Kind], opt, 4+2*i)
	}
	b.WriteString(" }")
	return b.String()
}

// writer аккумулирует кучу; заголовок патчится в конце.
type writer struct {
	buf []byte
}

func newWriter() *writer {
	return &writer{buf: make([]byte, 4)} // место под заголовок
}

func (w *writer) offset() int { return len(w.buf) }

func (w *writer) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *writer) str(s string) int {
	off := w.offset()
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
	return off
}

func (w *writer) finish(rootTable int) ([]byte, error) {
	if len(w.buf) > math.MaxUint16 {
		return nil, apperr.New(apperr.Internal, "wire: buffer exceeds 64KiB table addressing")
	}
	binary.LittleEndian.PutUint32(w.buf[0:4], uint32(rootTable))
	return w.buf, nil
}

func toU64(v any) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		return uint64(n), true
	case int:
		return uint64(n), true
	case int64:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	}
	return 0, false
}

func toF64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// writeField пишет значение в кучу и возвращает смещение (0 = отсутствует).
func (w *writer) writeField(f Field, v any) (int, error) {
	if v == nil {
		return 0, nil
	}
	switch f.Kind {
	case String:
		s, ok := v.(string)
		if !ok {
			return 0, apperr.Newf(apperr.Internal, "wire: field %s expects string, got %T", f.Name, v)
		}
		if s == "" && f.Optional {
			return 0, nil
		}
		return w.str(s), nil
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return 0, apperr.Newf(apperr.Internal, "wire: field %s expects bool, got %T", f.Name, v)
		}
		off := w.offset()
		if b {
			w.buf = append(w.buf, 1)
		} else {
			w.buf = append(w.buf, 0)
		}
		return off, nil
	case U32:
		n, ok := toU64(v)
		if !ok {
			return 0, apperr.Newf(apperr.Internal, "wire: field %s expects number, got %T", f.Name, v)
		}
		off := w.offset()
		w.u32(uint32(n))
		return off, nil
	case U64:
		n, ok := toU64(v)
		if !ok {
			return 0, apperr.Newf(apperr.Internal, "wire: field %s expects number, got %T", f.Name, v)
		}
		off := w.offset()
		w.u64(n)
		return off, nil
	case I64:
		n, ok := toF64(v)
		if !ok {
			return 0, apperr.Newf(apperr.Internal, "wire: field %s expects number, got %T", f.Name, v)
		}
		off := w.offset()
		w.u64(uint64(int64(n)))
		return off, nil
	case F64:
		n, ok := toF64(v)
		if !ok {
			return 0, apperr.Newf(apperr.Internal, "wire: field %s expects number, got %T", f.Name, v)
		}
		off := w.offset()
		w.u64(math.Float64bits(n))
		return off, nil
	case StringList:
		items, err := toStringSlice(v)
		if err != nil {
			return 0, apperr.Newf(apperr.Internal, "wire: field %s: %v", f.Name, err)
		}
		// длину и элементы пишем подряд; пустой список всё равно присутствует
		off := w.offset()
		w.u32(uint32(len(items)))
		for _, s := range items {
			w.str(s)
		}
		return off, nil
	}
	return 0, apperr.Newf(apperr.Internal, "wire: unknown kind %d", f.Kind)
}

func toStringSlice(v any) ([]string, error) {
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, it := range vv {
			s, ok := it.(string)
			if !ok {
				return nil, fmt.Errorf("expects []string, found %T", it)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expects []string, got %T", v)
}

// writeTable пишет значения полей в кучу, затем таблицу; возвращает
// смещение таблицы.
func (w *writer) writeTable(s *Schema, obj map[string]any) (int, error) {
	offs := make([]int, len(s.Fields))
	for i, f := range s.Fields {
		off, err := w.writeField(f, obj[f.Name])
		if err != nil {
			return 0, err
		}
		offs[i] = off
	}
	table := w.offset()
	w.u16(uint16(len(s.Fields)))
	w.u16(0)
	for _, off := range offs {
		w.u16(uint16(off))
	}
	return table, nil
}

// Encode кодирует один объект по схеме.
func (s *Schema) Encode(obj map[string]any) ([]byte, error) {
	w := newWriter()
	table, err := w.writeTable(s, obj)
	if err != nil {
		return nil, err
	}
	return w.finish(table)
}

// EncodeList кодирует обёртку списка: items в слоте 4, hasMore в слоте 6.
func (s *Schema) EncodeList(items []map[string]any, hasMore bool) ([]byte, error) {
	w := newWriter()
	tables := make([]int, len(items))
	for i, obj := range items {
		t, err := w.writeTable(s, obj)
		if err != nil {
			return nil, err
		}
		tables[i] = t
	}
	itemsOff := w.offset()
	w.u32(uint32(len(tables)))
	for _, t := range tables {
		w.u32(uint32(t))
	}
	boolOff := w.offset()
	if hasMore {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
	root := w.offset()
	w.u16(2)
	w.u16(0)
	w.u16(uint16(itemsOff))
	w.u16(uint16(boolOff))
	return w.finish(root)
}
