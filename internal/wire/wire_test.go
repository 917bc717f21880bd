package wire_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"korob/internal/model"
	"korob/internal/wire"
)

var itemSchema = &wire.Schema{
	Name: "Item",
	Fields: []wire.Field{
		{Name: "id", Kind: wire.String},
		{Name: "priority", Kind: wire.U32},
		{Name: "status", Kind: wire.String},
		{Name: "note", Kind: wire.String, Optional: true},
		{Name: "active", Kind: wire.Bool},
		{Name: "tags", Kind: wire.StringList},
		{Name: "score", Kind: wire.F64},
		{Name: "delta", Kind: wire.I64},
		{Name: "total", Kind: wire.U64},
	},
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	obj := map[string]any{
		"id":       "a1",
		"priority": float64(7),
		"status":   "open",
		"note":     "hi",
		"active":   true,
		"tags":     []any{"x", "y"},
		"score":    2.5,
		"delta":    float64(-3),
		"total":    float64(12),
	}

	buf, err := itemSchema.Encode(obj)
	require.NoError(t, err)

	got, err := itemSchema.Decode(buf)
	require.NoError(t, err)

	assert.Equal(t, "a1", got["id"])
	assert.Equal(t, float64(7), got["priority"])
	assert.Equal(t, "open", got["status"])
	assert.Equal(t, "hi", got["note"])
	assert.Equal(t, true, got["active"])
	assert.Equal(t, []string{"x", "y"}, got["tags"])
	assert.Equal(t, 2.5, got["score"])
	assert.Equal(t, float64(-3), got["delta"])
	assert.Equal(t, float64(12), got["total"])
}

func TestEncodeDeterministic(t *testing.T) {
	obj := map[string]any{
		"id": "a1", "priority": float64(1), "status": "s",
		"active": false, "tags": []any{"t"}, "score": 1.0,
		"delta": float64(0), "total": float64(0),
	}
	a, err := itemSchema.Encode(obj)
	require.NoError(t, err)
	b, err := itemSchema.Encode(obj)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same input must produce identical bytes")
}

func TestAbsenceDefaults(t *testing.T) {
	// пишем только id; остальные слоты обязаны стать нулевыми
	buf, err := itemSchema.Encode(map[string]any{"id": "x"})
	require.NoError(t, err)

	got, err := itemSchema.Decode(buf)
	require.NoError(t, err)

	assert.Equal(t, "x", got["id"])
	assert.Equal(t, float64(0), got["priority"], "absent numeric decodes as zero")
	assert.Equal(t, "", got["status"], "absent required string decodes as empty")
	assert.NotContains(t, got, "note", "absent optional string stays absent")
	assert.Equal(t, false, got["active"])
	assert.Equal(t, float64(0), got["total"])
}

func TestOptionalEmptyStringOmitted(t *testing.T) {
	buf, err := itemSchema.Encode(map[string]any{"id": "x", "note": ""})
	require.NoError(t, err)
	got, err := itemSchema.Decode(buf)
	require.NoError(t, err)
	assert.NotContains(t, got, "note")
}

func TestSlotLayout(t *testing.T) {
	buf, err := itemSchema.Encode(map[string]any{"id": "x"})
	require.NoError(t, err)

	root := int(binary.LittleEndian.Uint32(buf[0:4]))
	slotCount := binary.LittleEndian.Uint16(buf[root : root+2])
	assert.EqualValues(t, len(itemSchema.Fields), slotCount)

	// поле i живёт в слоте 4+2*i; отсутствующие — нулевые
	idOff := binary.LittleEndian.Uint16(buf[root+4 : root+6])
	assert.NotZero(t, idOff)
	for i := 1; i < len(itemSchema.Fields); i++ {
		slot := root + 4 + 2*i
		assert.Zero(t, binary.LittleEndian.Uint16(buf[slot:slot+2]), "slot %d", i)
	}
}

func TestEncodeListRoundtrip(t *testing.T) {
	items := []map[string]any{
		{"id": "a", "priority": float64(1)},
		{"id": "b", "priority": float64(2)},
	}
	buf, err := itemSchema.EncodeList(items, true)
	require.NoError(t, err)

	got, hasMore, err := itemSchema.DecodeList(buf)
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0]["id"])
	assert.Equal(t, "b", got[1]["id"])

	t.Run("Empty", func(t *testing.T) {
		buf, err := itemSchema.EncodeList(nil, false)
		require.NoError(t, err)
		got, hasMore, err := itemSchema.DecodeList(buf)
		require.NoError(t, err)
		assert.False(t, hasMore)
		assert.Empty(t, got)
	})
}

func TestListWrapperSlots(t *testing.T) {
	buf, err := itemSchema.EncodeList(nil, false)
	require.NoError(t, err)

	root := int(binary.LittleEndian.Uint32(buf[0:4]))
	// у обёртки ровно два слота: items @ 4, hasMore @ 6
	assert.EqualValues(t, 2, binary.LittleEndian.Uint16(buf[root:root+2]))
	assert.NotZero(t, binary.LittleEndian.Uint16(buf[root+4:root+6]))
	assert.NotZero(t, binary.LittleEndian.Uint16(buf[root+6:root+8]))
}

func TestDecodeTruncated(t *testing.T) {
	buf, err := itemSchema.Encode(map[string]any{"id": "x", "status": "y"})
	require.NoError(t, err)

	_, err = itemSchema.Decode(buf[:2])
	assert.Error(t, err)

	_, err = itemSchema.Decode(buf[:len(buf)-1])
	assert.Error(t, err)
}

// Счётчик элементов приходит из недоверенного буфера: подделанное
// значение не должно доходить до аллокации.
func TestDecodeForgedCount(t *testing.T) {
	t.Run("ListWrapper", func(t *testing.T) {
		// обёртка: root → таблица @4 с двумя слотами, items @16,
		// hasMore отсутствует; счётчик элементов подделан
		buf := make([]byte, 20)
		binary.LittleEndian.PutUint32(buf[0:], 4)
		binary.LittleEndian.PutUint16(buf[4:], 2)
		binary.LittleEndian.PutUint16(buf[8:], 16)
		binary.LittleEndian.PutUint16(buf[10:], 0)
		binary.LittleEndian.PutUint32(buf[16:], 1<<26)

		_, _, err := itemSchema.DecodeList(buf)
		assert.Error(t, err, "a count the buffer cannot hold must be rejected")
	})

	t.Run("StringListField", func(t *testing.T) {
		s := &wire.Schema{Name: "L", Fields: []wire.Field{{Name: "xs", Kind: wire.StringList}}}

		// root → таблица @4 с одним слотом, xs @12 с поддельным счётчиком
		buf := make([]byte, 16)
		binary.LittleEndian.PutUint32(buf[0:], 4)
		binary.LittleEndian.PutUint16(buf[4:], 1)
		binary.LittleEndian.PutUint16(buf[8:], 12)
		binary.LittleEndian.PutUint32(buf[12:], 1<<26)

		_, err := s.Decode(buf)
		assert.Error(t, err, "a count the buffer cannot hold must be rejected")
	})
}

func TestSchemaFor(t *testing.T) {
	type Proto struct {
		ID    string   `json:"id"`
		Num   uint32   `json:"num"`
		Note  string   `json:"note,omitempty"`
		Flags []string `json:"flags"`
		On    bool     `json:"on"`
		model.Common
	}

	s := wire.SchemaFor(Proto{})
	assert.Equal(t, "Proto", s.Name)

	want := []wire.Field{
		{Name: "id", Kind: wire.String},
		{Name: "num", Kind: wire.U32},
		{Name: "note", Kind: wire.String, Optional: true},
		{Name: "flags", Kind: wire.StringList},
		{Name: "on", Kind: wire.Bool},
	}
	require.GreaterOrEqual(t, len(s.Fields), len(want))
	assert.Equal(t, want, s.Fields[:len(want)])

	// встроенный Common разворачивается в хвост
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "displayName")
	assert.Contains(t, names, "updatedAt")
}

func TestDescribe(t *testing.T) {
	s := &wire.Schema{Name: "P", Fields: []wire.Field{
		{Name: "id", Kind: wire.String},
		{Name: "n", Kind: wire.U32, Optional: false},
	}}
	d := s.Describe()
	assert.Contains(t, d, "P {")
	assert.Contains(t, d, "id: string @ 4;")
	assert.Contains(t, d, "n: u32 @ 6;")
}
