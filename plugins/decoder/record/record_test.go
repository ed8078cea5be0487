package record

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bfclprep/pkg/contract"
	"bfclprep/pkg/jsonv"
)

// TestDecodeObject 合法对象保持键序。
func TestDecodeObject(t *testing.T) {
	obj, err := New(nil).Decode(context.Background(), contract.Line{FileID: "f", No: 1, Text: `{"id":"a_1","el_inc":[["Fe"]]}`})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "el_inc"}, obj.Keys())
}

// TestDecodeErrors 非法 JSON 与非对象均为 ParseError。
func TestDecodeErrors(t *testing.T) {
	for _, text := range []string{`{"id":`, `not json`, `[1,2]`, `"x"`, `{"a":1} trailing`} {
		_, err := New(nil).Decode(context.Background(), contract.Line{FileID: "f.jsonl", No: 9, Text: text})
		require.ErrorIs(t, err, contract.ErrParse, text)
		var pe *contract.ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, 9, pe.Line)
		assert.Equal(t, text, pe.Text)
	}
	_, err := New(nil).Decode(context.Background(), contract.Line{Text: `[]`})
	assert.ErrorIs(t, err, jsonv.ErrNotObject)
}
