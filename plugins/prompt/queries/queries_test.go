package queries

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bfclprep/pkg/contract"
)

// TestBuildDefault 默认模板：占位符替换、条数指令与 schema 消息。
func TestBuildDefault(t *testing.T) {
	b, err := New(nil)
	require.NoError(t, err)
	p, err := b.Build(context.Background(), contract.QueryRequest{ParamRecipe: "el_inc and el_exc", StyleRecipe: "Casual", Count: 5})
	require.NoError(t, err)
	cp, ok := p.(contract.ChatPrompt)
	require.True(t, ok)
	require.Len(t, cp, 2)
	assert.Equal(t, "user", cp[0].Role)
	assert.Contains(t, cp[0].Content, "el_inc and el_exc")
	assert.Contains(t, cp[0].Content, "Casual")
	assert.True(t, strings.HasSuffix(cp[0].Content, "Generate exactly 5 diverse queries following the above criteria."))
	assert.Contains(t, cp[0].Content, `{"queries": ["...", "..."]}`)
	assert.NotContains(t, cp[0].Content, "{params}")
	assert.Equal(t, contract.Message{Role: "json_schema", Content: QueryListSchema}, cp[1])
}

// TestBuildFromFileWithSystem 文件模板与 system 消息。
func TestBuildFromFileWithSystem(t *testing.T) {
	p := filepath.Join(t.TempDir(), "prompt.md")
	require.NoError(t, os.WriteFile(p, []byte("P={params};S={style};N={num_queries};L={{x}}"), 0o644))
	b, err := New(&Options{TemplatePath: p, System: "sys"})
	require.NoError(t, err)
	got, err := b.Build(context.Background(), contract.QueryRequest{ParamRecipe: "a", StyleRecipe: "b", Count: 3})
	require.NoError(t, err)
	cp := got.(contract.ChatPrompt)
	require.Len(t, cp, 3)
	assert.Equal(t, "system", cp[0].Role)
	assert.Equal(t, "P=a;S=b;N=3;L={x}\n\nGenerate exactly 3 diverse queries following the above criteria.", cp[1].Content)
}

// TestNewRequiresPlaceholders 缺少占位符或文件不存在时报错。
func TestNewRequiresPlaceholders(t *testing.T) {
	_, err := New(&Options{InlineTemplate: "only {params}"})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New(&Options{TemplatePath: filepath.Join(t.TempDir(), "none.md")})
	assert.Error(t, err)
}

// TestBuildInvalidRequest 条数与配方校验。
func TestBuildInvalidRequest(t *testing.T) {
	b, _ := New(nil)
	_, err := b.Build(context.Background(), contract.QueryRequest{ParamRecipe: "a", StyleRecipe: "b"})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = b.Build(context.Background(), contract.QueryRequest{ParamRecipe: " ", StyleRecipe: "b", Count: 1})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
