package mock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bfclprep/pkg/contract"
)

// TestQueriesMode 条数与内容确定。
func TestQueriesMode(t *testing.T) {
	c, err := New(json.RawMessage(`{"prefix":"X"}`))
	require.NoError(t, err)
	req := contract.QueryRequest{Index: 3, ParamRecipe: "p", StyleRecipe: "s", Count: 2}
	raw, err := c.Invoke(context.Background(), req, contract.TextPrompt("ignored"))
	require.NoError(t, err)
	var got struct{ Queries []string }
	require.NoError(t, json.Unmarshal([]byte(raw.Text), &got))
	assert.Equal(t, []string{"X 3.0: p | s", "X 3.1: p | s"}, got.Queries)
}

// TestEchoMode 回显首条 user 消息。
func TestEchoMode(t *testing.T) {
	c, err := New(json.RawMessage(`{"response_mode":"echo"}`))
	require.NoError(t, err)
	raw, err := c.Invoke(context.Background(), contract.QueryRequest{}, contract.ChatPrompt{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}})
	require.NoError(t, err)
	assert.Equal(t, "u", raw.Text)
}

// TestUnknownMode 未知模式报错。
func TestUnknownMode(t *testing.T) {
	_, err := New(json.RawMessage(`{"response_mode":"line_map"}`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
