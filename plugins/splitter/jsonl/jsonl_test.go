package jsonl

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bfclprep/pkg/contract"
)

// TestSplitLines 跳过空行，行号对应物理行，CRLF 归一。
func TestSplitLines(t *testing.T) {
	in := "\uFEFF{\"id\":\"a_1\"}\r\n\n   \n{\"id\":\"a_2\"}\n{\"id\":\"a_3\"}"
	got, err := New(nil).Split(context.Background(), "in.jsonl", strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []contract.Line{
		{FileID: "in.jsonl", No: 1, Text: `{"id":"a_1"}`},
		{FileID: "in.jsonl", No: 4, Text: `{"id":"a_2"}`},
		{FileID: "in.jsonl", No: 5, Text: `{"id":"a_3"}`},
	}, got)
}

// TestSplitEmpty 空输入返回空结果。
func TestSplitEmpty(t *testing.T) {
	got, err := New(nil).Split(context.Background(), "e", strings.NewReader("\n\n"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

// TestSplitTooLong 超长行报错并带行号。
func TestSplitTooLong(t *testing.T) {
	_, err := New(&Options{MaxLineBytes: 4}).Split(context.Background(), "f", strings.NewReader("abc\nabcdef\n"))
	require.ErrorIs(t, err, ErrLineTooLong)
	assert.Contains(t, err.Error(), "f:2")
}

// TestSplitReadError 底层读错误上抛。
func TestSplitReadError(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(nil).Split(context.Background(), "f", iotest.ErrReader(boom))
	assert.ErrorIs(t, err, boom)
}

// TestSplitCanceled 取消后立即返回。
func TestSplitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Split(ctx, "f", strings.NewReader("{}\n"))
	assert.ErrorIs(t, err, context.Canceled)
}
