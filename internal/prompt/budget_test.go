package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bfclprep/pkg/contract"
)

// 默认估算器按 4 字节/ token 向上取整。
func TestMakeEstimatorDefault(t *testing.T) {
	est := MakeEstimator(0)
	assert.Equal(t, 2, est("abcdef"))
	assert.Equal(t, 0, est(""))
	assert.Equal(t, 3, MakeEstimator(1)("abc"))
	// 多字节字符按 UTF-8 字节计
	assert.Equal(t, 2, est("石英"))
}

func TestPromptTokens(t *testing.T) {
	est := MakeEstimator(4)
	assert.Equal(t, 3, PromptTokens(contract.TextPrompt("0123456789"), est))
	chat := contract.ChatPrompt{
		{Role: "system", Content: "abcd"},
		{Role: "user", Content: "abcde"},
		{Role: "json_schema", Content: ""},
	}
	assert.Equal(t, 3, PromptTokens(chat, est))
	assert.Equal(t, 0, PromptTokens(42, est))
	assert.Equal(t, 1, PromptTokens(contract.TextPrompt("ab"), nil))
}

func TestRequestTokens(t *testing.T) {
	est := MakeEstimator(4)
	p := contract.TextPrompt("abcdefgh")
	assert.Equal(t, 2, RequestTokens(p, est, 0))
	assert.Equal(t, 102, RequestTokens(p, est, 100))
}
