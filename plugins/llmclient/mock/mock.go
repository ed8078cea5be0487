package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"bfclprep/pkg/contract"
)

// Options: 离线调试配置。
type Options struct {
	Prefix string `json:"prefix"` // 查询前缀，默认 "MOCK"
	// APIKey: 仅用于限流分组，不参与任何网络请求。
	APIKey string `json:"api_key"`
	// ResponseMode:
	//  - "" / "queries": 返回 {"queries": [...]}，条数等于 QueryRequest.Count；
	//  - "echo": 原样回显首条 user 消息（调试提示词渲染）。
	ResponseMode string `json:"response_mode,omitempty"`
}

// Client 是确定性的离线 LLMClient。
type Client struct {
	prefix string
	mode   string
}

var _ contract.LLMClient = (*Client)(nil)

// New 构造 mock 客户端。
func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	mode := strings.TrimSpace(o.ResponseMode)
	if mode == "" {
		mode = "queries"
	}
	if mode != "queries" && mode != "echo" {
		return nil, fmt.Errorf("mock: %w: unknown response_mode %q", contract.ErrInvalidInput, mode)
	}
	return &Client{prefix: o.Prefix, mode: mode}, nil
}

// Queries 生成 req 对应的确定性查询文本。
func Queries(prefix string, req contract.QueryRequest) []string {
	out := make([]string, req.Count)
	for i := range out {
		out[i] = fmt.Sprintf("%s %d.%d: %s | %s", prefix, req.Index, i, req.ParamRecipe, req.StyleRecipe)
	}
	return out
}

// Invoke 实现 contract.LLMClient。
func (c *Client) Invoke(ctx context.Context, req contract.QueryRequest, p contract.Prompt) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	if c.mode == "echo" {
		return contract.Raw{Text: userText(p)}, nil
	}
	b, err := json.Marshal(map[string][]string{"queries": Queries(c.prefix, req)})
	if err != nil {
		return contract.Raw{}, err
	}
	return contract.Raw{Text: string(b)}, nil
}

func userText(p contract.Prompt) string {
	switch v := p.(type) {
	case contract.TextPrompt:
		return string(v)
	case contract.ChatPrompt:
		for _, m := range v {
			if m.Role == "user" {
				return m.Content
			}
		}
	}
	return ""
}
