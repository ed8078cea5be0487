package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"bfclprep/pkg/contract"
	"bfclprep/plugins/llmclient/mock"
)

// Options 定义可选项。
type Options struct {
	Prefix string `json:"prefix"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的 LLMClient（用于重试路径联调）：
// 第一次 Invoke 返回 ErrRateLimited；
// 第二次返回无法解析的文本；
// 之后返回与 mock 相同的查询列表。
type Client struct {
	prefix  string
	logPath string
	count   atomic.Int32
}

var _ contract.LLMClient = (*Client)(nil)

// New 构造 Client。
func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("flaky options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	return &Client{prefix: o.Prefix, logPath: o.LogPath}, nil
}

// Calls 返回累计调用次数。
func (c *Client) Calls() int { return int(c.count.Load()) }

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	f, err := os.OpenFile(c.logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	_, _ = f.WriteString(s + "\n")
	_ = f.Close()
}

// Invoke 实现 contract.LLMClient。
func (c *Client) Invoke(ctx context.Context, req contract.QueryRequest, _ contract.Prompt) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	switch c.count.Add(1) {
	case 1:
		c.log("rate_limited")
		return contract.Raw{}, contract.ErrRateLimited
	case 2:
		c.log("invalid_json")
		return contract.Raw{Text: "invalid"}, nil
	}
	c.log("ok")
	b, err := json.Marshal(map[string][]string{"queries": mock.Queries(c.prefix, req)})
	if err != nil {
		return contract.Raw{}, err
	}
	return contract.Raw{Text: string(b)}, nil
}
