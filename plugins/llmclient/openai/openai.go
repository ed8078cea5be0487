package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"bfclprep/pkg/contract"
)

// Options: OpenAI 兼容 Chat Completions 配置。
type Options struct {
	BaseURL        string   `json:"base_url"`        // 例如 https://api.openai.com/v1
	Model          string   `json:"model"`           // 为空则使用默认
	APIKeyEnv      string   `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string   `json:"api_key"`         // 明文传入（不推荐，按需用于测试）
	TimeoutSeconds int      `json:"timeout_seconds"` // client 级超时（秒），默认 60
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	// SchemaName: json_schema 响应格式中的名称。
	SchemaName string `json:"schema_name"`
	// 第三方兼容：
	EndpointPath       string            `json:"endpoint_path"`        // 覆盖默认 /chat/completions；可为完整 URL
	DisableDefaultAuth bool              `json:"disable_default_auth"` // 关闭默认 Authorization: Bearer 注入
	ExtraHeaders       map[string]string `json:"extra_headers"`        // 追加/覆盖请求头
	// Azure: 以 api-key 头鉴权；APIVersion 非空时追加 ?api-version=。
	// Azure 部署名写入 Model，BaseURL 形如 https://<res>.openai.azure.com/openai/deployments/<deployment>。
	Azure      bool   `json:"azure"`
	APIVersion string `json:"api_version"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.Model == "" {
		o.Model = "gpt-4.1-mini"
	}
	if o.APIKeyEnv == "" {
		if o.Azure {
			o.APIKeyEnv = "AZURE_OPENAI_API_KEY"
		} else {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/chat/completions"
	}
	if o.SchemaName == "" {
		o.SchemaName = "QueryList"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

// Client: 单次 HTTP 调用，不做重试（由编排层负责）。
type Client struct {
	url        string
	apiKey     string
	azure      bool
	temp       *float64
	maxTokens  int
	model      string
	schemaName string
	extraH     map[string]string
	noAuth     bool
	do         func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" && !opts.DisableDefaultAuth {
		return nil, fmt.Errorf("openai: %w: missing api key (%s)", contract.ErrInvalidInput, opts.APIKeyEnv)
	}
	full := opts.EndpointPath
	if !strings.HasPrefix(full, "http://") && !strings.HasPrefix(full, "https://") {
		full = strings.TrimRight(opts.BaseURL, "/") + "/" + strings.TrimLeft(opts.EndpointPath, "/")
	}
	if opts.APIVersion != "" {
		u, err := url.Parse(full)
		if err != nil {
			return nil, fmt.Errorf("openai url: %v: %w", err, contract.ErrInvalidInput)
		}
		q := u.Query()
		q.Set("api-version", opts.APIVersion)
		u.RawQuery = q.Encode()
		full = u.String()
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	return &Client{
		url:        full,
		apiKey:     key,
		azure:      opts.Azure,
		temp:       opts.Temperature,
		maxTokens:  opts.MaxTokens,
		model:      opts.Model,
		schemaName: opts.SchemaName,
		extraH:     opts.ExtraHeaders,
		noAuth:     opts.DisableDefaultAuth,
		do:         hc.Do,
	}, nil
}

var _ contract.LLMClient = (*Client)(nil)

type oaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaReq struct {
	Model          string            `json:"model"`
	Messages       []oaMessage       `json:"messages"`
	Temperature    *float64          `json:"temperature,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat *oaResponseFormat `json:"response_format,omitempty"`
}

type oaResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type oaResponseFormat struct {
	Type       string        `json:"type"` // "json_schema"
	JSONSchema *oaJSONSchema `json:"json_schema,omitempty"`
}

type oaJSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict,omitempty"`
}

// upstreamError 实现 net.Error，将 5xx/408 归为网络类错误以便重试分类。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// encode: role=json_schema 的消息转为 response_format，不进入对话。
func (c *Client) encode(p contract.Prompt) ([]byte, error) {
	req := oaReq{Model: c.model, Temperature: c.temp, MaxTokens: c.maxTokens}
	switch v := p.(type) {
	case contract.TextPrompt:
		req.Messages = []oaMessage{{Role: "user", Content: string(v)}}
	case contract.ChatPrompt:
		for _, m := range v {
			if strings.EqualFold(strings.TrimSpace(m.Role), "json_schema") {
				var schema json.RawMessage
				if json.Unmarshal([]byte(m.Content), &schema) == nil && len(schema) > 0 {
					req.ResponseFormat = &oaResponseFormat{Type: "json_schema", JSONSchema: &oaJSONSchema{Name: c.schemaName, Schema: schema, Strict: true}}
				}
				continue
			}
			req.Messages = append(req.Messages, oaMessage{Role: m.Role, Content: m.Content})
		}
	default:
		return nil, fmt.Errorf("openai: unsupported prompt %T: %w", p, contract.ErrInvalidInput)
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("openai: %w: empty prompt", contract.ErrInvalidInput)
	}
	return json.Marshal(&req)
}

// Invoke: 单次调用，同步返回。
func (c *Client) Invoke(ctx context.Context, _ contract.QueryRequest, p contract.Prompt) (contract.Raw, error) {
	body, err := c.encode(p)
	if err != nil {
		return contract.Raw{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return contract.Raw{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	switch {
	case c.noAuth:
	case c.azure:
		req.Header.Set("api-key", c.apiKey)
	default:
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.extraH {
		if k != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return contract.Raw{}, ctx.Err()
			}
		}
		return contract.Raw{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return contract.Raw{}, contract.ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(slurp))
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
			return contract.Raw{}, upstreamError{status: resp.StatusCode, msg: msg}
		}
		return contract.Raw{}, fmt.Errorf("openai upstream %d: %s: %w", resp.StatusCode, msg, contract.ErrInvalidInput)
	}
	var or oaResp
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return contract.Raw{}, fmt.Errorf("decode: %v: %w", err, contract.ErrResponseInvalid)
	}
	if len(or.Choices) == 0 || or.Choices[0].Message.Content == "" {
		return contract.Raw{}, fmt.Errorf("openai: empty choices: %w", contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: or.Choices[0].Message.Content}, nil
}
