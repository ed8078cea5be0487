package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"bfclprep/pkg/contract"
)

// Options: Gemini（Google GenAI SDK）配置。
type Options struct {
	Model     string `json:"model"`       // 默认 gemini-2.5-flash
	APIKeyEnv string `json:"api_key_env"` // 默认 GOOGLE_API_KEY
	APIKey    string `json:"api_key"`
	// BaseURL: 可选，覆盖 SDK 默认端点（代理/网关）。
	BaseURL        string   `json:"base_url,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"` // 默认 60
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	// ResponseMIMEType: 当 Prompt 携带 schema 时使用，默认 application/json。
	ResponseMIMEType string `json:"response_mime_type,omitempty"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
	if o.ResponseMIMEType == "" {
		o.ResponseMIMEType = "application/json"
	}
}

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Client 基于 genai.Client.Models.GenerateContent 的单次调用。
type Client struct {
	model     string
	temp      *float32
	maxTokens int32
	respMIME  string
	generate  generateFunc
}

var _ contract.LLMClient = (*Client)(nil)

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("gemini options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key (%s)", contract.ErrInvalidInput, opts.APIKeyEnv)
	}
	cc := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second},
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	gc, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	c := &Client{model: opts.Model, maxTokens: int32(opts.MaxTokens), respMIME: opts.ResponseMIMEType, generate: gc.Models.GenerateContent}
	if opts.Temperature != nil {
		t := float32(*opts.Temperature)
		c.temp = &t
	}
	return c, nil
}

// encode: system → SystemInstruction；json_schema 只开启 JSON MIME（schema 已写入提示词）。
func (c *Client) encode(p contract.Prompt) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	cfg := &genai.GenerateContentConfig{Temperature: c.temp, MaxOutputTokens: c.maxTokens}
	var contents []*genai.Content
	switch v := p.(type) {
	case contract.TextPrompt:
		contents = append(contents, genai.NewContentFromText(string(v), genai.RoleUser))
	case contract.ChatPrompt:
		var sys []string
		for _, m := range v {
			switch strings.ToLower(strings.TrimSpace(m.Role)) {
			case "json_schema":
				cfg.ResponseMIMEType = c.respMIME
			case "system":
				sys = append(sys, m.Content)
			case "assistant", "model":
				contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
			default:
				contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
			}
		}
		if len(sys) > 0 {
			cfg.SystemInstruction = genai.NewContentFromText(strings.Join(sys, "\n\n"), genai.RoleUser)
		}
	default:
		return nil, nil, fmt.Errorf("gemini: unsupported prompt %T: %w", p, contract.ErrInvalidInput)
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("gemini: %w: empty prompt", contract.ErrInvalidInput)
	}
	return contents, cfg, nil
}

// upstreamError: 5xx/408 视为网络类错误（实现 net.Error）。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("gemini upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ae genai.APIError
	var pae *genai.APIError
	switch {
	case errors.As(err, &ae):
	case errors.As(err, &pae) && pae != nil:
		ae = *pae
	default:
		return err
	}
	switch {
	case ae.Code == http.StatusTooManyRequests:
		return fmt.Errorf("gemini: %s: %w", ae.Message, contract.ErrRateLimited)
	case ae.Code == http.StatusRequestTimeout || ae.Code/100 == 5:
		return upstreamError{status: ae.Code, msg: ae.Message}
	default:
		return fmt.Errorf("gemini upstream %d: %s: %w", ae.Code, ae.Message, contract.ErrInvalidInput)
	}
}

// Invoke: 单次调用，同步返回首个候选的文本（忽略 thought 片段）。
func (c *Client) Invoke(ctx context.Context, _ contract.QueryRequest, p contract.Prompt) (contract.Raw, error) {
	contents, cfg, err := c.encode(p)
	if err != nil {
		return contract.Raw{}, err
	}
	resp, err := c.generate(ctx, c.model, contents, cfg)
	if err != nil {
		return contract.Raw{}, mapError(ctx, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return contract.Raw{}, fmt.Errorf("gemini: no candidates: %w", contract.ErrResponseInvalid)
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return contract.Raw{}, fmt.Errorf("gemini: empty text: %w", contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: sb.String()}, nil
}
