package querylist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"bfclprep/pkg/contract"
)

// Options 为查询列表解码器配置。
type Options struct {
	// Field: 承载查询数组的字段名，默认 "queries"。
	Field string `json:"field"`
	// ExactCount: 要求条数与请求一致。
	ExactCount bool `json:"exact_count"`
}

// Decoder 解析 {"queries": ["...", ...]}。
type Decoder struct {
	field string
	exact bool
}

// New 创建解码器。
func New(opts *Options) *Decoder {
	d := &Decoder{field: "queries"}
	if opts != nil {
		if opts.Field != "" {
			d.field = opts.Field
		}
		d.exact = opts.ExactCount
	}
	return d
}

// Decode 容忍 Markdown 代码围栏；去除空白项；结果为空视为无效。
func (d *Decoder) Decode(ctx context.Context, req contract.QueryRequest, raw contract.Raw) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripFence(raw.Text)), &obj); err != nil {
		return nil, fmt.Errorf("decode query list: %v: %w", err, contract.ErrResponseInvalid)
	}
	field, ok := obj[d.field]
	if !ok {
		return nil, fmt.Errorf("missing field %q: %w", d.field, contract.ErrResponseInvalid)
	}
	var items []string
	if err := json.Unmarshal(field, &items); err != nil {
		return nil, fmt.Errorf("field %q: %v: %w", d.field, err, contract.ErrResponseInvalid)
	}
	out := items[:0]
	for _, q := range items {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty query list: %w", contract.ErrResponseInvalid)
	}
	if d.exact && req.Count > 0 && len(out) != req.Count {
		return nil, fmt.Errorf("got %d queries, want %d: %w", len(out), req.Count, contract.ErrResponseInvalid)
	}
	return out, nil
}

// stripFence 去掉 ```json ... ``` 包裹。
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
