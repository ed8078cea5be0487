package queries

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"bfclprep/pkg/contract"
)

// Options 为查询合成 PromptBuilder 配置。
// InlineTemplate / TemplatePath 二选一，均为空时使用内置模板。
// 模板需包含 {params} 与 {style} 占位符；{num_queries} 可选；{{ 与 }} 输出字面花括号。
type Options struct {
	InlineTemplate string `json:"inline_template"`
	TemplatePath   string `json:"template_path"`
	// System: 可选的 system 消息。
	System string `json:"system"`
}

// CountInstruction 追加在模板末尾的条数约束。
const CountInstruction = "\n\nGenerate exactly {num_queries} diverse queries following the above criteria."

// QueryListSchema: 结构化输出 schema（{"queries": [string]}）。
const QueryListSchema = `{"type":"object","additionalProperties":false,"properties":{"queries":{"type":"array","items":{"type":"string"}}},"required":["queries"]}`

// Builder 以 QueryRequest 构造 ChatPrompt（[system]+user+json_schema）。
// 模板在构造期加载，运行期不做 I/O。
type Builder struct {
	tpl    string
	system string
}

var _ contract.PromptBuilder = (*Builder)(nil)

// New 创建查询合成 PromptBuilder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	src := defaultTemplate
	switch {
	case o.InlineTemplate != "":
		src = o.InlineTemplate
	case o.TemplatePath != "":
		b, err := os.ReadFile(o.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("prompt template read: %w", err)
		}
		src = string(b)
	}
	if !strings.Contains(src, "{params}") || !strings.Contains(src, "{style}") {
		return nil, fmt.Errorf("prompt template must contain {params} and {style} placeholders: %w", contract.ErrInvalidInput)
	}
	return &Builder{tpl: src + CountInstruction, system: o.System}, nil
}

// Render 替换占位符。
func (b *Builder) Render(req contract.QueryRequest) string {
	return strings.NewReplacer(
		"{{", "{",
		"}}", "}",
		"{params}", req.ParamRecipe,
		"{style}", req.StyleRecipe,
		"{num_queries}", strconv.Itoa(req.Count),
	).Replace(b.tpl)
}

// Build: 纯计算。
func (b *Builder) Build(ctx context.Context, req contract.QueryRequest) (contract.Prompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Count <= 0 {
		return nil, fmt.Errorf("prompt: %w: count must be positive", contract.ErrInvalidInput)
	}
	if strings.TrimSpace(req.ParamRecipe) == "" || strings.TrimSpace(req.StyleRecipe) == "" {
		return nil, fmt.Errorf("prompt: %w: empty recipe", contract.ErrInvalidInput)
	}
	msgs := make([]contract.Message, 0, 3)
	if b.system != "" {
		msgs = append(msgs, contract.Message{Role: "system", Content: b.system})
	}
	msgs = append(msgs,
		contract.Message{Role: "user", Content: b.Render(req)},
		contract.Message{Role: "json_schema", Content: QueryListSchema},
	)
	return contract.ChatPrompt(msgs), nil
}

const defaultTemplate = `You generate natural-language user queries for a mineral database search tool.

The tool "mindat_geomaterial" accepts these parameters:
- ima (boolean): only IMA-approved names, true unless the user says otherwise
- hardness_min / hardness_max (float): Mohs hardness range
- crystal_system (array, OR logic): Amorphous, Hexagonal, Icosahedral, Isometric, Monoclinic, Orthorhombic, Tetragonal, Triclinic, Trigonal
- el_inc (string): chemical elements the mineral must include, e.g. "Fe,Cu"
- el_exc (string): chemical elements the mineral must exclude, e.g. "Fe,Cu"

Parameters to exercise in every query:
{params}

Writing style of every query:
{style}

Rules:
1) Each query is a single user request; do not answer it.
2) Vary wording, values and sentence structure across queries.
3) Return JSON only: {{"queries": ["...", "..."]}}.`
