package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// normalize 子命令的输入根（文件/目录/"-"）与输出工件（"-" 为 stdout）。
	Inputs []string `json:"inputs"`
	Output string   `json:"output"`

	Concurrency int `json:"concurrency"`
	MaxTokens   int `json:"max_tokens"`
	// MaxRetries: 生成阶段单个组合的最大重试次数（>=0）。0 表示不重试。
	MaxRetries int     `json:"max_retries"`
	Logging    Logging `json:"logging"`

	Normalize Normalize `json:"normalize"`
	Generate  Generate  `json:"generate"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// LLM Provider 选择与定义（仅 generate 使用）。
	LLM      string              `json:"llm"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Normalize: 字段变换与输出格式。
type Normalize struct {
	// 为空使用内置默认（el_inc/el_exc 与 crystal_system）。
	ElementFields []string `json:"element_fields"`
	CrystalFields []string `json:"crystal_fields"`
	// Style: "python"（默认，", " 与 ": "）或 "compact"。
	Style         string `json:"style"`
	ProgressEvery int    `json:"progress_every"`
}

// Generate: 查询合成参数。
type Generate struct {
	// Catalog: YAML 配方目录路径；为空使用内置目录。
	Catalog string `json:"catalog"`
	// ParamSet: "valid"（默认）或 "invalid"。
	ParamSet string `json:"param_set"`
	IDPrefix string `json:"id_prefix"`
	Output   string `json:"output"`

	QueriesPerCombination int `json:"queries_per_combination"`
	// SkipFailed: nil 视为 true（失败组合记录后跳过）。
	SkipFailed    *bool `json:"skip_failed,omitempty"`
	BytesPerToken int   `json:"bytes_per_token,omitempty"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader        string `json:"reader"`
	Splitter      string `json:"splitter"`
	Decoder       string `json:"decoder"`
	Writer        string `json:"writer"`
	PromptBuilder string `json:"prompt_builder"`
	QueryDecoder  string `json:"query_decoder"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader        json.RawMessage `json:"reader"`
	Splitter      json.RawMessage `json:"splitter"`
	Decoder       json.RawMessage `json:"decoder"`
	Writer        json.RawMessage `json:"writer"`
	PromptBuilder json.RawMessage `json:"prompt_builder"`
	QueryDecoder  json.RawMessage `json:"query_decoder"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `json:"rpm"`
	TPM             int `json:"tpm"`
	MaxTokensPerReq int `json:"max_tokens_per_req"`
}
