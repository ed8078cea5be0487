package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 生成阶段使用 mock LLM 与合理限额（本地/离线调试友好）；
// - 默认输入为 STDIN（"-"），normalize 输出到 stdout；
// - 组件名采用仓库内置实现；
// - 选项给出安全中性默认值（包含全部键，便于按需修改）。
func DefaultTemplateConfig() Config {
	d := Defaults()
	skip := true
	cfg := Config{
		Inputs:      []string{"-"},
		Output:      d.Output,
		Concurrency: d.Concurrency,
		MaxTokens:   d.MaxTokens,
		MaxRetries:  d.MaxRetries,
		Logging:     Logging{Level: "info"},
		Normalize: Normalize{
			ElementFields: []string{"el_inc", "el_exc"},
			CrystalFields: []string{"crystal_system"},
			Style:         d.Normalize.Style,
			ProgressEvery: d.Normalize.ProgressEvery,
		},
		Generate: Generate{
			Catalog:               "",
			ParamSet:              d.Generate.ParamSet,
			// 为空时按 param_set 推导（Mindat_v1 / Mindat_v1_irrelevance，输出 BFCL_V4_<prefix>.json）
			IDPrefix:              "",
			Output:                "",
			QueriesPerCombination: d.Generate.QueriesPerCombination,
			SkipFailed:            &skip,
		},
		Components: d.Components,
		LLM:        "mock",
		Provider: map[string]Provider{
			"mock": {
				Client:  "mock",
				Options: json.RawMessage(`{"prefix":"","api_key":"","response_mode":""}`),
				Limits:  Limits{RPM: 60, TPM: 100000, MaxTokensPerReq: 4096},
			},
			"openai": {
				Client: "openai",
				Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "",
  "api_key": "",
  "timeout_seconds": 60,
  "temperature": 1.0,
  "max_tokens": 3072,
  "schema_name": "",
  "endpoint_path": "",
  "disable_default_auth": false,
  "extra_headers": {},
  "azure": false,
  "api_version": ""
}`),
				Limits: Limits{RPM: 0, TPM: 0, MaxTokensPerReq: 0},
			},
			"gemini": {
				Client: "gemini",
				Options: json.RawMessage(`{
  "model": "",
  "api_key_env": "",
  "api_key": "",
  "base_url": "",
  "timeout_seconds": 60,
  "temperature": 1.0,
  "max_tokens": 3072,
  "response_mime_type": ""
}`),
				Limits: Limits{RPM: 0, TPM: 0, MaxTokensPerReq: 0},
			},
		},
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "logs"],
  "allow_exts": [".jsonl", ".json"]
}`)
	cfg.Options.Splitter = json.RawMessage(`{
  "max_line_bytes": 0
}`)
	// decoder.json 当前无配置项，保持空对象
	cfg.Options.Decoder = json.RawMessage(`{}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "output",
  "atomic": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	cfg.Options.PromptBuilder = json.RawMessage(`{
  "inline_template": "",
  "template_path": "",
  "system": ""
}`)
	cfg.Options.QueryDecoder = json.RawMessage(`{
  "field": "queries",
  "exact_count": false
}`)
	return cfg
}
