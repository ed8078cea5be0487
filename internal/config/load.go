package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "BFCL_PREP_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：LLM 不设默认（generate 需由 JSON/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Output:      "-",
		Concurrency: 1,
		MaxTokens:   3072,
		MaxRetries:  2,
		Normalize:   Normalize{Style: "python", ProgressEvery: 100},
		Generate: Generate{
			ParamSet:              "valid",
			QueriesPerCombination: 5,
		},
		Components: Components{
			Reader:        "fs",
			Splitter:      "jsonl",
			Decoder:       "json",
			Writer:        "fs",
			PromptBuilder: "queries",
			QueryDecoder:  "querylist",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
// 解析结果作为覆盖层：MaxRetries 缺省为 -1（未设置）。
func LoadJSON(path string, raw []byte) (Config, error) {
	cfg := Config{MaxRetries: -1}
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config json: %w", err)
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if s := strings.TrimSpace(over.Output); s != "" {
		out.Output = s
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	if over.MaxTokens != 0 {
		out.MaxTokens = over.MaxTokens
	}
	// MaxRetries 的 0 有语义（禁用重试）：约定 >=0 为“存在”，-1 为未覆盖。
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}

	// normalize
	if len(over.Normalize.ElementFields) > 0 {
		out.Normalize.ElementFields = cloneStrings(over.Normalize.ElementFields)
	}
	if len(over.Normalize.CrystalFields) > 0 {
		out.Normalize.CrystalFields = cloneStrings(over.Normalize.CrystalFields)
	}
	if s := strings.TrimSpace(over.Normalize.Style); s != "" {
		out.Normalize.Style = s
	}
	if over.Normalize.ProgressEvery != 0 {
		out.Normalize.ProgressEvery = over.Normalize.ProgressEvery
	}

	// generate
	g := over.Generate
	if s := strings.TrimSpace(g.Catalog); s != "" {
		out.Generate.Catalog = s
	}
	if s := strings.TrimSpace(g.ParamSet); s != "" {
		out.Generate.ParamSet = s
	}
	if s := strings.TrimSpace(g.IDPrefix); s != "" {
		out.Generate.IDPrefix = s
	}
	if s := strings.TrimSpace(g.Output); s != "" {
		out.Generate.Output = s
	}
	if g.QueriesPerCombination != 0 {
		out.Generate.QueriesPerCombination = g.QueriesPerCombination
	}
	if g.SkipFailed != nil {
		v := *g.SkipFailed
		out.Generate.SkipFailed = &v
	}
	if g.BytesPerToken != 0 {
		out.Generate.BytesPerToken = g.BytesPerToken
	}

	// 组件名（空不覆盖）
	mergeName(&out.Components.Reader, over.Components.Reader)
	mergeName(&out.Components.Splitter, over.Components.Splitter)
	mergeName(&out.Components.Decoder, over.Components.Decoder)
	mergeName(&out.Components.Writer, over.Components.Writer)
	mergeName(&out.Components.PromptBuilder, over.Components.PromptBuilder)
	mergeName(&out.Components.QueryDecoder, over.Components.QueryDecoder)

	// Provider：按字段覆盖（空/零值不覆盖）；复制 map，避免改写 base
	if len(over.Provider) > 0 {
		prov := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			prov[k] = v
		}
		for k, v := range over.Provider {
			prov[k] = mergeProvider(prov[k], v)
		}
		out.Provider = prov
	}

	// Options（完整替换对应键）
	mergeRaw(&out.Options.Reader, over.Options.Reader)
	mergeRaw(&out.Options.Splitter, over.Options.Splitter)
	mergeRaw(&out.Options.Decoder, over.Options.Decoder)
	mergeRaw(&out.Options.Writer, over.Options.Writer)
	mergeRaw(&out.Options.PromptBuilder, over.Options.PromptBuilder)
	mergeRaw(&out.Options.QueryDecoder, over.Options.QueryDecoder)

	if s := strings.TrimSpace(over.LLM); s != "" {
		out.LLM = s
	}
	return out
}

func mergeProvider(base, over Provider) Provider {
	mergeName(&base.Client, over.Client)
	mergeRaw(&base.Options, over.Options)
	if over.Limits.RPM != 0 {
		base.Limits.RPM = over.Limits.RPM
	}
	if over.Limits.TPM != 0 {
		base.Limits.TPM = over.Limits.TPM
	}
	if over.Limits.MaxTokensPerReq != 0 {
		base.Limits.MaxTokensPerReq = over.Limits.MaxTokensPerReq
	}
	return base
}

func mergeName(dst *string, v string) {
	if s := strings.TrimSpace(v); s != "" {
		*dst = s
	}
}

func mergeRaw(dst *json.RawMessage, v json.RawMessage) {
	if len(v) > 0 {
		*dst = cloneRaw(v)
	}
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合，前缀 BFCL_PREP_）。
// 支持：INPUTS, OUTPUT, CONCURRENCY, MAX_TOKENS, MAX_RETRIES, LLM, LOG_LEVEL,
// NORMALIZE_{STYLE,ELEMENT_FIELDS,CRYSTAL_FIELDS,PROGRESS_EVERY},
// GENERATE_{CATALOG,PARAM_SET,ID_PREFIX,OUTPUT,QUERIES,SKIP_FAILED}, COMPONENTS_*
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPM,TPM,MAX_TOKENS_PER_REQ} / PROVIDER__<name>__OPTIONS_JSON。
// 空值视为未设置；数值/布尔解析失败返回错误。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	over.MaxRetries = -1
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk := kv[len(EnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			continue
		}
		var err error
		switch nk {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "OUTPUT":
			over.Output = val
		case "CONCURRENCY":
			over.Concurrency, err = atoi(val)
		case "MAX_TOKENS":
			over.MaxTokens, err = atoi(val)
		case "MAX_RETRIES":
			over.MaxRetries, err = atoi(val)
		case "LLM":
			over.LLM = val
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "NORMALIZE_STYLE":
			over.Normalize.Style = val
		case "NORMALIZE_ELEMENT_FIELDS":
			over.Normalize.ElementFields = splitComma(val)
		case "NORMALIZE_CRYSTAL_FIELDS":
			over.Normalize.CrystalFields = splitComma(val)
		case "NORMALIZE_PROGRESS_EVERY":
			over.Normalize.ProgressEvery, err = atoi(val)
		case "GENERATE_CATALOG":
			over.Generate.Catalog = val
		case "GENERATE_PARAM_SET":
			over.Generate.ParamSet = val
		case "GENERATE_ID_PREFIX":
			over.Generate.IDPrefix = val
		case "GENERATE_OUTPUT":
			over.Generate.Output = val
		case "GENERATE_QUERIES":
			over.Generate.QueriesPerCombination, err = atoi(val)
		case "GENERATE_SKIP_FAILED":
			var b bool
			if b, err = strconv.ParseBool(val); err == nil {
				over.Generate.SkipFailed = &b
			}
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_SPLITTER":
			over.Components.Splitter = val
		case "COMPONENTS_DECODER":
			over.Components.Decoder = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "COMPONENTS_PROMPT_BUILDER":
			over.Components.PromptBuilder = val
		case "COMPONENTS_QUERY_DECODER":
			over.Components.QueryDecoder = val
		default:
			// provider.* 路径：PROVIDER__name__FIELD；其余键忽略
			if strings.HasPrefix(nk, "PROVIDER__") {
				err = providerEnv(prov, nk, val)
			}
		}
		if err != nil {
			return Config{}, fmt.Errorf("env %s%s: %w", EnvPrefix, nk, err)
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

func providerEnv(prov map[string]Provider, nk, val string) error {
	parts := strings.Split(nk, "__")
	if len(parts) < 3 {
		return nil
	}
	name := strings.TrimSpace(parts[1])
	if name == "" {
		return nil
	}
	p := prov[name]
	var err error
	switch strings.Join(parts[2:], "__") {
	case "CLIENT":
		p.Client = val
	case "LIMITS_RPM":
		p.Limits.RPM, err = atoi(val)
	case "LIMITS_TPM":
		p.Limits.TPM, err = atoi(val)
	case "LIMITS_MAX_TOKENS_PER_REQ":
		p.Limits.MaxTokensPerReq, err = atoi(val)
	case "OPTIONS_JSON":
		if !json.Valid([]byte(val)) {
			return errors.New("options json invalid")
		}
		p.Options = json.RawMessage(val)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	prov[name] = p
	return nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
