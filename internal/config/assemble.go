package config

import (
	"errors"
	"fmt"
	"strings"

	"bfclprep/internal/diag"
	"bfclprep/internal/generate"
	"bfclprep/internal/normalize"
	"bfclprep/internal/pipeline"
	"bfclprep/internal/rate"
	"bfclprep/pkg/contract"
	"bfclprep/pkg/jsonv"
	"bfclprep/pkg/registry"
)

// 生成阶段的默认 ID 前缀（按参数集区分）。
const (
	DefaultIDPrefix        = "Mindat_v1"
	DefaultInvalidIDPrefix = "Mindat_v1_irrelevance"
)

// Validate 校验两个子命令共用的边界。
func Validate(cfg Config) error {
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be >= 1")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("config: max_retries must be >= 0")
	}
	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !diag.ValidLevel(lv) {
		return fmt.Errorf("config: logging.level %q invalid", lv)
	}
	if _, ok := jsonv.ParseStyle(cfg.Normalize.Style); !ok {
		return fmt.Errorf("config: normalize.style %q invalid (python|compact)", cfg.Normalize.Style)
	}
	if name := effName(cfg.Components.Writer, Defaults().Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	return nil
}

// ValidateNormalize 校验 normalize 子命令所需配置。
func ValidateNormalize(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	if strings.TrimSpace(cfg.Output) == "" {
		return errors.New("config: output empty")
	}
	if cfg.Normalize.ProgressEvery < 0 {
		return errors.New("config: normalize.progress_every must be >= 0")
	}
	d := Defaults().Components
	if name := effName(cfg.Components.Reader, d.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Splitter, d.Splitter); registry.Splitter[name] == nil {
		return fmt.Errorf("config: splitter %q not registered", name)
	}
	if name := effName(cfg.Components.Decoder, d.Decoder); registry.RecordDecoder[name] == nil {
		return fmt.Errorf("config: decoder %q not registered", name)
	}
	return nil
}

// ValidateGenerate 校验 generate 子命令所需配置。
func ValidateGenerate(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if cfg.MaxTokens <= 0 {
		return errors.New("config: max_tokens must be > 0")
	}
	g := EffectiveGenerate(cfg)
	if g.ParamSet != generate.ParamSetValid && g.ParamSet != generate.ParamSetInvalid {
		return fmt.Errorf("config: generate.param_set %q invalid (valid|invalid)", g.ParamSet)
	}
	if g.QueriesPerCombination < 1 {
		return errors.New("config: generate.queries_per_combination must be >= 1")
	}
	if strings.ContainsAny(g.IDPrefix, " \t\r\n") {
		return fmt.Errorf("config: generate.id_prefix %q contains whitespace", g.IDPrefix)
	}
	if cfg.LLM == "" {
		return errors.New("config: llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return fmt.Errorf("config: provider %q missing client", cfg.LLM)
	}
	if prov.Limits.MaxTokensPerReq > 0 && cfg.MaxTokens > prov.Limits.MaxTokensPerReq {
		return fmt.Errorf("config: max_tokens(%d) exceeds provider.max_tokens_per_req(%d)", cfg.MaxTokens, prov.Limits.MaxTokensPerReq)
	}
	if registry.LLMClient[prov.Client] == nil {
		return fmt.Errorf("config: llm client %q not registered", prov.Client)
	}
	d := Defaults().Components
	if name := effName(cfg.Components.PromptBuilder, d.PromptBuilder); registry.PromptBuilder[name] == nil {
		return fmt.Errorf("config: prompt_builder %q not registered", name)
	}
	if name := effName(cfg.Components.QueryDecoder, d.QueryDecoder); registry.QueryDecoder[name] == nil {
		return fmt.Errorf("config: query_decoder %q not registered", name)
	}
	return nil
}

// EffectiveGenerate 补齐生成参数的派生默认值（前缀、输出名）。
func EffectiveGenerate(cfg Config) Generate {
	g := cfg.Generate
	if g.ParamSet == "" {
		g.ParamSet = generate.ParamSetValid
	}
	if g.IDPrefix == "" {
		g.IDPrefix = DefaultIDPrefix
		if g.ParamSet == generate.ParamSetInvalid {
			g.IDPrefix = DefaultInvalidIDPrefix
		}
	}
	if g.Output == "" {
		g.Output = "BFCL_V4_" + g.IDPrefix + ".json"
	}
	if g.SkipFailed == nil {
		v := true
		g.SkipFailed = &v
	}
	return g
}

// AssembleNormalize 构造 normalize 流水线的 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func AssembleNormalize(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := ValidateNormalize(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults().Components
	r, err := registry.Reader[effName(cfg.Components.Reader, d.Reader)](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("reader options: %w", err)
	}
	s, err := registry.Splitter[effName(cfg.Components.Splitter, d.Splitter)](cfg.Options.Splitter)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("splitter options: %w", err)
	}
	dec, err := registry.RecordDecoder[effName(cfg.Components.Decoder, d.Decoder)](cfg.Options.Decoder)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("decoder options: %w", err)
	}
	w, err := registry.Writer[effName(cfg.Components.Writer, d.Writer)](cfg.Options.Writer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer options: %w", err)
	}
	style, _ := jsonv.ParseStyle(cfg.Normalize.Style)
	comp := pipeline.Components{
		Reader:   r,
		Splitter: s,
		Decoder:  dec,
		Writer:   w,
		Normalizer: normalize.New(normalize.Options{
			ElementFields: cloneStrings(cfg.Normalize.ElementFields),
			CrystalFields: cloneStrings(cfg.Normalize.CrystalFields),
		}),
	}
	set := pipeline.Settings{
		Inputs:        cloneStrings(cfg.Inputs),
		Output:        contract.ArtifactID(strings.TrimSpace(cfg.Output)),
		Style:         style,
		ProgressEvery: cfg.Normalize.ProgressEvery,
	}
	return comp, set, nil
}

// AssembleGenerate 构造生成阶段的 Components、Settings 与限流 Gate+Key。
func AssembleGenerate(cfg Config) (generate.Components, generate.Settings, error) {
	if err := ValidateGenerate(cfg); err != nil {
		return generate.Components{}, generate.Settings{}, err
	}
	g := EffectiveGenerate(cfg)

	cat, err := loadCatalog(g.Catalog)
	if err != nil {
		return generate.Components{}, generate.Settings{}, err
	}
	params, err := cat.Params(g.ParamSet)
	if err != nil {
		return generate.Components{}, generate.Settings{}, err
	}

	d := Defaults().Components
	pb, err := registry.PromptBuilder[effName(cfg.Components.PromptBuilder, d.PromptBuilder)](cfg.Options.PromptBuilder)
	if err != nil {
		return generate.Components{}, generate.Settings{}, fmt.Errorf("prompt_builder options: %w", err)
	}
	qd, err := registry.QueryDecoder[effName(cfg.Components.QueryDecoder, d.QueryDecoder)](cfg.Options.QueryDecoder)
	if err != nil {
		return generate.Components{}, generate.Settings{}, fmt.Errorf("query_decoder options: %w", err)
	}
	w, err := registry.Writer[effName(cfg.Components.Writer, d.Writer)](cfg.Options.Writer)
	if err != nil {
		return generate.Components{}, generate.Settings{}, fmt.Errorf("writer options: %w", err)
	}

	prov := cfg.Provider[cfg.LLM]
	llm, err := registry.LLMClient[prov.Client](prov.Options)
	if err != nil {
		return generate.Components{}, generate.Settings{}, err
	}

	comp := generate.Components{PromptBuilder: pb, LLM: llm, Decoder: qd, Writer: w}
	if op, ok := w.(contract.ArtifactOpener); ok {
		comp.Opener = op
	}

	// 限流 Gate（按 provider 限额构造；分组键从 options 中派生 API Key，失败则退化为 provider 名称）
	key, derr := rate.DeriveKeyFromProviderOptions(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{
		key: {RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq},
	}, nil)

	style, _ := jsonv.ParseStyle(cfg.Normalize.Style)
	set := generate.Settings{
		ParamRecipes:          cloneStrings(params),
		StyleRecipes:          cloneStrings(cat.StyleRecipes),
		Schema:                cat.FunctionSchema,
		IDPrefix:              g.IDPrefix,
		Output:                contract.ArtifactID(g.Output),
		Style:                 style,
		QueriesPerCombination: g.QueriesPerCombination,
		Concurrency:           cfg.Concurrency,
		MaxRetries:            cfg.MaxRetries,
		SkipFailed:            *g.SkipFailed,
		MaxTokens:             cfg.MaxTokens,
		BytesPerToken:         g.BytesPerToken,
		Gate:                  gate,
		GateKey:               key,
	}
	return comp, set, nil
}

func loadCatalog(path string) (*generate.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return generate.DefaultCatalog()
	}
	return generate.LoadCatalog(path)
}

func effName(got, def string) string {
	if strings.TrimSpace(got) == "" {
		return def
	}
	return got
}
