package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cfgpkg "bfclprep/internal/config"
	"bfclprep/internal/diag"
)

// loadConfig 按 Defaults → JSON → ENV → CLI 逐层合并。
func (a *app) loadConfig(cli cfgpkg.Config) (cfgpkg.Config, error) {
	path := a.configPath
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	var raw []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); strings.TrimSpace(s) != "" {
		raw = []byte(s)
	}
	if path == "" && len(raw) == 0 {
		if st, err := os.Stat("config.json"); err == nil && !st.IsDir() {
			path = "config.json"
		}
	}
	cfg := cfgpkg.Defaults()
	if path != "" || len(raw) > 0 {
		base, err := cfgpkg.LoadJSON(path, raw)
		if err != nil {
			return cfg, fmt.Errorf("配置解析失败: %w", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	env, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, fmt.Errorf("环境变量解析失败: %w", err)
	}
	cfg = cfgpkg.Merge(cfg, env)
	cli.Logging.Level = a.logLevel
	return cfgpkg.Merge(cfg, cli), nil
}

// logger 以最终配置的日志级别构造。
func (a *app) logger(cfg cfgpkg.Config) *diag.Logger {
	level := strings.TrimSpace(cfg.Logging.Level)
	if level == "" {
		level = "info"
	}
	return newLogger(a.corrID, level)
}

// terminal 安装全局终端提示并返回清理函数。
func (a *app) terminal(w io.Writer, task, detail string) (*diag.Terminal, func()) {
	term := diag.NewTerminal(w, a.status)
	diag.SetTerminal(term)
	term.RunStart(task, detail)
	return term, func() { diag.SetTerminal(nil) }
}

type stdoutSetter interface{ SetStdout(io.Writer) }

func newNormalizeCmd(a *app) *cobra.Command {
	var (
		output        string
		style         string
		elementFields []string
		crystalFields []string
	)
	cmd := &cobra.Command{
		Use:   "normalize [inputs...]",
		Short: "按 id 后缀排序并展开元素组合/晶系字段",
		Long: "读取全部 JSONL 记录（文件/目录，\"-\" 为 STDIN），按 id 末段整数升序排序，\n" +
			"展开元素字段的全排列与晶系单值，写出到单一输出（\"-\" 为 stdout）。",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := cfgpkg.Config{MaxRetries: -1, Inputs: args, Output: output}
			cli.Normalize.Style = style
			cli.Normalize.ElementFields = elementFields
			cli.Normalize.CrystalFields = crystalFields
			cfg, err := a.loadConfig(cli)
			if err != nil {
				return configFailure(err)
			}
			comp, set, err := cfgpkg.AssembleNormalize(cfg)
			if err != nil {
				return configFailure(fmt.Errorf("装配失败: %w", err))
			}
			if w, ok := comp.Writer.(stdoutSetter); ok {
				w.SetStdout(cmd.OutOrStdout())
			}

			logger := a.logger(cfg)
			defer func() { _ = logger.Sync() }()
			logger.Debug("config", "effective",
				zap.Strings("inputs", cfg.Inputs),
				zap.String("output", cfg.Output),
				zap.String("style", cfg.Normalize.Style),
				zap.Strings("element_fields", cfg.Normalize.ElementFields),
				zap.Strings("crystal_fields", cfg.Normalize.CrystalFields),
			)
			term, done := a.terminal(cmd.ErrOrStderr(), "normalize", fmt.Sprintf("inputs=%d output=%s", len(set.Inputs), set.Output))
			defer done()

			t0 := time.Now()
			st, err := pipelineRun(cmd.Context(), comp, set, logger)
			if err != nil {
				logger.Error("pipeline", "run failed", err)
				term.RunFinish(false, "", time.Since(t0))
				return runFailure(err)
			}
			term.RunFinish(true, fmt.Sprintf("files=%d records=%d", st.Files, st.Written), time.Since(t0))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "", "输出工件（\"-\" 为 stdout）")
	f.StringVar(&style, "style", "", "输出分隔风格 python|compact")
	f.StringSliceVar(&elementFields, "element-field", nil, "元素组合字段名（可重复）")
	f.StringSliceVar(&crystalFields, "crystal-field", nil, "晶系字段名（可重复）")
	return cmd
}

func newGenerateCmd(a *app) *cobra.Command {
	var (
		llm         string
		concurrency int
		maxTokens   int
		maxRetries  int
		catalog     string
		paramSet    string
		idPrefix    string
		output      string
		queries     int
		skipFailed  bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "按参数配方 × 风格配方调用 LLM 合成查询并追加为训练记录",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli := cfgpkg.Config{LLM: llm, Concurrency: concurrency, MaxTokens: maxTokens, MaxRetries: maxRetries}
			cli.Generate = cfgpkg.Generate{
				Catalog:               catalog,
				ParamSet:              paramSet,
				IDPrefix:              idPrefix,
				Output:                output,
				QueriesPerCombination: queries,
			}
			if cmd.Flags().Changed("skip-failed") {
				cli.Generate.SkipFailed = &skipFailed
			}
			cfg, err := a.loadConfig(cli)
			if err != nil {
				return configFailure(err)
			}
			comp, set, err := cfgpkg.AssembleGenerate(cfg)
			if err != nil {
				return configFailure(fmt.Errorf("装配失败: %w", err))
			}

			logger := a.logger(cfg)
			defer func() { _ = logger.Sync() }()
			logger.Debug("config", "effective",
				zap.String("llm", cfg.LLM),
				zap.String("client", cfg.Provider[cfg.LLM].Client),
				zap.String("id_prefix", set.IDPrefix),
				zap.String("output", string(set.Output)),
				zap.Int("pairs", len(set.ParamRecipes)*len(set.StyleRecipes)),
				zap.Int("queries_per_combination", set.QueriesPerCombination),
				zap.Int("concurrency", set.Concurrency),
				zap.Int("max_retries", set.MaxRetries),
			)
			term, done := a.terminal(cmd.ErrOrStderr(), "generate", fmt.Sprintf("llm=%s concurrency=%d", cfg.LLM, set.Concurrency))
			defer done()

			t0 := time.Now()
			st, err := generateRun(cmd.Context(), comp, set, logger)
			if err != nil {
				logger.Error("generate", "run failed", err)
				term.RunFinish(false, "", time.Since(t0))
				return runFailure(err)
			}
			summary := fmt.Sprintf("pairs=%d failed=%d records=%d start_id=%d", st.Pairs, st.Failed, st.Records, st.StartID)
			term.RunFinish(true, summary, time.Since(t0))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&llm, "llm", "", "provider 名称（覆盖配置）")
	f.IntVar(&concurrency, "concurrency", 0, "并发组合数（覆盖配置）")
	f.IntVar(&maxTokens, "max-tokens", 0, "单次请求输出 token 上限（覆盖配置）")
	// -1 表示“未覆盖”，允许显式 0（不重试）。
	f.IntVar(&maxRetries, "max-retries", -1, "单个组合最大重试次数（覆盖配置；0 表示不重试）")
	f.StringVar(&catalog, "catalog", "", "YAML 配方目录（缺省使用内置目录）")
	f.StringVar(&paramSet, "param-set", "", "参数配方集 valid|invalid")
	f.StringVar(&idPrefix, "id-prefix", "", "记录 id 前缀")
	f.StringVarP(&output, "output", "o", "", "输出工件（相对 writer 根目录）")
	f.IntVar(&queries, "queries", 0, "每个组合生成的查询条数")
	f.BoolVar(&skipFailed, "skip-failed", true, "重试耗尽的组合跳过而非整体失败")
	return cmd
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "在目录下生成默认 config.json 与 .env 模板（已存在则不覆盖）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return configFailure(fmt.Errorf("生成默认配置失败: %w", err))
			}
			cfgPath := filepath.Join(dir, "config.json")
			if err := writeConfig(cfgPath, cfgpkg.DefaultTemplateConfig()); err != nil {
				return configFailure(fmt.Errorf("生成默认配置失败: %w", err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已生成 %s\n", cfgPath)
			envPath := filepath.Join(dir, ".env")
			if err := writeDotEnv(envPath); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "提示：.env 生成失败（已跳过）：%v\n", err)
			}
			return nil
		},
	}
}
