package testdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "bfclprep/internal/config"
	"bfclprep/internal/generate"
	"bfclprep/internal/pipeline"
	"bfclprep/pkg/contract"
)

func baseConfig(outDir string) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Logging.Level = "error"
	cfg.Provider = map[string]cfgpkg.Provider{}
	cfg.Options.Writer = json.RawMessage(fmt.Sprintf(`{"output_dir":%q,"atomic":true}`, outDir))
	return cfg
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

// 规范化输出与基准文件逐行一致。
func TestE2ENormalizeGolden(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(outDir)
	cfg.Inputs = []string{filepath.Join("files", "mindat_answers.jsonl")}
	cfg.Output = "normalized.jsonl"

	comp, set, err := cfgpkg.AssembleNormalize(cfg)
	require.NoError(t, err)
	st, err := pipeline.Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, st.Written)

	want := readLines(t, filepath.Join("files", "mindat_answers.golden.jsonl"))
	got := readLines(t, filepath.Join(outDir, "normalized.jsonl"))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("输出与基准不符 (-want +got):\n%s", diff)
	}
}

// 对规范化结果再次运行：排序稳定，晶系不重复展开。
func TestE2ENormalizeRerun(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(outDir)
	cfg.Inputs = []string{filepath.Join("files", "mindat_answers.golden.jsonl")}
	cfg.Output = "again.jsonl"
	cfg.Normalize.ElementFields = []string{"none"}

	comp, set, err := cfgpkg.AssembleNormalize(cfg)
	require.NoError(t, err)
	_, err = pipeline.Run(context.Background(), comp, set, nil)
	require.NoError(t, err)

	want := readLines(t, filepath.Join("files", "mindat_answers.golden.jsonl"))
	got := readLines(t, filepath.Join(outDir, "again.jsonl"))
	assert.Equal(t, want, got)
}

// 单组合目录，便于断言调用序列。
const tinyCatalog = `param_recipes:
  - "hardness between 5 and 6"
invalid_param_recipes:
  - "hardness of -3"
style_recipes:
  - "concise question"
function_schema:
  name: mindat_geomaterial
  parameters:
    type: dict
    properties:
      hardness_min: {type: float}
`

func writeCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tinyCatalog), 0o644))
	return path
}

func TestE2EGenerateRetry(t *testing.T) {
	outDir := t.TempDir()
	logPath := filepath.Join(outDir, "flaky.log")
	cfg := baseConfig(outDir)
	cfg.LLM = "flaky"
	cfg.MaxRetries = 2
	cfg.Generate.Catalog = writeCatalog(t)
	cfg.Generate.QueriesPerCombination = 2
	cfg.Provider["flaky"] = cfgpkg.Provider{
		Client:  "flaky",
		Options: json.RawMessage(fmt.Sprintf(`{"prefix":"FLAKY","log_path":%q}`, logPath)),
	}

	comp, set, err := cfgpkg.AssembleGenerate(cfg)
	require.NoError(t, err)
	st, err := generate.Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Records)

	got := readLines(t, filepath.Join(outDir, "BFCL_V4_Mindat_v1.json"))
	assert.Equal(t, []string{
		`{"id": "Mindat_v1_0", "question": [[{"role": "user", "content": "FLAKY 0.0: hardness between 5 and 6 | concise question"}]], "function": [{"name": "mindat_geomaterial", "parameters": {"type": "dict", "properties": {"hardness_min": {"type": "float"}}}}]}`,
		`{"id": "Mindat_v1_1", "question": [[{"role": "user", "content": "FLAKY 0.1: hardness between 5 and 6 | concise question"}]], "function": [{"name": "mindat_geomaterial", "parameters": {"type": "dict", "properties": {"hardness_min": {"type": "float"}}}}]}`,
	}, got)
	assert.Equal(t, []string{"rate_limited", "invalid_json", "ok"}, readLines(t, logPath))
}

// 单请求预算不足：快速失败且不写出。
func TestE2EGenerateBudgetExceeded(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(outDir)
	cfg.LLM = "mock"
	cfg.Generate.Catalog = writeCatalog(t)
	cfg.Generate.ParamSet = "invalid"
	skip := false
	cfg.Generate.SkipFailed = &skip
	cfg.Provider["mock"] = cfgpkg.Provider{
		Client: "mock",
		Limits: cfgpkg.Limits{MaxTokensPerReq: cfg.MaxTokens},
	}

	comp, set, err := cfgpkg.AssembleGenerate(cfg)
	require.NoError(t, err)
	_, err = generate.Run(context.Background(), comp, set, nil)
	require.ErrorIs(t, err, contract.ErrBudgetExceeded)
	_, statErr := os.Stat(filepath.Join(outDir, "BFCL_V4_Mindat_v1_irrelevance.json"))
	assert.True(t, os.IsNotExist(statErr))
}
