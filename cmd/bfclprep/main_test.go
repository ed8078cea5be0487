package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	cfgpkg "bfclprep/internal/config"
	"bfclprep/internal/diag"
	"bfclprep/internal/generate"
	"bfclprep/internal/pipeline"
	"bfclprep/pkg/jsonv"
)

// lockedBuf: 日志可能被多个 goroutine 写入。
type lockedBuf struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuf) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuf) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

// sandbox 切换到临时目录并把日志导向内存。
func sandbox(t *testing.T) (string, *lockedBuf) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	logs := &lockedBuf{}
	old := newLogger
	newLogger = func(corrID, level string) *diag.Logger {
		return diag.NewLoggerTo(corrID, level, zapcore.AddSync(logs))
	}
	t.Cleanup(func() { newLogger = old })
	return dir, logs
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errb bytes.Buffer
	code := run(context.Background(), append(args, "--status=false"), &out, &errb)
	return code, out.String(), errb.String()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestInitConfig(t *testing.T) {
	dir, _ := sandbox(t)
	code, out, _ := runCLI(t, "init-config", "conf")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, filepath.Join("conf", "config.json"))

	cfg, err := cfgpkg.LoadJSON(filepath.Join(dir, "conf", "config.json"), nil)
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.LLM)
	env, err := os.ReadFile(filepath.Join(dir, "conf", ".env"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "BFCL_PREP_GENERATE_ID_PREFIX=\n")
	assert.Contains(t, string(env), "BFCL_PREP_PROVIDER__gemini__OPTIONS_JSON=\n")

	// 不覆盖已存在的配置
	code, _, stderr := runCLI(t, "init-config", "conf")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "生成默认配置失败")
}

func TestInitConfigDefaultDir(t *testing.T) {
	dir, _ := sandbox(t)
	code, _, _ := runCLI(t, "init-config")
	require.Equal(t, exitOK, code)
	assert.FileExists(t, filepath.Join(dir, "config.json"))
	assert.FileExists(t, filepath.Join(dir, ".env"))
}

func TestNormalizeToStdout(t *testing.T) {
	dir, logs := sandbox(t)
	writeFile(t, filepath.Join(dir, "in", "b.jsonl"), `{"id":"Mindat_v1_10","crystal_system":["Hexagonal"]}`+"\n")
	writeFile(t, filepath.Join(dir, "in", "a.jsonl"), `{"id":"Mindat_v1_2","el_inc":[["Fe","Mg"]]}`+"\r\n\r\n")

	code, out, stderr := runCLI(t, "normalize", "in", "-o", "-", "--log-level", "debug")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t,
		`{"id": "Mindat_v1_2", "el_inc": [["Fe", "Mg"], ["Mg", "Fe"], "Fe,Mg", "Mg,Fe"]}`+"\n"+
			`{"id": "Mindat_v1_10", "crystal_system": ["Hexagonal", ["Hexagonal"]]}`+"\n",
		out)
	assert.Contains(t, logs.String(), `"msg":"effective"`)
}

func TestNormalizeCompactToFile(t *testing.T) {
	dir, _ := sandbox(t)
	writeFile(t, filepath.Join(dir, "in.jsonl"), `{"id":"A_1","n":1.50}`+"\n")
	code, out, stderr := runCLI(t, "normalize", "in.jsonl", "-o", "out/norm.jsonl", "--style", "compact")
	require.Equal(t, exitOK, code, stderr)
	assert.Empty(t, out)
	b, err := os.ReadFile(filepath.Join(dir, "out", "norm.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, `{"id":"A_1","n":1.50}`+"\n", string(b))
}

func TestNormalizeParseErrorExit1(t *testing.T) {
	dir, logs := sandbox(t)
	writeFile(t, filepath.Join(dir, "in.jsonl"), `{"id":"A_1"}`+"\n"+`{"id":`+"\n")
	code, out, stderr := runCLI(t, "normalize", "in.jsonl", "-o", "-")
	assert.Equal(t, exitRun, code)
	assert.Empty(t, out)
	assert.Contains(t, stderr, "in.jsonl")
	assert.Contains(t, logs.String(), `"code":"parse"`)
}

func TestNormalizeMalformedIDExit1(t *testing.T) {
	dir, _ := sandbox(t)
	writeFile(t, filepath.Join(dir, "in.jsonl"), `{"id":"A_1"}`+"\n"+`{"id":"nope"}`+"\n")
	code, out, _ := runCLI(t, "normalize", "in.jsonl", "-o", "-")
	assert.Equal(t, exitRun, code)
	assert.Empty(t, out)
}

func TestNormalizeConfigErrors(t *testing.T) {
	sandbox(t)
	cases := [][]string{
		{"normalize"},                              // 无输入
		{"normalize", "-", "a.jsonl"},              // "-" 混用
		{"normalize", "x", "--style", "pretty"},    // 风格非法
		{"normalize", "x", "--log-level", "trace"}, // 日志级别非法
		{"normalize", "x", "--no-such-flag"},       // 未知旗标
		{"bogus"},                                  // 未知子命令
	}
	for _, args := range cases {
		code, _, _ := runCLI(t, args...)
		assert.Equal(t, exitConfig, code, "%v", args)
	}
}

func TestNormalizeConfigFileMissing(t *testing.T) {
	sandbox(t)
	code, _, stderr := runCLI(t, "--config", "nope.json", "normalize", "x")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "配置解析失败")
}

// 默认读取工作目录下的 config.json；ENV 覆盖 JSON；CLI 覆盖 ENV。
func TestLayeredConfig(t *testing.T) {
	dir, _ := sandbox(t)
	writeFile(t, filepath.Join(dir, "config.json"), `{"inputs":["from-json.jsonl"],"output":"json-out.jsonl","normalize":{"style":"compact"}}`)
	t.Setenv("BFCL_PREP_OUTPUT", "env-out.jsonl")

	var got pipeline.Settings
	old := pipelineRun
	pipelineRun = func(_ context.Context, _ pipeline.Components, set pipeline.Settings, _ *diag.Logger) (pipeline.Stats, error) {
		got = set
		return pipeline.Stats{}, nil
	}
	t.Cleanup(func() { pipelineRun = old })

	code, _, stderr := runCLI(t, "normalize")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, []string{"from-json.jsonl"}, got.Inputs)
	assert.EqualValues(t, "env-out.jsonl", got.Output)
	assert.Equal(t, jsonv.StyleCompact, got.Style)

	code, _, _ = runCLI(t, "normalize", "cli.jsonl", "-o", "cli-out.jsonl", "--style", "python")
	require.Equal(t, exitOK, code)
	assert.Equal(t, []string{"cli.jsonl"}, got.Inputs)
	assert.EqualValues(t, "cli-out.jsonl", got.Output)
	assert.Equal(t, jsonv.StylePython, got.Style)
}

// 配置 JSON 可直接经 ENV 提供。
func TestConfigJSONEnv(t *testing.T) {
	dir, _ := sandbox(t)
	writeFile(t, filepath.Join(dir, "in.jsonl"), `{"id":"A_3"}`+"\n"+`{"id":"A_1"}`+"\n")
	t.Setenv("BFCL_PREP_CONFIG_JSON", `{"inputs":["in.jsonl"],"output":"-"}`)
	code, out, stderr := runCLI(t, "normalize")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, `{"id": "A_1"}`+"\n"+`{"id": "A_3"}`+"\n", out)
}

func mockConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "gen.json")
	writeFile(t, path, `{
  "max_retries": 1,
  "generate": {"queries_per_combination": 2, "output": "train.json"},
  "llm": "mock",
  "provider": {"mock": {"client": "mock", "options": {"prefix": "Q"}}},
  "options": {"writer": {"output_dir": "output"}}
}`)
	return path
}

func TestGenerateMockAppends(t *testing.T) {
	dir, _ := sandbox(t)
	cfgPath := mockConfig(t, dir)

	code, _, stderr := runCLI(t, "--config", cfgPath, "generate", "--concurrency", "3")
	require.Equal(t, exitOK, code, stderr)
	code, _, stderr = runCLI(t, "--config", cfgPath, "generate")
	require.Equal(t, exitOK, code, stderr)

	b, err := os.ReadFile(filepath.Join(dir, "output", "train.json"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	// 9 参数配方 × 3 风格配方 × 2 条 × 2 次
	require.Len(t, lines, 108)
	for i, ln := range []int{0, 53, 54, 107} {
		obj, err := jsonv.ParseObject([]byte(lines[ln]))
		require.NoError(t, err, i)
		id, _ := obj.Get("id")
		assert.Equal(t, jsonv.String("Mindat_v1_"+itoa(ln)), id)
	}
	assert.Contains(t, lines[0], `"content": "Q 0.0: `)
	assert.Contains(t, lines[0], `"function": [{"name": "mindat_geomaterial"`)
}

func itoa(n int) string { return strconv.Itoa(n) }

func TestGenerateFlagsOverride(t *testing.T) {
	dir, _ := sandbox(t)
	cfgPath := mockConfig(t, dir)
	t.Setenv("BFCL_PREP_MAX_RETRIES", "3")

	var got generate.Settings
	old := generateRun
	generateRun = func(_ context.Context, _ generate.Components, set generate.Settings, _ *diag.Logger) (generate.Stats, error) {
		got = set
		return generate.Stats{}, nil
	}
	t.Cleanup(func() { generateRun = old })

	code, _, stderr := runCLI(t, "--config", cfgPath, "generate")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, 3, got.MaxRetries, "ENV 覆盖 JSON")
	assert.True(t, got.SkipFailed)
	assert.Equal(t, "Mindat_v1", got.IDPrefix)
	assert.Len(t, got.ParamRecipes, 9)

	code, _, stderr = runCLI(t, "--config", cfgPath, "generate",
		"--max-retries", "0", "--skip-failed=false", "--param-set", "invalid", "--queries", "7", "-o", "inv.json")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, 0, got.MaxRetries, "CLI 显式 0 覆盖 ENV")
	assert.False(t, got.SkipFailed)
	assert.Equal(t, "Mindat_v1_irrelevance", got.IDPrefix)
	assert.Len(t, got.ParamRecipes, 12)
	assert.Equal(t, 7, got.QueriesPerCombination)
	assert.EqualValues(t, "inv.json", got.Output)
}

func TestGenerateRunFailureExit1(t *testing.T) {
	dir, logs := sandbox(t)
	cfgPath := mockConfig(t, dir)
	old := generateRun
	generateRun = func(context.Context, generate.Components, generate.Settings, *diag.Logger) (generate.Stats, error) {
		return generate.Stats{}, errors.New("boom")
	}
	t.Cleanup(func() { generateRun = old })

	code, _, stderr := runCLI(t, "--config", cfgPath, "generate")
	assert.Equal(t, exitRun, code)
	assert.Contains(t, stderr, "boom")
	assert.Contains(t, logs.String(), `"comp":"generate"`)
}

func TestGenerateConfigErrors(t *testing.T) {
	dir, _ := sandbox(t)
	cfgPath := mockConfig(t, dir)
	cases := [][]string{
		{"generate"}, // 无 llm
		{"--config", cfgPath, "generate", "--llm", "openai"},
		{"--config", cfgPath, "generate", "--param-set", "all"},
		{"--config", cfgPath, "generate", "--catalog", "missing.yaml"},
		{"--config", cfgPath, "generate", "extra-arg"},
	}
	for _, args := range cases {
		code, _, _ := runCLI(t, args...)
		assert.Equal(t, exitConfig, code, "%v", args)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	keys := []string{"BFCL_T_A", "BFCL_T_B", "BFCL_T_C", "BFCL_T_D", "BFCL_T_KEEP"}
	for _, k := range keys {
		require.NoError(t, os.Unsetenv(k))
	}
	t.Cleanup(func() {
		for _, k := range keys {
			_ = os.Unsetenv(k)
		}
	})
	require.NoError(t, os.Setenv("BFCL_T_KEEP", "orig"))
	path := filepath.Join(dir, ".env")
	writeFile(t, path, strings.Join([]string{
		"# comment",
		"",
		"BFCL_T_A = plain ",
		"export BFCL_T_B='single $x'",
		`BFCL_T_C="line1\nq\"x\\"`,
		"BFCL_T_D=",
		"BFCL_T_KEEP=new",
		"novalue",
	}, "\n"))
	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "plain", os.Getenv("BFCL_T_A"))
	assert.Equal(t, "single $x", os.Getenv("BFCL_T_B"))
	assert.Equal(t, "line1\nq\"x\\", os.Getenv("BFCL_T_C"))
	v, ok := os.LookupEnv("BFCL_T_D")
	assert.True(t, ok)
	assert.Empty(t, v)
	assert.Equal(t, "orig", os.Getenv("BFCL_T_KEEP"))

	assert.NoError(t, loadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestWriteConfigNoOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	require.NoError(t, writeConfig(path, cfgpkg.Defaults()))
	assert.Error(t, writeConfig(path, cfgpkg.Defaults()))
	require.NoError(t, writeDotEnv(filepath.Join(filepath.Dir(path), ".env")))
	// 已存在时跳过
	require.NoError(t, writeDotEnv(filepath.Join(filepath.Dir(path), ".env")))
}
