package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strings"

	cfgpkg "bfclprep/internal/config"
)

// writeConfig 以缩进 JSON 写出配置；已存在则失败（不覆盖）。
func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；
// - 跳过空行与以 # 开头的行；支持可选的前缀 "export "；
// - 仅按首个 '=' 分割，key/value 去首尾空白；
// - 成对的单/双引号去除外层；双引号内处理 \n \t \r \" \\；
// - 不覆盖已存在的环境变量。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		if key == "" {
			continue
		}
		val := unquote(strings.TrimSpace(line[eq+1:]))
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

func unquote(val string) string {
	if len(val) < 2 {
		return val
	}
	q := val[0]
	if (q != '\'' && q != '"') || val[len(val)-1] != q {
		return val
	}
	val = val[1 : len(val)-1]
	if q == '"' {
		val = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\\`, `\`).Replace(val)
	}
	return val
}

// dotEnvKeys: .env 模板中列出的覆盖项（前缀 BFCL_PREP_）。
var dotEnvKeys = [][]string{
	{"# 配置来源（可二选一）", "CONFIG_FILE", "CONFIG_JSON"},
	{"# 运行参数覆盖", "INPUTS", "OUTPUT", "CONCURRENCY", "MAX_TOKENS", "MAX_RETRIES", "LLM", "LOG_LEVEL"},
	{"# normalize", "NORMALIZE_STYLE", "NORMALIZE_ELEMENT_FIELDS", "NORMALIZE_CRYSTAL_FIELDS", "NORMALIZE_PROGRESS_EVERY"},
	{"# generate", "GENERATE_CATALOG", "GENERATE_PARAM_SET", "GENERATE_ID_PREFIX", "GENERATE_OUTPUT", "GENERATE_QUERIES", "GENERATE_SKIP_FAILED"},
	{"# 组件选择", "COMPONENTS_READER", "COMPONENTS_SPLITTER", "COMPONENTS_DECODER", "COMPONENTS_WRITER", "COMPONENTS_PROMPT_BUILDER", "COMPONENTS_QUERY_DECODER"},
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# bfclprep .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON；空值表示未设置。\n\n")
	for _, group := range dotEnvKeys {
		b.WriteString(group[0] + "\n")
		for _, k := range group[1:] {
			b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
		}
		b.WriteString("\n")
	}
	for _, p := range []string{"openai", "gemini"} {
		b.WriteString("# Provider 覆盖（" + p + "）\n")
		for _, k := range []string{"CLIENT", "LIMITS_RPM", "LIMITS_TPM", "LIMITS_MAX_TOKENS_PER_REQ", "OPTIONS_JSON"} {
			b.WriteString(cfgpkg.EnvPrefix + "PROVIDER__" + p + "__" + k + "=\n")
		}
		b.WriteString("\n")
	}
	// 供应商 API Key 由客户端直接读取，不经前缀
	b.WriteString("# 常见供应商 API Key\nOPENAI_API_KEY=\nGOOGLE_API_KEY=\n")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return err
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
