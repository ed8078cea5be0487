package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
)

// 各客户端缺省读取的 API Key 环境变量；与 plugins/llmclient/* 的默认值一致。
var defaultKeyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"gemini": "GOOGLE_API_KEY",
}

// DeriveKeyFromProviderOptions 从 LLM 客户端标识与其原样 Options JSON 中提取 API Key，
// 并返回按 client+sha256(key) 构造的限流分组键。找不到 key 时返回错误。
// 同一 Key 的多个 provider 共享额度；mock/flaky 无 Key 时退回固定调试键。
func DeriveKeyFromProviderOptions(client string, raw json.RawMessage) (LimitKey, error) {
	// 按通用 JSON 键解析，避免依赖 plugins/* 的具体类型。
	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)

	pick := func(key string) string {
		if s, ok := obj[key].(string); ok {
			return s
		}
		return ""
	}

	key := pick("api_key")
	switch client {
	case "mock", "flaky":
		if key == "" {
			key = "MOCK_DEBUG_KEY"
		}
	default:
		if key == "" {
			env := pick("api_key_env")
			if env == "" {
				env = defaultKeyEnv[client]
			}
			if env != "" {
				key = os.Getenv(env)
			}
		}
	}

	if key == "" {
		return "", fmt.Errorf("rate: missing api key for client %s", client)
	}
	sum := sha256.Sum256([]byte(key))
	return LimitKey(fmt.Sprintf("%s:%x", client, sum[:])), nil
}
