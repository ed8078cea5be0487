package prompt

import "bfclprep/pkg/contract"

// MakeEstimator 返回一个近似 token 估算器：tokens ≈ ceil(len(utf8_bytes)/bytesPerToken)。
// 当 bytesPerToken<=0 时采用默认 4。
func MakeEstimator(bytesPerToken int) contract.TokenEstimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	return func(s string) int {
		n := len(s)
		if n == 0 {
			return 0
		}
		return (n + bpt - 1) / bpt
	}
}

// PromptTokens 估算 Prompt 的输入 token 数；json_schema 消息同样计入请求体。
// 未知载荷类型返回 0。
func PromptTokens(p contract.Prompt, est contract.TokenEstimator) int {
	if est == nil {
		est = MakeEstimator(0)
	}
	switch v := p.(type) {
	case contract.TextPrompt:
		return est(string(v))
	case contract.ChatPrompt:
		total := 0
		for _, m := range v {
			total += est(m.Content)
		}
		return total
	}
	return 0
}

// RequestTokens 为限流闸门给出单次请求的 token 申请量：输入估算 + 输出上限。
// maxOutput<=0 时仅计输入。
func RequestTokens(p contract.Prompt, est contract.TokenEstimator, maxOutput int) int {
	n := PromptTokens(p, est)
	if maxOutput > 0 {
		n += maxOutput
	}
	return n
}
