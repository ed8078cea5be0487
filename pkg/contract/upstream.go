package contract

// UpstreamError 承载 LLM 上游（HTTP/SDK）错误的最小诊断信息。
// 生成流程据此记录结构化日志字段（status/msg）。
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
}
