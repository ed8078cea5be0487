package registry

import (
	"bytes"
	"encoding/json"

	"bfclprep/pkg/contract"
	dql "bfclprep/plugins/decoder/querylist"
	drec "bfclprep/plugins/decoder/record"
	flaky "bfclprep/plugins/llmclient/flaky"
	gmi "bfclprep/plugins/llmclient/gemini"
	mock "bfclprep/plugins/llmclient/mock"
	oai "bfclprep/plugins/llmclient/openai"
	pq "bfclprep/plugins/prompt/queries"
	rfs "bfclprep/plugins/reader/filesystem"
	sjl "bfclprep/plugins/splitter/jsonl"
	wfs "bfclprep/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewSplitter 工厂签名：接收原样 JSON Options。
type NewSplitter func(raw json.RawMessage) (contract.Splitter, error)

// NewRecordDecoder 工厂签名：接收原样 JSON Options。
type NewRecordDecoder func(raw json.RawMessage) (contract.RecordDecoder, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewPromptBuilder 工厂签名：接收原样 JSON Options。
type NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)

// NewLLMClient 工厂签名：接收原样 JSON Options。
type NewLLMClient func(raw json.RawMessage) (contract.LLMClient, error)

// NewQueryDecoder 工厂签名：接收原样 JSON Options。
type NewQueryDecoder func(raw json.RawMessage) (contract.QueryDecoder, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件/目录/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Splitter 工厂注册表。
var Splitter = map[string]NewSplitter{
	// jsonl: 按行拆分，跳过空行
	"jsonl": func(raw json.RawMessage) (contract.Splitter, error) {
		var opts sjl.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return sjl.New(&opts), nil
	},
}

// RecordDecoder 工厂注册表。
var RecordDecoder = map[string]NewRecordDecoder{
	// json: 每行一个 JSON 对象，保留键序与数字字面量
	"json": func(raw json.RawMessage) (contract.RecordDecoder, error) {
		var opts drec.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return drec.New(&opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置；"-" 为 stdout）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// queries: 参数配方 × 风格配方 → Chat + json_schema
	"queries": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts pq.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pq.New(&opts)
	},
}

// LLMClient 工厂注册表；各客户端自行解析 Options。
var LLMClient = map[string]NewLLMClient{
	"openai": func(raw json.RawMessage) (contract.LLMClient, error) { return oai.New(raw) },
	"gemini": func(raw json.RawMessage) (contract.LLMClient, error) { return gmi.New(raw) },
	"mock":   func(raw json.RawMessage) (contract.LLMClient, error) { return mock.New(raw) },
	"flaky":  func(raw json.RawMessage) (contract.LLMClient, error) { return flaky.New(raw) },
}

// QueryDecoder 工厂注册表。
var QueryDecoder = map[string]NewQueryDecoder{
	// querylist: {"queries": [...]}，容忍代码围栏
	"querylist": func(raw json.RawMessage) (contract.QueryDecoder, error) {
		var opts dql.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dql.New(&opts), nil
	},
}
