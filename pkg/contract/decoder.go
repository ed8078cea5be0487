package contract

import (
	"context"

	"bfclprep/pkg/jsonv"
)

// RecordDecoder: 将一行文本解码为一条记录（有序 JSON 对象）。
// 非法 JSON 必须返回可 errors.Is(ErrParse) 的错误，并携带行号。
type RecordDecoder interface {
	Decode(ctx context.Context, line Line) (*jsonv.Object, error)
}

// QueryDecoder: 将 LLM 原始输出解码为查询文本列表。
// 输出不可解析或为空时返回 ErrResponseInvalid。
type QueryDecoder interface {
	Decode(ctx context.Context, req QueryRequest, raw Raw) ([]string, error)
}
