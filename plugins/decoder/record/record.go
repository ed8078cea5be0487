package record

import (
	"context"

	"bfclprep/pkg/contract"
	"bfclprep/pkg/jsonv"
)

// Options: 当前无可配置项。
type Options struct{}

// Decoder 将一行解析为有序 JSON 对象。
type Decoder struct{}

// New 创建记录解码器。
func New(*Options) *Decoder { return &Decoder{} }

// Decode 非法 JSON 或顶层非对象时返回 *contract.ParseError。
func (d *Decoder) Decode(ctx context.Context, line contract.Line) (*jsonv.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	obj, err := jsonv.ParseObject([]byte(line.Text))
	if err != nil {
		return nil, &contract.ParseError{FileID: line.FileID, Line: line.No, Text: line.Text, Err: err}
	}
	return obj, nil
}
