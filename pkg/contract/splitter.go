package contract

import (
	"context"
	"io"
)

// Splitter: 将单文件字节流拆分为有序的非空 Line 序列。
// 约束：
// 1) 不跨文件合并；
// 2) 行号严格递增且与物理行对应；
// 3) 不改变文本语义（仅去除行尾 CRLF/LF）；
// 4) 无内部并发、幂等。
type Splitter interface {
	Split(ctx context.Context, fileID FileID, r io.Reader) ([]Line, error)
}
