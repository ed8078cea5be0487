package jsonl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"bfclprep/pkg/contract"
)

// Options 为 JSONL Splitter 的可选配置。
type Options struct {
	// MaxLineBytes: 单行最大字节数（不含换行）。0 表示不限制。
	MaxLineBytes int `json:"max_line_bytes"`
}

// Splitter 按行拆分 JSON Lines；仅含空白的行跳过但计入行号。
type Splitter struct {
	maxBytes int
}

// New 创建 JSONL Splitter。
func New(opts *Options) *Splitter {
	s := &Splitter{}
	if opts != nil && opts.MaxLineBytes > 0 {
		s.maxBytes = opts.MaxLineBytes
	}
	return s
}

// ErrLineTooLong: 单行超过 MaxLineBytes。
var ErrLineTooLong = errors.New("line too long")

const bom = "\uFEFF"

// Split 读取至 EOF，返回非空行（行号 1 起）。
func (s *Splitter) Split(ctx context.Context, fileID contract.FileID, r io.Reader) ([]contract.Line, error) {
	br := bufio.NewReader(r)
	var lines []contract.Line
	for no := 1; ; no++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := br.ReadString('\n')
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return nil, err
		}
		text = strings.TrimSuffix(text, "\n")
		text = strings.TrimSuffix(text, "\r")
		if no == 1 {
			text = strings.TrimPrefix(text, bom)
		}
		if s.maxBytes > 0 && len(text) > s.maxBytes {
			return nil, fmt.Errorf("%s:%d: %w: %d > %d", fileID, no, ErrLineTooLong, len(text), s.maxBytes)
		}
		if strings.TrimSpace(text) != "" {
			lines = append(lines, contract.Line{FileID: fileID, No: no, Text: text})
		}
		if eof {
			return lines, nil
		}
	}
}
