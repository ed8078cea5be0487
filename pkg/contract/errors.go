package contract

import (
	"errors"
	"fmt"
)

// 最小错误分类（用于上层策略判定与诊断码映射）。
var (
	// ErrParse: 输入行不是合法 JSON 记录。
	ErrParse = errors.New("parse error")
	// ErrMalformedIdentifier: 记录 id 缺失或无法解析数字后缀，无法建立全序。
	ErrMalformedIdentifier = errors.New("malformed identifier")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 预算或配额不足（如 token 预算、上游配额）。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	ErrRateLimited        = errors.New("rate limited")
	ErrResponseInvalid    = errors.New("response invalid")
	ErrInvalidInput       = errors.New("invalid input")
)

// ParseError: 第 Line 行（1 起）不是合法 JSON 对象。
type ParseError struct {
	FileID FileID
	Line   int
	Text   string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v: %v (line: %s)", e.FileID, e.Line, ErrParse, e.Err, abbrev(e.Text, 120))
}

func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }

// MalformedIdentifierError: 第 Index 条记录（读入序，0 起）的 id 不合法。
type MalformedIdentifierError struct {
	Index  int
	ID     string
	Reason string
}

func (e *MalformedIdentifierError) Error() string {
	return fmt.Sprintf("%v: record %d id=%q: %s", ErrMalformedIdentifier, e.Index, e.ID, e.Reason)
}

func (e *MalformedIdentifierError) Unwrap() error { return ErrMalformedIdentifier }

func abbrev(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
