package diag

import (
	"context"
	"errors"
	"io/fs"
	"net"

	"bfclprep/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志汇总与重试判定，与退出码解耦。
type Code string

const (
	CodeUnknown    Code = "unknown"
	CodeNetwork    Code = "network"
	CodeProtocol   Code = "protocol"
	CodeInvariant  Code = "invariant"
	CodeBudget     Code = "budget"
	CodeCancel     Code = "cancel"
	CodeIO         Code = "io"
	CodeParse      Code = "parse"
	CodeIdentifier Code = "identifier"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrParse) {
		return CodeParse
	}
	if errors.Is(err, contract.ErrMalformedIdentifier) {
		return CodeIdentifier
	}
	// 预算/配额
	if errors.Is(err, contract.ErrBudgetExceeded) || errors.Is(err, contract.ErrRateLimited) {
		return CodeBudget
	}
	// 协议/解码
	if errors.Is(err, contract.ErrResponseInvalid) {
		return CodeProtocol
	}
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	// 网络（连接/超时/上游 5xx）；先于 I/O，*net.OpError 同时满足两者
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	var perr *fs.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	return CodeUnknown
}

// Retryable: 限流/预算、网络与响应无效可重试；其余（含取消、输入非法）不重试。
func Retryable(err error) bool {
	switch Classify(err) {
	case CodeBudget, CodeNetwork, CodeProtocol:
		return true
	}
	return false
}
