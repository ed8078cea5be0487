package generate

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"

	"bfclprep/pkg/jsonv"
)

// LookupResult: 既有输出中某前缀的续号信息。
type LookupResult struct {
	// MaxID: 最大已用编号；Found=false 时为 -1。
	MaxID int64
	Found bool
	// Warnings: 无法解析而跳过的行数（非 JSON、id 非字符串、后缀非整数）。
	Warnings int
	// Skipped: 每条告警的简述（行号 + 原因），供日志输出。
	Skipped []string
}

// ContinuationLookup 扫描 JSONL，返回 id 形如 "<prefix>_<n>" 的最大 n。
// 其它前缀的 id 忽略；坏行跳过并计入告警，不中断扫描。仅读错误会返回 error。
func ContinuationLookup(r io.Reader, prefix string) (LookupResult, error) {
	res := LookupResult{MaxID: -1}
	want := prefix + "_"
	br := bufio.NewReader(r)
	no := 0
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			no++
			res.check(no, strings.TrimSpace(line), want)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}
	}
	res.Found = res.MaxID >= 0
	return res, nil
}

func (res *LookupResult) check(no int, line, want string) {
	if line == "" {
		return
	}
	warn := func(reason string) {
		res.Warnings++
		res.Skipped = append(res.Skipped, "line "+strconv.Itoa(no)+": "+reason)
	}
	v, err := jsonv.Parse([]byte(line))
	if err != nil {
		warn("invalid json")
		return
	}
	obj, ok := v.(*jsonv.Object)
	if !ok {
		return
	}
	idv, ok := obj.Get("id")
	if !ok {
		return
	}
	id, ok := idv.(jsonv.String)
	if !ok {
		warn("id is not a string")
		return
	}
	rest, ok := strings.CutPrefix(string(id), want)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		warn("suffix " + strconv.Quote(rest) + " is not an integer")
		return
	}
	res.MaxID = max(res.MaxID, n)
}
