package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认 stderr）。
// - TTY: 单行 \r 覆盖；非 TTY: 关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	task     string
	runStart time.Time

	// 当前阶段
	phase     string
	total     int
	done      int
	errCount  int
	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

// 进程级终端（可选，由 cmd 设置后供 pipeline/generate 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器；enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			if fi, err := f.Stat(); err == nil {
				t.isTTY = fi.Mode()&os.ModeCharDevice != 0
			}
		}
	}
	return t
}

// RunStart: 记录任务名与附加说明（例如并发、LLM）。
func (t *Terminal) RunStart(task, detail string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.task = safe(task)
	t.runStart = time.Now()
	line := "[run] " + t.task
	if detail != "" {
		line += " | " + safe(detail)
	}
	t.println(line)
}

// PhaseStart: 进入一个阶段（read/sort/write/generate），total 未知时为 0。
func (t *Terminal) PhaseStart(phase string, total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.phase = safe(phase)
	t.total = total
	t.done = 0
	t.errCount = 0
	if !t.isTTY {
		t.println(fmt.Sprintf("[%s] 计划 %d", t.phase, total))
	}
}

// Progress: 周期性进度（TTY 下 ≥100ms 节流）。
func (t *Terminal) Progress(done, errs int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.done = done
	t.errCount = errs
	if !t.isTTY {
		return
	}
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	total := "?"
	if t.total > 0 {
		total = fmt.Sprint(t.total)
	}
	t.printInline(fmt.Sprintf("[%s] 进度 %d/%s | 错误 %d | 用时 %s", t.phase, t.done, total, t.errCount, formatDur(time.Since(t.runStart))))
}

// PhaseFinish: 结束当前阶段（立即换行）。
func (t *Terminal) PhaseFinish(done int, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.done = done
	t.println(fmt.Sprintf("[%s] 完成 %d | 错误 %d | 用时 %s", t.phase, done, t.errCount, formatDur(dur)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, summary string, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	line := fmt.Sprintf("[%s] %s", tag, t.task)
	if summary != "" {
		line += " | " + safe(summary)
	}
	t.println(line + " | 总用时 " + formatDur(dur))
}

func (t *Terminal) println(s string) {
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	// 新行比旧行短时以空格覆盖残留
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	b.WriteString(strings.Repeat(" ", pad))
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}

func formatDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", max(d.Milliseconds(), 0))
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
