package diag

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bfclprep/pkg/contract"
)

// 日志目录与单文件上限（超过即轮转）。
const (
	DefaultLogDir   = "logs"
	DefaultMaxBytes = 10 * 1024 * 1024
)

// Logger 为结构化日志器：单行 JSON，公共字段 corr_id/comp/stage。
// nil *Logger 的所有方法均为 no-op，调用方无需判空。
type Logger struct {
	z    *zap.Logger
	sink *RotatingFile
}

// NewLogger 通过配置的 level 初始化，并将日志写入 logs/ 目录，10MiB 轮转。
func NewLogger(corrID, level string) *Logger {
	sink := NewRotatingFile(DefaultLogDir, DefaultMaxBytes)
	l := NewLoggerTo(corrID, level, sink)
	l.sink = sink
	return l
}

// NewLoggerTo 将日志写入任意 WriteSyncer（测试或 stderr）。
func NewLoggerTo(corrID, level string, ws zapcore.WriteSyncer) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), ws, ParseLevel(level))
	z := zap.New(core).With(zap.String("corr_id", corrID))
	return &Logger{z: z}
}

// Nop 返回丢弃一切的日志器。
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     utcRFC3339,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
}

func utcRFC3339(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339))
}

// ParseLevel: debug|info|warn|error，其余取 info。
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ValidLevel 判定配置中的级别字符串是否合法（空串视为 info）。
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "debug", "info", "warn", "error":
		return true
	}
	return false
}

func (l *Logger) ok() bool { return l != nil && l.z != nil }

func (l *Logger) event(lv zapcore.Level, comp, stage, msg string, fields []zap.Field) {
	if !l.ok() {
		return
	}
	ce := l.z.Check(lv, msg)
	if ce == nil {
		return
	}
	fs := make([]zap.Field, 0, len(fields)+2)
	fs = append(fs, zap.String("comp", comp), zap.String("stage", stage))
	ce.Write(append(fs, fields...)...)
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string, fields ...zap.Field) *Timer {
	l.event(zapcore.InfoLevel, comp, "start", msg, fields)
	return &Timer{l: l, comp: comp, fields: fields, t0: time.Now()}
}

// Debug 记录调试事件（仅 level=debug 时输出）。
func (l *Logger) Debug(comp, msg string, fields ...zap.Field) {
	l.event(zapcore.DebugLevel, comp, "progress", msg, fields)
}

// Info 记录进度类事件。
func (l *Logger) Info(comp, msg string, fields ...zap.Field) {
	l.event(zapcore.InfoLevel, comp, "progress", msg, fields)
}

// Warn 记录可恢复的问题（例如跳过的行、放弃的组合）。
func (l *Logger) Warn(comp, msg string, fields ...zap.Field) {
	l.event(zapcore.WarnLevel, comp, "warn", msg, fields)
}

// Error 记录 error 事件；code 由 Classify 给出，上游错误附带 status/upstream 字段。
func (l *Logger) Error(comp, msg string, err error, fields ...zap.Field) {
	if !l.ok() {
		return
	}
	fs := append([]zap.Field{zap.String("code", string(Classify(err))), zap.Error(err)}, fields...)
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		fs = append(fs, zap.Int("status", ue.UpstreamStatus()), zap.String("upstream", abbrev(ue.UpstreamMessage(), 256)))
	}
	l.event(zapcore.ErrorLevel, comp, "error", msg, fs)
}

// Sync 刷新缓冲；对文件 sink 同时关闭句柄。
func (l *Logger) Sync() error {
	if !l.ok() {
		return nil
	}
	err := l.z.Sync()
	if l.sink != nil {
		if cerr := l.sink.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fields []zap.Field
	t0     time.Time
}

// Finish 记录 finish；count 为本阶段处理的条目数。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil {
		return
	}
	fs := append([]zap.Field{zap.Int64("dur_ms", time.Since(t.t0).Milliseconds()), zap.Int64("count", count)}, t.fields...)
	t.l.event(zapcore.InfoLevel, t.comp, "finish", msg, fs)
}

// Fail 记录带耗时的 error 事件。
func (t *Timer) Fail(msg string, err error) {
	if t == nil {
		return
	}
	fs := append([]zap.Field{zap.Int64("dur_ms", time.Since(t.t0).Milliseconds())}, t.fields...)
	t.l.Error(t.comp, msg, err, fs...)
}

// Since 返回自 Start 起的耗时。
func (t *Timer) Since() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.t0)
}

func abbrev(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
