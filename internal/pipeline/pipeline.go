package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"bfclprep/internal/diag"
	"bfclprep/internal/normalize"
	"bfclprep/pkg/contract"
	"bfclprep/pkg/jsonv"
)

// - 三阶段：读入全部记录 → 一次性排序 → 逐条变换并流式写出。
// - 首错即止：解析失败或 id 非法时不调用 Writer，不产生任何输出。
// - 单次写出：整份结果经 io.Pipe 交给一次 Writer.Write；原子 Writer 失败时目标保持原状。
// - 核心单线程：读/排序/变换均在调用方 goroutine 中完成，仅编码与写出之间隔一条管道。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader     contract.Reader
	Splitter   contract.Splitter
	Decoder    contract.RecordDecoder
	Writer     contract.Writer
	Normalizer *normalize.Normalizer
}

// Settings 运行期配置。
type Settings struct {
	Inputs []string
	// Output: 输出工件标识（由 Writer 解释；fs Writer 的 "-" 为 stdout）。
	Output contract.ArtifactID
	// Style: 输出 JSON 分隔符风格。
	Style jsonv.Style
	// ProgressEvery: 每处理多少条记录发一次进度；<=0 取 100。
	ProgressEvery int
}

// Stats 运行统计。
type Stats struct {
	Files   int
	Read    int
	Written int
}

const defaultProgressEvery = 100

// Run 执行 Reader → Splitter → RecordDecoder →（排序）→ Normalizer → Writer。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Stats, error) {
	var st Stats
	if err := sanity(comp, set); err != nil {
		return st, fmt.Errorf("sanity: %w", err)
	}
	every := set.ProgressEvery
	if every <= 0 {
		every = defaultProgressEvery
	}
	term := diag.GetTerminal()

	// 阶段一：读入
	recs, err := readAll(ctx, comp, set, every, &st, logger)
	if err != nil {
		return st, err
	}

	// 阶段二：排序（失败不写出）
	stimer := logger.Start("sorter", "sort", zap.Int("records", len(recs)))
	if err := normalize.SortByIdentifier(recs); err != nil {
		stimer.Fail("sort failed", err)
		return st, fmt.Errorf("sort: %w", err)
	}
	stimer.Finish("sort", int64(len(recs)))

	// 阶段三：变换 + 写出
	wtimer := logger.Start("writer", "write", zap.String("artifact", string(set.Output)))
	term.PhaseStart("write", len(recs))
	t0 := time.Now()
	n, err := writeAll(ctx, comp, set, recs, every, logger)
	st.Written = n
	if err != nil {
		wtimer.Fail("write failed", err)
		return st, fmt.Errorf("writer write: %w", err)
	}
	term.PhaseFinish(n, time.Since(t0))
	wtimer.Finish("write", int64(n))
	return st, nil
}

func readAll(ctx context.Context, comp Components, set Settings, every int, st *Stats, logger *diag.Logger) ([]*jsonv.Object, error) {
	term := diag.GetTerminal()
	term.PhaseStart("read", 0)
	t0 := time.Now()
	rtimer := logger.Start("reader", "iterate", zap.Strings("inputs", set.Inputs))
	var recs []*jsonv.Object
	err := comp.Reader.Iterate(ctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		st.Files++
		lines, err := comp.Splitter.Split(ctx, fid, rc)
		if err != nil {
			logger.Error("splitter", "split failed", err, zap.String("file_id", string(fid)))
			return fmt.Errorf("splitter split %s: %w", fid, err)
		}
		logger.Debug("splitter", "split", zap.String("file_id", string(fid)), zap.Int("lines", len(lines)))
		for _, ln := range lines {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := comp.Decoder.Decode(ctx, ln)
			if err != nil {
				logger.Error("decoder", "decode failed", err, zap.String("file_id", string(fid)), zap.Int("line", ln.No))
				return err
			}
			recs = append(recs, rec)
			st.Read++
			if st.Read%every == 0 {
				logger.Info("reader", "progress", zap.Int("read", st.Read))
				term.Progress(st.Read, 0)
			}
		}
		return nil
	})
	if err != nil {
		rtimer.Fail("iterate failed", err)
		return nil, fmt.Errorf("reader iterate: %w", err)
	}
	rtimer.Finish("iterate", int64(st.Read))
	term.PhaseFinish(st.Read, time.Since(t0))
	return recs, nil
}

// writeAll: 编码侧在独立 goroutine 中写入管道，Writer 在当前 goroutine 消费。
// 已写出的记录即释放，峰值内存约为一份输入。
func writeAll(ctx context.Context, comp Components, set Settings, recs []*jsonv.Object, every int, logger *diag.Logger) (int, error) {
	term := diag.GetTerminal()
	pr, pw := io.Pipe()
	written := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		bw := bufio.NewWriterSize(pw, 64*1024)
		var buf []byte
		var err error
		for i, rec := range recs {
			if err = ctx.Err(); err != nil {
				break
			}
			out := comp.Normalizer.Apply(rec)
			buf = jsonv.AppendMarshal(buf[:0], out, set.Style)
			buf = append(buf, '\n')
			if _, err = bw.Write(buf); err != nil {
				break
			}
			recs[i] = nil
			written++
			if written%every == 0 {
				logger.Info("normalizer", "progress", zap.Int("written", written))
				term.Progress(written, 0)
			}
		}
		if err == nil {
			err = bw.Flush()
		}
		_ = pw.CloseWithError(err)
	}()
	werr := comp.Writer.Write(ctx, set.Output, pr)
	// Writer 提前返回时解除编码侧阻塞
	_ = pr.CloseWithError(errWriterClosed)
	<-done
	if werr != nil {
		return written, werr
	}
	return written, nil
}

var errWriterClosed = errors.New("pipeline: writer closed")

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Splitter == nil || c.Decoder == nil || c.Writer == nil || c.Normalizer == nil {
		return errors.New("pipeline: missing components")
	}
	if len(s.Inputs) == 0 {
		return errors.New("pipeline: empty inputs")
	}
	if s.Output == "" {
		return fmt.Errorf("pipeline: empty output: %w", contract.ErrPathInvalid)
	}
	return nil
}
