package generate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bfclprep/internal/diag"
	"bfclprep/internal/prompt"
	"bfclprep/internal/rate"
	"bfclprep/pkg/contract"
	"bfclprep/pkg/jsonv"
)

// - 组合序：参数配方优先、风格配方次之；编号在全部组合完成后按组合序分配，输出与并发度无关。
// - 并发仅在组合层（errgroup.SetLimit）；单个组合内 Build → Gate → Invoke → Decode 同步执行。
// - 续号：输出已存在且含本前缀时从 max+1 追加，否则从 0 覆盖写。
// - 写出：既有字节 + 新记录一次性交给 Writer（原子 Writer 下无半写状态）。

// Components 聚合生成所需组件。
type Components struct {
	PromptBuilder contract.PromptBuilder
	LLM           contract.LLMClient
	Decoder       contract.QueryDecoder
	Writer        contract.Writer
	// Opener 可选；为空时不做续号，总是从 0 覆盖写。
	Opener contract.ArtifactOpener
}

// Settings 运行期配置。
type Settings struct {
	ParamRecipes []string
	StyleRecipes []string
	Schema       *jsonv.Object

	IDPrefix string
	Output   contract.ArtifactID
	Style    jsonv.Style

	QueriesPerCombination int
	Concurrency           int
	// MaxRetries: 单个组合的最大重试次数（>=0）。
	MaxRetries int
	// SkipFailed: 重试耗尽的组合记录后跳过；false 时整体失败。
	SkipFailed bool

	// MaxTokens: 单次请求输出上限，计入 Gate 的 token 申请。
	MaxTokens     int
	BytesPerToken int
	Gate          rate.Gate
	GateKey       rate.LimitKey
}

// Stats 运行统计。
type Stats struct {
	Pairs    int
	Failed   int
	Records  int
	StartID  int64
	Appended bool
}

const retryPause = 200 * time.Millisecond

// Requests 展开笛卡尔积（参数优先）。
func Requests(params, styles []string, count int) []contract.QueryRequest {
	out := make([]contract.QueryRequest, 0, len(params)*len(styles))
	for _, p := range params {
		for _, s := range styles {
			out = append(out, contract.QueryRequest{Index: len(out), ParamRecipe: p, StyleRecipe: s, Count: count})
		}
	}
	return out
}

// Record 构造一条训练记录：{id, question: [[{role, content}]], function: [schema]}。
func Record(id, query string, schema *jsonv.Object) *jsonv.Object {
	msg := jsonv.NewObject(
		jsonv.Member{Key: "role", Value: jsonv.String("user")},
		jsonv.Member{Key: "content", Value: jsonv.String(query)},
	)
	return jsonv.NewObject(
		jsonv.Member{Key: "id", Value: jsonv.String(id)},
		jsonv.Member{Key: "question", Value: jsonv.Array{jsonv.Array{msg}}},
		jsonv.Member{Key: "function", Value: jsonv.Array{schema}},
	)
}

// Run 执行一次生成。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Stats, error) {
	var st Stats
	if err := sanity(comp, set); err != nil {
		return st, fmt.Errorf("sanity: %w", err)
	}

	existing, err := continuation(ctx, comp, set, &st, logger)
	if err != nil {
		return st, err
	}

	reqs := Requests(set.ParamRecipes, set.StyleRecipes, set.QueriesPerCombination)
	st.Pairs = len(reqs)
	results, failed, err := fanOut(ctx, comp, set, reqs, logger)
	st.Failed = failed
	if err != nil {
		return st, err
	}

	var buf bytes.Buffer
	next := st.StartID
	for _, qs := range results {
		for _, q := range qs {
			rec := Record(set.IDPrefix+"_"+strconv.FormatInt(next, 10), q, set.Schema)
			buf.Write(jsonv.AppendMarshal(nil, rec, set.Style))
			buf.WriteByte('\n')
			next++
		}
	}
	st.Records = int(next - st.StartID)

	wtimer := logger.Start("writer", "write", zap.String("artifact", string(set.Output)), zap.Bool("append", st.Appended))
	var src io.Reader = &buf
	if st.Appended {
		src = io.MultiReader(bytes.NewReader(existing), &buf)
	}
	if err := comp.Writer.Write(ctx, set.Output, src); err != nil {
		wtimer.Fail("write failed", err)
		return st, fmt.Errorf("writer write: %w", err)
	}
	wtimer.Finish("write", int64(st.Records))
	return st, nil
}

// continuation: 读取既有输出并确定起始编号；返回需保留的既有字节（末尾补齐换行）。
func continuation(ctx context.Context, comp Components, set Settings, st *Stats, logger *diag.Logger) ([]byte, error) {
	if comp.Opener == nil {
		return nil, nil
	}
	rc, err := comp.Opener.Open(ctx, set.Output)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("lookup", "no existing output", zap.String("artifact", string(set.Output)))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open existing output: %w", err)
	}
	defer rc.Close()
	existing, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read existing output: %w", err)
	}
	res, err := ContinuationLookup(bytes.NewReader(existing), set.IDPrefix)
	if err != nil {
		return nil, err
	}
	for _, s := range res.Skipped {
		logger.Warn("lookup", "skip line", zap.String("reason", s))
	}
	if !res.Found {
		// 无本前缀记录：覆盖写，从 0 开始
		logger.Info("lookup", "prefix not found, overwrite", zap.String("prefix", set.IDPrefix), zap.Int("warnings", res.Warnings))
		return nil, nil
	}
	st.StartID = res.MaxID + 1
	st.Appended = true
	logger.Info("lookup", "continue numbering", zap.String("prefix", set.IDPrefix), zap.Int64("max_id", res.MaxID), zap.Int("warnings", res.Warnings))
	if n := len(existing); n > 0 && existing[n-1] != '\n' {
		existing = append(existing, '\n')
	}
	return existing, nil
}

func fanOut(ctx context.Context, comp Components, set Settings, reqs []contract.QueryRequest, logger *diag.Logger) ([][]string, int, error) {
	term := diag.GetTerminal()
	term.PhaseStart("generate", len(reqs))
	t0 := time.Now()
	gtimer := logger.Start("generate", "fan-out", zap.Int("pairs", len(reqs)), zap.Int("concurrency", set.Concurrency))

	results := make([][]string, len(reqs))
	var done, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(set.Concurrency, 1))
	for i := range reqs {
		req := reqs[i]
		g.Go(func() error {
			qs, err := runPair(gctx, comp, set, req, logger)
			if err != nil {
				if set.SkipFailed && gctx.Err() == nil {
					failed.Add(1)
					logger.Error("generate", "pair skipped", err, zap.Int("pair", req.Index))
					term.Progress(int(done.Add(1)), int(failed.Load()))
					return nil
				}
				return fmt.Errorf("pair %d: %w", req.Index, err)
			}
			results[req.Index] = qs
			logger.Debug("generate", "pair done", zap.Int("pair", req.Index), zap.Int("queries", len(qs)))
			term.Progress(int(done.Add(1)), int(failed.Load()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		gtimer.Fail("fan-out failed", err)
		return nil, int(failed.Load()), err
	}
	gtimer.Finish("fan-out", done.Load())
	term.PhaseFinish(int(done.Load()), time.Since(t0))
	return results, int(failed.Load()), nil
}

// runPair: 单个组合；仅限流/网络/响应无效类错误在次数内重试，间隔固定。
func runPair(ctx context.Context, comp Components, set Settings, req contract.QueryRequest, logger *diag.Logger) ([]string, error) {
	p, err := comp.PromptBuilder.Build(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("prompt build: %w", err)
	}
	tokens := prompt.RequestTokens(p, prompt.MakeEstimator(set.BytesPerToken), set.MaxTokens)
	attempts := set.MaxRetries + 1
	for attempt := 0; ; attempt++ {
		if set.Gate != nil {
			if err := set.Gate.Wait(ctx, rate.Ask{Key: set.GateKey, Requests: 1, Tokens: tokens}); err != nil {
				return nil, fmt.Errorf("rate gate: %w", err)
			}
		}
		var qs []string
		raw, err := comp.LLM.Invoke(ctx, req, p)
		if err == nil {
			qs, err = comp.Decoder.Decode(ctx, req, raw)
			if err == nil {
				return qs, nil
			}
		}
		if attempt+1 >= attempts || !diag.Retryable(err) {
			return nil, err
		}
		logger.Warn("generate", "retry", zap.Int("pair", req.Index), zap.Int("attempt", attempt+1), zap.String("code", string(diag.Classify(err))), zap.Error(err))
		if err := sleepWithCtx(ctx, retryPause); err != nil {
			return nil, err
		}
	}
}

// sleepWithCtx: 可取消的 sleep。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func sanity(c Components, s Settings) error {
	if c.PromptBuilder == nil || c.LLM == nil || c.Decoder == nil || c.Writer == nil {
		return errors.New("generate: missing components")
	}
	if len(s.ParamRecipes) == 0 || len(s.StyleRecipes) == 0 {
		return fmt.Errorf("generate: empty recipes: %w", contract.ErrInvalidInput)
	}
	if s.Schema == nil {
		return fmt.Errorf("generate: function schema missing: %w", contract.ErrInvalidInput)
	}
	if s.IDPrefix == "" {
		return fmt.Errorf("generate: id prefix empty: %w", contract.ErrInvalidInput)
	}
	if s.Output == "" {
		return fmt.Errorf("generate: empty output: %w", contract.ErrPathInvalid)
	}
	if s.QueriesPerCombination < 1 {
		return fmt.Errorf("generate: queries per combination must be >= 1: %w", contract.ErrInvalidInput)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("generate: max retries must be >= 0: %w", contract.ErrInvalidInput)
	}
	return nil
}
