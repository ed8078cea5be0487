package generate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bfclprep/internal/rate"
	"bfclprep/pkg/contract"
	"bfclprep/pkg/jsonv"
	dql "bfclprep/plugins/decoder/querylist"
	"bfclprep/plugins/llmclient/flaky"
	"bfclprep/plugins/llmclient/mock"
	pq "bfclprep/plugins/prompt/queries"
)

// memStore 同时实现 Writer 与 ArtifactOpener。
type memStore struct {
	mu     sync.Mutex
	files  map[contract.ArtifactID]string
	writes int
}

func newStore() *memStore { return &memStore{files: map[contract.ArtifactID]string{}} }

func (s *memStore) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = string(b)
	s.writes++
	return nil
}

func (s *memStore) Open(ctx context.Context, id contract.ArtifactID) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", id, fs.ErrNotExist)
	}
	return io.NopCloser(strings.NewReader(v)), nil
}

// scripted 按组合序号返回预设错误，其余委托 mock。
type scripted struct {
	inner contract.LLMClient
	fail  func(req contract.QueryRequest, call int) error
	calls atomic.Int32
}

func (s *scripted) Invoke(ctx context.Context, req contract.QueryRequest, p contract.Prompt) (contract.Raw, error) {
	n := int(s.calls.Add(1))
	if err := s.fail(req, n); err != nil {
		return contract.Raw{}, err
	}
	return s.inner.Invoke(ctx, req, p)
}

func testSchema() *jsonv.Object {
	return jsonv.NewObject(jsonv.Member{Key: "name", Value: jsonv.String("mindat_geomaterial")})
}

func components(t *testing.T, llm contract.LLMClient, store *memStore) Components {
	t.Helper()
	pb, err := pq.New(nil)
	require.NoError(t, err)
	return Components{PromptBuilder: pb, LLM: llm, Decoder: dql.New(nil), Writer: store, Opener: store}
}

func mockLLM(t *testing.T) contract.LLMClient {
	t.Helper()
	c, err := mock.New([]byte(`{"prefix":"Q"}`))
	require.NoError(t, err)
	return c
}

func baseSettings() Settings {
	return Settings{
		ParamRecipes:          []string{"p0", "p1"},
		StyleRecipes:          []string{"s0", "s1", "s2"},
		Schema:                testSchema(),
		IDPrefix:              "Mindat_v1",
		Output:                "out.jsonl",
		QueriesPerCombination: 2,
		Concurrency:           4,
		SkipFailed:            true,
	}
}

func lines(s string) []string { return strings.Split(strings.TrimSuffix(s, "\n"), "\n") }

func TestRequestsOrder(t *testing.T) {
	reqs := Requests([]string{"a", "b"}, []string{"x", "y"}, 5)
	require.Len(t, reqs, 4)
	assert.Equal(t, contract.QueryRequest{Index: 1, ParamRecipe: "a", StyleRecipe: "y", Count: 5}, reqs[1])
	assert.Equal(t, contract.QueryRequest{Index: 2, ParamRecipe: "b", StyleRecipe: "x", Count: 5}, reqs[2])
}

func TestRecordShape(t *testing.T) {
	rec := Record("Mindat_v1_0", "含铁的矿物？", testSchema())
	assert.Equal(t,
		`{"id": "Mindat_v1_0", "question": [[{"role": "user", "content": "含铁的矿物？"}]], "function": [{"name": "mindat_geomaterial"}]}`,
		string(jsonv.Marshal(rec, jsonv.StylePython)))
}

// 新文件：从 0 编号，按组合序输出，与并发度无关。
func TestRunFreshDeterministic(t *testing.T) {
	store := newStore()
	st, err := Run(context.Background(), components(t, mockLLM(t), store), baseSettings(), nil)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pairs: 6, Records: 12}, st)
	ls := lines(store.files["out.jsonl"])
	require.Len(t, ls, 12)
	for i, ln := range ls {
		obj, err := jsonv.ParseObject([]byte(ln))
		require.NoError(t, err)
		id, _ := obj.Get("id")
		assert.Equal(t, jsonv.String(fmt.Sprintf("Mindat_v1_%d", i)), id)
	}
	assert.Contains(t, ls[0], `"content": "Q 0.0: p0 | s0"`)
	assert.Contains(t, ls[11], `"content": "Q 5.1: p1 | s2"`)
}

// 既有文件含本前缀：从 max+1 追加，既有内容原样保留。
func TestRunAppendContinues(t *testing.T) {
	store := newStore()
	prior := `{"id": "Mindat_v1_7", "question": "old"}` + "\n" + `{"id": "Other_9"}`
	store.files["out.jsonl"] = prior
	set := baseSettings()
	set.ParamRecipes = []string{"p0"}
	set.StyleRecipes = []string{"s0"}
	st, err := Run(context.Background(), components(t, mockLLM(t), store), set, nil)
	require.NoError(t, err)
	assert.True(t, st.Appended)
	assert.EqualValues(t, 8, st.StartID)
	ls := lines(store.files["out.jsonl"])
	require.Len(t, ls, 4)
	assert.Equal(t, `{"id": "Mindat_v1_7", "question": "old"}`, ls[0])
	assert.Equal(t, `{"id": "Other_9"}`, ls[1])
	assert.True(t, strings.HasPrefix(ls[2], `{"id": "Mindat_v1_8", `))
	assert.True(t, strings.HasPrefix(ls[3], `{"id": "Mindat_v1_9", `))
}

// 既有文件无本前缀：覆盖写，从 0 开始。
func TestRunOverwriteWhenPrefixMissing(t *testing.T) {
	store := newStore()
	store.files["out.jsonl"] = `{"id": "Other_3"}` + "\n"
	set := baseSettings()
	set.ParamRecipes = []string{"p0"}
	set.StyleRecipes = []string{"s0"}
	st, err := Run(context.Background(), components(t, mockLLM(t), store), set, nil)
	require.NoError(t, err)
	assert.False(t, st.Appended)
	ls := lines(store.files["out.jsonl"])
	require.Len(t, ls, 2)
	assert.True(t, strings.HasPrefix(ls[0], `{"id": "Mindat_v1_0", `))
}

// 限流与无效响应在次数内重试后成功。
func TestRunRetriesFlaky(t *testing.T) {
	store := newStore()
	c, err := flaky.New(nil)
	require.NoError(t, err)
	set := baseSettings()
	set.ParamRecipes = []string{"p0"}
	set.StyleRecipes = []string{"s0"}
	set.MaxRetries = 2
	set.SkipFailed = false
	st, err := Run(context.Background(), components(t, c, store), set, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Records)
	assert.EqualValues(t, 3, c.Calls())
}

// 重试耗尽：SkipFailed 时跳过该组合，编号连续。
func TestRunSkipFailed(t *testing.T) {
	store := newStore()
	llm := &scripted{inner: mockLLM(t), fail: func(req contract.QueryRequest, _ int) error {
		if req.Index == 1 {
			return contract.ErrRateLimited
		}
		return nil
	}}
	set := baseSettings()
	set.MaxRetries = 1
	st, err := Run(context.Background(), components(t, llm, store), set, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 10, st.Records)
	ls := lines(store.files["out.jsonl"])
	require.Len(t, ls, 10)
	assert.Contains(t, ls[2], `"id": "Mindat_v1_2"`)
	assert.Contains(t, ls[2], "Q 2.0: p0 | s2")
	// 组合 1 调用 2 次，其余各 1 次
	assert.EqualValues(t, 7, llm.calls.Load())
}

// 不可重试错误只调用一次；SkipFailed=false 时整体失败且不写出。
func TestRunAbortOnFailure(t *testing.T) {
	store := newStore()
	llm := &scripted{inner: mockLLM(t), fail: func(req contract.QueryRequest, _ int) error {
		if req.Index == 0 {
			return contract.ErrInvalidInput
		}
		return nil
	}}
	set := baseSettings()
	set.Concurrency = 1
	set.MaxRetries = 3
	set.SkipFailed = false
	_, err := Run(context.Background(), components(t, llm, store), set, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))
	assert.Zero(t, store.writes)
}

// 超过单请求上限的 Gate 申请快速失败，不调用 LLM。
func TestRunGateBudget(t *testing.T) {
	store := newStore()
	llm := &scripted{inner: mockLLM(t), fail: func(contract.QueryRequest, int) error { return nil }}
	set := baseSettings()
	set.SkipFailed = false
	set.MaxTokens = 3072
	set.GateKey = "k"
	set.Gate = rate.NewGate(map[rate.LimitKey]rate.Limits{"k": {MaxTokensPerReq: 1000}}, nil)
	_, err := Run(context.Background(), components(t, llm, store), set, nil)
	require.ErrorIs(t, err, contract.ErrBudgetExceeded)
	assert.Zero(t, llm.calls.Load())
}

func TestRunSanity(t *testing.T) {
	store := newStore()
	comp := components(t, mockLLM(t), store)
	mutate := []func(*Settings){
		func(s *Settings) { s.ParamRecipes = nil },
		func(s *Settings) { s.Schema = nil },
		func(s *Settings) { s.IDPrefix = "" },
		func(s *Settings) { s.Output = "" },
		func(s *Settings) { s.QueriesPerCombination = 0 },
		func(s *Settings) { s.MaxRetries = -1 },
	}
	for i, m := range mutate {
		set := baseSettings()
		m(&set)
		_, err := Run(context.Background(), comp, set, nil)
		assert.Error(t, err, "case %d", i)
	}
	_, err := Run(context.Background(), Components{}, baseSettings(), nil)
	assert.Error(t, err)
}

// 无 Opener 时不续号。
func TestRunWithoutOpener(t *testing.T) {
	store := newStore()
	store.files["out.jsonl"] = `{"id": "Mindat_v1_7"}` + "\n"
	comp := components(t, mockLLM(t), store)
	comp.Opener = nil
	set := baseSettings()
	set.ParamRecipes = []string{"p0"}
	set.StyleRecipes = []string{"s0"}
	st, err := Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, st.StartID)
	assert.False(t, bytes.Contains([]byte(store.files["out.jsonl"]), []byte("Mindat_v1_7")))
}
