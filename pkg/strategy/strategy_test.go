package strategy

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"buildexpr/materializer-go/pkg/compiler"
	"buildexpr/materializer-go/pkg/graph"
	"buildexpr/materializer-go/pkg/interpreter"
	"buildexpr/materializer-go/pkg/invoke"
	"buildexpr/materializer-go/pkg/loader"
	"buildexpr/materializer-go/pkg/logging"
)

func defaults(t *testing.T, opts ...Option) (*Pipeline, []Strategy) {
	t.Helper()
	p := NewPipeline(nil, opts...)
	strategies, err := Defaults(p, interpreter.New(p.Host()))
	require.NoError(t, err)
	return p, strategies
}

func TestStrategiesAgree(t *testing.T) {
	_, strategies := defaults(t)
	names := make([]string, len(strategies))
	for idx, s := range strategies {
		names[idx] = s.Name()
	}
	assert.Equal(t, []string{NameExpressions, NameReflection, NameInterpreter, NameContract}, names)

	for _, x := range []float64{2.3, 0, -1.5, 1e308, math.Inf(-1), math.SmallestNonzeroFloat64} {
		results, err := RunAll(context.Background(), strategies, x)
		require.NoError(t, err)
		require.Len(t, results, 4)
		assert.NoError(t, Agree(results), "x = %v", x)
		for idx, r := range results {
			assert.Equal(t, names[idx], r.Strategy)
			assert.Equal(t, x, r.Input)
		}
	}

	results, err := RunAll(context.Background(), strategies, 2.3)
	require.NoError(t, err)
	assert.InDelta(t, 7.45, results[0].Value, 1e-12)
}

func TestAgreeComparesBits(t *testing.T) {
	assert.NoError(t, Agree(nil))
	assert.NoError(t, Agree([]Result{
		{Strategy: "a", Value: math.NaN()},
		{Strategy: "b", Value: math.NaN()},
		{Strategy: "c", Err: errors.New("skipped")},
	}))

	err := Agree([]Result{{Strategy: "a", Value: 0}, {Strategy: "b", Value: math.Copysign(0, -1)}})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "b = -0"), err.Error())
}

func TestMaterializeCache(t *testing.T) {
	plain := NewPipeline(nil)
	first, err := plain.Materialize(context.Background(), FormulaUnit())
	require.NoError(t, err)
	second, err := plain.Materialize(context.Background(), FormulaUnit())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Digest(), second.Digest())

	cached := NewPipeline(nil, WithCache())
	first, err = cached.Materialize(context.Background(), FormulaUnit())
	require.NoError(t, err)
	second, err = cached.Materialize(context.Background(), FormulaUnit())
	require.NoError(t, err)
	assert.Same(t, first, second)

	other, err := cached.Materialize(context.Background(), WorkerUnit())
	require.NoError(t, err)
	assert.NotSame(t, first, other)

	m := cached.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(LabelCacheHit)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(LabelCacheMiss)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Stages.WithLabelValues(StageCompile, LabelSuccess)))
}

func TestMaterializeCacheDeduplicates(t *testing.T) {
	p := NewPipeline(nil, WithCache())
	handles := make([]*loader.Handle, 8)
	var wg sync.WaitGroup
	for idx := range handles {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			h, err := p.Materialize(context.Background(), WorkerUnit())
			assert.NoError(t, err)
			handles[idx] = h
		}(idx)
	}
	wg.Wait()
	for _, h := range handles[1:] {
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics().Stages.WithLabelValues(StageCompile, LabelSuccess)))
}

func TestCacheKeyCoversUnit(t *testing.T) {
	base := compiler.SourceUnit{Name: "m", Text: "package m\n", References: []string{"math", "buildexpr/contracts"}}
	reordered := base
	reordered.References = []string{"buildexpr/contracts", "math"}
	assert.Equal(t, cacheKey(base), cacheKey(reordered))

	renamed := base
	renamed.Name = "n"
	assert.NotEqual(t, cacheKey(base), cacheKey(renamed))

	fewer := base
	fewer.References = []string{"math"}
	assert.NotEqual(t, cacheKey(base), cacheKey(fewer))
}

func TestMaterializeCanceled(t *testing.T) {
	p := NewPipeline(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Materialize(ctx, FormulaUnit())
	assert.ErrorIs(t, err, context.Canceled)

	_, strategies := defaults(t)
	results, err := RunAll(ctx, strategies, 1)
	require.Error(t, err)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled, r.Strategy)
	}
}

func TestStageMetrics(t *testing.T) {
	p := NewPipeline(nil)
	s := NewReflection(p, FormulaUnit(), "Evaluate")
	_, err := s.Calculate(context.Background(), 2.3)
	require.NoError(t, err)

	m := p.Metrics()
	for _, stage := range []string{StageCompile, StageLoad, StageInvoke} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Stages.WithLabelValues(stage, LabelSuccess)), stage)
	}
	assert.Equal(t, 3, testutil.CollectAndCount(m.StageDuration))

	bad := NewReflection(p, compiler.SourceUnit{Name: "bad", Text: "package bad\n\nfunc Evaluate(x float64) float64 { return y }\n"}, "Evaluate")
	_, err = bad.Calculate(context.Background(), 1)
	var compileErr *compiler.CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Stages.WithLabelValues(StageCompile, LabelCompileError)))

	missing := NewReflection(p, FormulaUnit(), "Evaluat")
	_, err = missing.Calculate(context.Background(), 1)
	var notFound *invoke.SymbolNotFoundError
	assert.True(t, errors.As(err, &notFound))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(m.Stages))
	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestContractRejectsNonConformingType(t *testing.T) {
	p := NewPipeline(nil)
	unit := compiler.SourceUnit{
		Name: "plain",
		Text: "package plain\n\ntype Doubler struct{}\n\nfunc (d *Doubler) Work(x int) int { return 2 * x }\n",
	}
	_, err := NewContract(p, unit, "Doubler").Calculate(context.Background(), 1)
	var invErr *invoke.InvokeError
	require.True(t, errors.As(err, &invErr))
	assert.Equal(t, invoke.ReasonConformance, invErr.Reason)
}

func TestRunAllCombinesErrors(t *testing.T) {
	p := NewPipeline(nil)
	metrics := NewMetrics()
	expressions, err := NewExpressions(graph.Formula())
	require.NoError(t, err)
	strategies := []Strategy{
		Instrument(expressions, metrics),
		Instrument(NewInterpreter(interpreter.New(nil), "x / y"), metrics),
		Instrument(NewReflection(p, FormulaUnit(), "Missing"), metrics),
	}

	results, err := RunAll(context.Background(), strategies, 2)
	require.Error(t, err)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 7.0, results[0].Value)
	assert.Contains(t, err.Error(), "interpreter: eval: 1:5: undefined: y")
	assert.Contains(t, err.Error(), "reflection: invoke: function Missing not found")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Calculations.WithLabelValues(NameExpressions, LabelSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Calculations.WithLabelValues(NameInterpreter, LabelEvalError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Calculations.WithLabelValues(NameReflection, LabelNotFound)))
}

func TestRunAllLogsFromContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := logging.NewContext(context.Background(), zap.New(core))
	_, strategies := defaults(t)
	_, err := RunAll(ctx, strategies, 2.3)
	require.NoError(t, err)
	assert.Equal(t, 4, logs.FilterMessage("Strategy finished").Len())
}

func TestPipelineLogs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p := NewPipeline(nil, WithLogger(zap.New(core)), WithMaxCallDepth(32))
	_, err := p.Materialize(context.Background(), WorkerUnit())
	require.NoError(t, err)
	entries := logs.FilterMessage("Materialized module").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "worker", entries[0].ContextMap()["module"])
	assert.Equal(t, 1, logs.FilterMessage("Compiled module").Len())
}
