package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"buildexpr/materializer-go/pkg/logging"
	"buildexpr/materializer-go/pkg/runtime"
)

// Result is one strategy's outcome for one input.
type Result struct {
	Strategy string
	Input    float64
	Value    float64
	Err      error
	Elapsed  time.Duration
}

// RunAll runs every strategy on x concurrently. Results keep the order of
// strategies; the returned error combines every failure.
func RunAll(ctx context.Context, strategies []Strategy, x float64) ([]Result, error) {
	log := logging.FromContext(ctx)
	results := make([]Result, len(strategies))

	var g errgroup.Group
	for idx, s := range strategies {
		g.Go(func() error {
			start := time.Now()
			v, err := s.Calculate(ctx, x)
			results[idx] = Result{Strategy: s.Name(), Input: x, Value: v, Err: err, Elapsed: time.Since(start)}
			if err != nil {
				log.Debug("Strategy failed", zap.String("strategy", s.Name()), zap.Float64("x", x), zap.Error(err))
				return nil
			}
			log.Debug("Strategy finished",
				zap.String("strategy", s.Name()),
				zap.Float64("x", x),
				zap.Float64("result", v),
				zap.Duration("elapsed", results[idx].Elapsed),
			)
			return nil
		})
	}
	_ = g.Wait()

	var errs error
	for _, r := range results {
		if r.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.Strategy, r.Err))
		}
	}
	return results, errs
}

// Agree reports an error unless every successful result has the same bits.
func Agree(results []Result) error {
	var first *Result
	for idx := range results {
		r := &results[idx]
		if r.Err != nil {
			continue
		}
		if first == nil {
			first = r
			continue
		}
		if !runtime.SameBits(first.Value, r.Value) {
			return fmt.Errorf("%s = %v (%#x) disagrees with %s = %v (%#x)",
				r.Strategy, r.Value, math.Float64bits(r.Value),
				first.Strategy, first.Value, math.Float64bits(first.Value))
		}
	}
	return nil
}

// Instrument counts the outcomes of s in m.
func Instrument(s Strategy, m *Metrics) Strategy {
	return &instrumented{Strategy: s, metrics: m}
}

type instrumented struct {
	Strategy
	metrics *Metrics
}

func (s *instrumented) Calculate(ctx context.Context, x float64) (float64, error) {
	v, err := s.Strategy.Calculate(ctx, x)
	s.metrics.Calculations.WithLabelValues(s.Name(), resultLabel(err)).Inc()
	return v, err
}
