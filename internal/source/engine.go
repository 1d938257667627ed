package source

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adamdsmith/fwspp/internal/resilience"
)

// Engine fans a query out to several sources concurrently and collects one
// Outcome per source. A failing source never stops the others.
type Engine struct {
	breakers *resilience.RepositoryBreakers
	timeout  time.Duration
}

// NewEngine creates an engine. Each source call is bounded by timeout;
// breakers may be nil to disable circuit breaking.
func NewEngine(breakers *resilience.RepositoryBreakers, timeout time.Duration) *Engine {
	return &Engine{breakers: breakers, timeout: timeout}
}

// Gather runs every source against q and returns their outcomes in the
// order of sources.
func (e *Engine) Gather(ctx context.Context, q Query, sources []Source) []Outcome {
	log := zap.L().With(zap.String("component", "source.engine"), zap.String("property", q.Property.Name))
	outcomes := make([]Outcome, len(sources))

	// Plain Group: a sibling's error must not cancel the rest.
	var g errgroup.Group
	for i, s := range sources {
		g.Go(func() error {
			outcomes[i] = e.run(ctx, q, s)
			o := outcomes[i]
			switch o.Status {
			case StatusFailed:
				log.Warn("source failed",
					zap.String("source", o.Source),
					zap.String("class", resilience.Classify(o.Err)),
					zap.Duration("elapsed", o.Elapsed),
					zap.Error(o.Err),
				)
			default:
				fields := []zap.Field{
					zap.String("source", o.Source),
					zap.String("status", string(o.Status)),
					zap.Int("records", len(o.Records())),
					zap.Duration("elapsed", o.Elapsed),
				}
				if o.Response != nil {
					fields = append(fields, zap.Int("requests", o.Response.Meta.Requests))
				}
				log.Debug("source complete", fields...)
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (e *Engine) run(ctx context.Context, q Query, s Source) Outcome {
	start := time.Now()
	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	call := s.Retrieve
	var (
		resp *Response
		err  error
	)
	if e.breakers != nil {
		resp, err = resilience.ExecuteVal(callCtx, e.breakers.Get(s.Name()), func(ctx context.Context) (*Response, error) {
			return call(ctx, q)
		})
	} else {
		resp, err = call(callCtx, q)
	}

	o := Outcome{Source: s.Name(), Response: resp, Elapsed: time.Since(start)}
	switch {
	case err == nil && resp != nil && len(resp.Records) > 0:
		o.Status = StatusOK
	case err == nil, resilience.IsNoRecords(err):
		o.Status = StatusEmpty
		if o.Response == nil {
			o.Response = &Response{}
		}
	default:
		o.Status = StatusFailed
		o.Response = nil
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = eris.Wrapf(err, "%s timed out after %s", s.Name(), e.timeout)
		}
		o.Err = err
	}
	return o
}

// Failed returns the names of sources whose outcome is failed.
func Failed(outcomes []Outcome) []string {
	var names []string
	for _, o := range outcomes {
		if o.Status == StatusFailed {
			names = append(names, o.Source)
		}
	}
	return names
}
