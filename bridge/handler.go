package bridge

import (
	"context"

	"github.com/Paranoid-AF/kernlet"
	"github.com/Paranoid-AF/kernlet/complete"
	"github.com/Paranoid-AF/kernlet/evaluate"
	"github.com/Paranoid-AF/kernlet/loop"
)

// Handler serves decoded requests. Implementations decide where the work
// runs; the server only decodes, dispatches and writes replies.
type Handler interface {
	Execute(ctx context.Context, code string) (*kernlet.ExecuteReply, error)
	Complete(ctx context.Context, code string, cursor int) (kernlet.CompleteReply, error)
	Introspect(ctx context.Context, code string, line, column int) (kernlet.IntrospectReply, error)
}

// Dispatcher runs every request as a task on the host loop, so evaluation
// and scope reads never overlap.
type Dispatcher struct {
	loop   *loop.Loop
	eval   *evaluate.Evaluator
	engine *complete.Engine
}

// NewDispatcher returns a Handler backed by the host loop.
func NewDispatcher(l *loop.Loop, eval *evaluate.Evaluator, engine *complete.Engine) *Dispatcher {
	return &Dispatcher{loop: l, eval: eval, engine: engine}
}

func (d *Dispatcher) Execute(ctx context.Context, code string) (*kernlet.ExecuteReply, error) {
	return loop.Call(ctx, d.loop, func(ctx context.Context) *kernlet.ExecuteReply {
		return d.eval.Evaluate(ctx, code)
	})
}

func (d *Dispatcher) Complete(ctx context.Context, code string, cursor int) (kernlet.CompleteReply, error) {
	return loop.Call(ctx, d.loop, func(ctx context.Context) kernlet.CompleteReply {
		return d.engine.Complete(ctx, code, cursor)
	})
}

func (d *Dispatcher) Introspect(ctx context.Context, code string, line, column int) (kernlet.IntrospectReply, error) {
	return loop.Call(ctx, d.loop, func(ctx context.Context) kernlet.IntrospectReply {
		return d.engine.Introspect(ctx, code, line, column)
	})
}
