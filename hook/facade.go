package hook

import (
	"context"
	"log/slog"
	"time"
)

// DefaultFacadeTimeout bounds how long a transport waits for the engine
// before the event passes through unmodified.
const DefaultFacadeTimeout = 10 * time.Second

// Processor is the engine-side surface the facade bridges to.
type Processor interface {
	ProcessEvent(ctx context.Context, event *Event) (*Response, error)
}

// Facade is the synchronous bridge between hook transports and the engine.
// Transports fire hook callbacks with hard deadlines; when evaluation runs
// past the timeout the facade fails open and allows the event, because a
// stalled daemon must never wedge the assistant.
type Facade struct {
	processor Processor
	timeout   time.Duration
	logger    *slog.Logger
}

// FacadeOption configures a Facade.
type FacadeOption func(*Facade)

// WithTimeout overrides the evaluation deadline.
func WithTimeout(d time.Duration) FacadeOption {
	return func(f *Facade) { f.timeout = d }
}

// WithFacadeLogger sets the facade logger.
func WithFacadeLogger(lg *slog.Logger) FacadeOption {
	return func(f *Facade) { f.logger = lg }
}

// NewFacade creates a facade over an event processor.
func NewFacade(p Processor, opts ...FacadeOption) *Facade {
	f := &Facade{
		processor: p,
		timeout:   DefaultFacadeTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type outcome struct {
	resp *Response
	err  error
}

// Handle evaluates one event and always returns a usable response: engine
// errors and timeouts degrade to allow.
func (f *Facade) Handle(ctx context.Context, event *Event) *Response {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		resp, err := f.processor.ProcessEvent(ctx, event)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			f.logger.Error("event evaluation failed, allowing",
				"event", event.Type, "session", event.SessionID(), "error", out.err)
			return Allow()
		}
		if out.resp == nil {
			return Allow()
		}
		return out.resp
	case <-ctx.Done():
		f.logger.Error("event evaluation timed out, allowing",
			"event", event.Type, "session", event.SessionID(), "timeout", f.timeout)
		return Allow()
	}
}
