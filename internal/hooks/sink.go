package hooks

import (
	"context"

	"github.com/felixgeelhaar/loom/internal/checkpoint"
	"github.com/felixgeelhaar/loom/internal/event"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/log"
)

// Sink fires hooks for the engine events that map to a trigger. Hooks run
// synchronously, so attach the sink behind an event.Dispatcher.
type Sink struct {
	registry *Registry
	logger   *log.Logger
	ctx      context.Context
}

// NewSink creates a sink firing hooks from r. Hook failures are logged and
// never affect the run.
func NewSink(ctx context.Context, r *Registry, logger *log.Logger) *Sink {
	return &Sink{registry: r, logger: log.OrDiscard(logger).WithGroup("hooks"), ctx: ctx}
}

// Emit implements event.Sink.
func (s *Sink) Emit(e event.Envelope) {
	p, ok := payloadFor(e)
	if !ok {
		return
	}
	for _, r := range s.registry.Fire(s.ctx, p) {
		if r.Success {
			s.logger.Debug("hook ran", "hook", r.Hook, "trigger", r.Trigger, "duration", r.Duration)
			continue
		}
		s.logger.Warn("hook failed", "hook", r.Hook, "trigger", r.Trigger, "error", r.Error, "duration", r.Duration)
	}
}

func payloadFor(e event.Envelope) (Payload, bool) {
	p := Payload{RunID: e.RunID, Timestamp: e.Time}
	switch ev := e.Event.(type) {
	case event.RunCompleted:
		p.Trigger = TriggerRunFailed
		if ev.Status == checkpoint.RunCompleted {
			p.Trigger = TriggerRunCompleted
		}
		p.Status = ev.Status
		p.Completed = ev.Completed
		p.Failed = ev.Failed
		p.Blocked = ev.Blocked
	case event.NodeStatus:
		switch ev.Status {
		case graph.StatusFailed:
			p.Trigger = TriggerNodeFailed
		case graph.StatusBlocked:
			p.Trigger = TriggerNodeBlocked
		default:
			return Payload{}, false
		}
		p.NodeID = ev.NodeID
		p.Status = string(ev.Status)
		p.Error = ev.Error
	default:
		return Payload{}, false
	}
	return p, true
}
