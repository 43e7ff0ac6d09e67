package court

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"juryflow/event"
)

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *Recorder) Publish(_ context.Context, events []event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

// OfKind returns the recorded events of kind k.
func (r *Recorder) OfKind(k event.Kind) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Kind() == k {
			out = append(out, e)
		}
	}
	return out
}

// LogSink writes every event to a zap logger.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Publish(_ context.Context, events []event.Event) {
	for _, e := range events {
		s.Logger.Info("court event", append([]zap.Field{zap.String("kind", string(e.Kind()))}, fields(e)...)...)
	}
}

func fields(e event.Event) []zap.Field {
	switch ev := e.(type) {
	case event.PoolConfigured:
		return []zap.Field{zap.Int("min_jury_size", ev.MinJurySize), zap.Duration("swap_interval", ev.SwapInterval)}
	case event.MemberAdmitted:
		return []zap.Field{zap.String("address", ev.Address), zap.Uint64("juror_id", ev.JurorID)}
	case event.JuryEmpaneled:
		return []zap.Field{zap.Uint64s("juror_ids", ev.JurorIDs), zap.Time("at", ev.At), zap.Uint64("round", ev.Round)}
	case event.ProposalCreated:
		return []zap.Field{zap.String("proposer", ev.Proposer), zap.Uint64("dispute_id", ev.DisputeID), zap.Time("deadline", ev.Deadline)}
	case event.ProposalApproved:
		return []zap.Field{zap.String("approver", ev.Approver), zap.Uint64("dispute_id", ev.DisputeID), zap.Int("approvals", ev.Approvals)}
	case event.DisputeActivated:
		return []zap.Field{zap.Uint64("dispute_id", ev.DisputeID), zap.Time("deadline", ev.Deadline)}
	case event.VoteCast:
		return []zap.Field{zap.Uint64("juror_id", ev.JurorID), zap.Uint64("dispute_id", ev.DisputeID), zap.Bool("verdict", ev.Verdict)}
	case event.DisputeResolved:
		return []zap.Field{zap.Uint64("dispute_id", ev.DisputeID), zap.Bool("verdict", ev.Verdict), zap.Bool("forced", ev.Forced)}
	default:
		return nil
	}
}
