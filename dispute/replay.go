package dispute

import (
	"errors"
	"fmt"

	"juryflow/event"
)

var ErrCorruptHistory = errors.New("dispute: corrupt event history")

// Replay rebuilds a ledger from recorded events. Jury events are skipped; the
// membership is only consulted by later operations.
func Replay(jury Membership, events []event.Event, opts ...Option) (*Ledger, error) {
	l := NewLedger(jury, opts...)
	for i, e := range events {
		switch ev := e.(type) {
		case event.ProposalCreated:
			if ev.DisputeID != uint64(len(l.records)) {
				return nil, fmt.Errorf("%w: dispute id %d at #%d, want %d", ErrCorruptHistory, ev.DisputeID, i, len(l.records))
			}
			l.records = append(l.records, &record{
				id:        ev.DisputeID,
				proposer:  ev.Proposer,
				status:    StatusProposed,
				deadline:  ev.Deadline,
				createdAt: ev.CreatedAt,
				approved:  make(map[string]struct{}),
				votes:     make(map[uint64]bool),
			})
		case event.ProposalApproved:
			r, err := l.replayTarget(ev.DisputeID, i)
			if err != nil {
				return nil, err
			}
			r.approved[ev.Approver] = struct{}{}
			r.approvers = append(r.approvers, ev.Approver)
		case event.DisputeActivated:
			r, err := l.replayTarget(ev.DisputeID, i)
			if err != nil {
				return nil, err
			}
			r.status = StatusActive
		case event.VoteCast:
			r, err := l.replayTarget(ev.DisputeID, i)
			if err != nil {
				return nil, err
			}
			if r.status != StatusActive {
				return nil, fmt.Errorf("%w: vote on %s dispute %d at #%d", ErrCorruptHistory, r.status, ev.DisputeID, i)
			}
			r.votes[ev.JurorID] = ev.Verdict
		case event.DisputeResolved:
			r, err := l.replayTarget(ev.DisputeID, i)
			if err != nil {
				return nil, err
			}
			at := ev.At
			r.status = StatusResolved
			r.verdict = ev.Verdict
			r.forced = ev.Forced
			r.resolvedAt = &at
		}
	}
	return l, nil
}

func (l *Ledger) replayTarget(id uint64, pos int) (*record, error) {
	if id >= uint64(len(l.records)) {
		return nil, fmt.Errorf("%w: unknown dispute %d at #%d", ErrCorruptHistory, id, pos)
	}
	r := l.records[id]
	if r.status == StatusResolved {
		return nil, fmt.Errorf("%w: dispute %d changed after resolution at #%d", ErrCorruptHistory, id, pos)
	}
	return r, nil
}
