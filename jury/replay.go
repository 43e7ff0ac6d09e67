package jury

import (
	"errors"
	"fmt"

	"juryflow/event"
)

// ErrCorruptHistory signals an event stream that could not have been produced
// by a Pool.
var ErrCorruptHistory = errors.New("jury: corrupt event history")

// Replay rebuilds a pool from its recorded events. Events of other kinds are
// skipped. The returned pool has no pending events.
func Replay(events []event.Event, opts ...Option) (*Pool, error) {
	var p *Pool
	for i, e := range events {
		switch ev := e.(type) {
		case event.PoolConfigured:
			if p != nil {
				return nil, fmt.Errorf("%w: pool configured twice at #%d", ErrCorruptHistory, i)
			}
			p = newPool(Config{MinJurySize: ev.MinJurySize, SwapInterval: ev.SwapInterval}, opts...)
		case event.MemberAdmitted:
			if p == nil {
				return nil, fmt.Errorf("%w: admission before configuration at #%d", ErrCorruptHistory, i)
			}
			if want := uint64(len(p.members)) + 1; ev.JurorID != want {
				return nil, fmt.Errorf("%w: juror id %d, want %d", ErrCorruptHistory, ev.JurorID, want)
			}
			if _, dup := p.byAddress[ev.Address]; dup {
				return nil, fmt.Errorf("%w: %s admitted twice", ErrCorruptHistory, ev.Address)
			}
			p.admit(ev.Address)
		case event.JuryEmpaneled:
			if p == nil {
				return nil, fmt.Errorf("%w: empanelment before configuration at #%d", ErrCorruptHistory, i)
			}
			if len(ev.JurorIDs) != p.cfg.MinJurySize {
				return nil, fmt.Errorf("%w: jury of %d seats, want %d", ErrCorruptHistory, len(ev.JurorIDs), p.cfg.MinJurySize)
			}
			if ev.Round != p.rounds || ev.PoolSize != len(p.members) {
				return nil, fmt.Errorf("%w: draw round %d over %d members at #%d, want round %d over %d",
					ErrCorruptHistory, ev.Round, ev.PoolSize, i, p.rounds, len(p.members))
			}
			seen := make(map[uint64]struct{}, len(ev.JurorIDs))
			for _, id := range ev.JurorIDs {
				if id == 0 || id > uint64(len(p.members)) {
					return nil, fmt.Errorf("%w: unknown juror %d empaneled", ErrCorruptHistory, id)
				}
				if _, dup := seen[id]; dup {
					return nil, fmt.Errorf("%w: juror %d seated twice at #%d", ErrCorruptHistory, id, i)
				}
				seen[id] = struct{}{}
			}
			p.setActive(append([]uint64(nil), ev.JurorIDs...), ev.At)
			p.rounds++
		}
	}
	if p == nil {
		return nil, fmt.Errorf("%w: no pool configuration", ErrCorruptHistory)
	}
	if len(p.order) == 0 {
		return nil, fmt.Errorf("%w: no jury empaneled", ErrCorruptHistory)
	}
	p.events.Discard()
	return p, nil
}
