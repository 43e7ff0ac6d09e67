// Package dispute owns dispute records and drives them from proposal through
// activation to resolution, gating every mutation on jury membership.
package dispute

import (
	"errors"
	"fmt"
	"time"

	"juryflow/event"
)

var (
	ErrNotFound        = errors.New("dispute: not found")
	ErrUnauthorized    = errors.New("dispute: unauthorized")
	ErrSelfApproval    = errors.New("dispute: proposer cannot approve own dispute")
	ErrAlreadyApproved = errors.New("dispute: already approved by caller")
	ErrAlreadyVoted    = errors.New("dispute: juror already voted")
	ErrAlreadyResolved = errors.New("dispute: already resolved")
	ErrNotActive       = errors.New("dispute: not open for voting")
	ErrInvalidDeadline = errors.New("dispute: deadline must be in the future")
)

// ActivationThreshold is the number of qualifying approvals that moves a
// proposal to Active.
const ActivationThreshold = 1

// Membership is the view of the jury pool the ledger needs for authorization.
// *jury.Pool satisfies it.
type Membership interface {
	IsActive(address string) bool
	IsActiveID(id uint64) bool
	JurorID(address string) (uint64, bool)
	ActiveIDs() []uint64
}

// Ledger holds every dispute, indexed by id. It is not safe for concurrent
// use.
type Ledger struct {
	jury         Membership
	records      []*record
	now          func() time.Time
	autoFinalize bool
	events       event.Buffer
}

type Option func(*Ledger)

// WithClock sets the time source used for deadline checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithAutoFinalize resolves an active dispute as soon as every eligible active
// juror has voted.
func WithAutoFinalize(enabled bool) Option {
	return func(l *Ledger) { l.autoFinalize = enabled }
}

func NewLedger(jury Membership, opts ...Option) *Ledger {
	l := &Ledger{
		jury: jury,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) get(id uint64) (*record, error) {
	if id >= uint64(len(l.records)) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return l.records[id], nil
}

// Propose opens a dispute on behalf of caller. Sitting jurors cannot raise
// disputes.
func (l *Ledger) Propose(caller string, deadline time.Time) (Dispute, error) {
	if l.jury.IsActive(caller) {
		return Dispute{}, fmt.Errorf("%w: active juror cannot propose", ErrUnauthorized)
	}
	now := l.now()
	if !deadline.After(now) {
		return Dispute{}, ErrInvalidDeadline
	}

	r := &record{
		id:        uint64(len(l.records)),
		proposer:  caller,
		status:    StatusProposed,
		deadline:  deadline,
		createdAt: now,
		approved:  make(map[string]struct{}),
		votes:     make(map[uint64]bool),
	}
	l.records = append(l.records, r)
	l.events.Add(event.ProposalCreated{
		Proposer:  caller,
		DisputeID: r.id,
		Approvals: 0,
		Deadline:  deadline,
		CreatedAt: now,
	})
	return r.snapshot(), nil
}

// Approve records caller's approval. The proposer is refused regardless of
// membership; everyone else must sit on the active jury.
func (l *Ledger) Approve(caller string, id uint64) (Dispute, error) {
	r, err := l.get(id)
	if err != nil {
		return Dispute{}, err
	}
	if r.status == StatusResolved {
		return Dispute{}, ErrAlreadyResolved
	}
	if caller == r.proposer {
		return Dispute{}, ErrSelfApproval
	}
	if !l.jury.IsActive(caller) {
		return Dispute{}, fmt.Errorf("%w: caller is not an active juror", ErrUnauthorized)
	}
	if _, ok := r.approved[caller]; ok {
		return Dispute{}, ErrAlreadyApproved
	}

	r.approved[caller] = struct{}{}
	r.approvers = append(r.approvers, caller)
	l.events.Add(event.ProposalApproved{Approver: caller, DisputeID: id, Approvals: len(r.approvers)})

	if r.status == StatusProposed && len(r.approvers) >= ActivationThreshold {
		r.status = StatusActive
		l.events.Add(event.DisputeActivated{DisputeID: id, Status: string(StatusActive), Deadline: r.deadline})
	}
	return r.snapshot(), nil
}

// Vote records caller's verdict on an Active dispute. Only jurors on the
// active jury at call time may vote, once per dispute.
func (l *Ledger) Vote(caller string, id uint64, verdict bool) (Dispute, error) {
	r, err := l.get(id)
	if err != nil {
		return Dispute{}, err
	}
	if r.status == StatusResolved {
		return Dispute{}, ErrAlreadyResolved
	}
	if r.status != StatusActive {
		return Dispute{}, fmt.Errorf("%w: dispute %d is %s", ErrNotActive, id, r.status)
	}
	jurorID, ok := l.jury.JurorID(caller)
	if !ok || !l.jury.IsActiveID(jurorID) {
		return Dispute{}, fmt.Errorf("%w: caller is not an active juror", ErrUnauthorized)
	}
	if caller == r.proposer {
		return Dispute{}, fmt.Errorf("%w: proposer cannot vote on own dispute", ErrUnauthorized)
	}
	if _, voted := r.votes[jurorID]; voted {
		return Dispute{}, ErrAlreadyVoted
	}

	r.votes[jurorID] = verdict
	l.events.Add(event.VoteCast{JurorID: jurorID, DisputeID: id, Verdict: verdict})

	if l.autoFinalize && l.allVoted(r) {
		l.resolve(r, r.tally().Verdict(), false)
	}
	return r.snapshot(), nil
}

func (l *Ledger) allVoted(r *record) bool {
	for _, id := range l.jury.ActiveIDs() {
		if pid, ok := l.jury.JurorID(r.proposer); ok && pid == id {
			continue
		}
		if _, ok := r.votes[id]; !ok {
			return false
		}
	}
	return true
}

// ForceClose finalizes a dispute with the current tally. A dispute that never
// left Proposed has no votes and resolves false.
func (l *Ledger) ForceClose(id uint64) (Dispute, error) {
	r, err := l.get(id)
	if err != nil {
		return Dispute{}, err
	}
	if r.status == StatusResolved {
		return Dispute{}, ErrAlreadyResolved
	}

	verdict := false
	if r.status == StatusActive {
		verdict = r.tally().Verdict()
	}
	l.resolve(r, verdict, true)
	return r.snapshot(), nil
}

func (l *Ledger) resolve(r *record, verdict, forced bool) {
	at := l.now()
	r.status = StatusResolved
	r.verdict = verdict
	r.forced = forced
	r.resolvedAt = &at
	l.events.Add(event.DisputeResolved{DisputeID: r.id, Verdict: verdict, Forced: forced, At: at})
}

// Get returns a snapshot of dispute id.
func (l *Ledger) Get(id uint64) (Dispute, error) {
	r, err := l.get(id)
	if err != nil {
		return Dispute{}, err
	}
	return r.snapshot(), nil
}

// Tally returns the vote counts of dispute id.
func (l *Ledger) Tally(id uint64) (Tally, error) {
	r, err := l.get(id)
	if err != nil {
		return Tally{}, err
	}
	return r.tally(), nil
}

// List returns every dispute in id order, optionally filtered by status.
func (l *Ledger) List(status Status) []Dispute {
	out := make([]Dispute, 0, len(l.records))
	for _, r := range l.records {
		if status != "" && r.status != status {
			continue
		}
		out = append(out, r.snapshot())
	}
	return out
}

func (l *Ledger) Len() int { return len(l.records) }

// Events drains the notifications emitted since the last call.
func (l *Ledger) Events() []event.Event { return l.events.Drain() }

// Clone deep-copies the ledger and binds the copy to jury.
func (l *Ledger) Clone(jury Membership) *Ledger {
	c := &Ledger{
		jury:         jury,
		records:      make([]*record, len(l.records)),
		now:          l.now,
		autoFinalize: l.autoFinalize,
	}
	for i, r := range l.records {
		c.records[i] = r.clone()
	}
	return c
}
