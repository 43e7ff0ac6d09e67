package dispute

import "time"

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusProposed Status = "proposed"
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

// Dispute is a snapshot of a dispute record. Maps and slices are copies owned
// by the caller.
type Dispute struct {
	ID         uint64
	Proposer   string
	Status     Status
	Deadline   time.Time
	CreatedAt  time.Time
	Approvals  int
	Approvers  []string
	Votes      map[uint64]bool
	Verdict    bool
	Forced     bool
	ResolvedAt *time.Time
}

// Tally counts the verdicts cast so far.
type Tally struct {
	For     int
	Against int
}

// Verdict applies the majority rule: true only when strictly more jurors voted
// for than against. Ties and empty tallies resolve false.
func (t Tally) Verdict() bool {
	return t.For > t.Against
}

type record struct {
	id         uint64
	proposer   string
	status     Status
	deadline   time.Time
	createdAt  time.Time
	approvers  []string
	approved   map[string]struct{}
	votes      map[uint64]bool
	verdict    bool
	forced     bool
	resolvedAt *time.Time
}

func (r *record) tally() Tally {
	var t Tally
	for _, v := range r.votes {
		if v {
			t.For++
		} else {
			t.Against++
		}
	}
	return t
}

func (r *record) snapshot() Dispute {
	d := Dispute{
		ID:        r.id,
		Proposer:  r.proposer,
		Status:    r.status,
		Deadline:  r.deadline,
		CreatedAt: r.createdAt,
		Approvals: len(r.approvers),
		Approvers: append([]string(nil), r.approvers...),
		Votes:     make(map[uint64]bool, len(r.votes)),
		Verdict:   r.verdict,
		Forced:    r.forced,
	}
	for k, v := range r.votes {
		d.Votes[k] = v
	}
	if r.resolvedAt != nil {
		at := *r.resolvedAt
		d.ResolvedAt = &at
	}
	return d
}

func (r *record) clone() *record {
	c := *r
	c.approvers = append([]string(nil), r.approvers...)
	c.approved = make(map[string]struct{}, len(r.approved))
	for k := range r.approved {
		c.approved[k] = struct{}{}
	}
	c.votes = make(map[uint64]bool, len(r.votes))
	for k, v := range r.votes {
		c.votes[k] = v
	}
	if r.resolvedAt != nil {
		at := *r.resolvedAt
		c.resolvedAt = &at
	}
	return &c
}
