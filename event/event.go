// Package event defines the notifications emitted by the jury pool and the
// dispute ledger on every state transition.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies an event type. It doubles as the outbox topic.
type Kind string

const (
	KindPoolConfigured   Kind = "jury.pool_configured"
	KindMemberAdmitted   Kind = "jury.member_admitted"
	KindJuryEmpaneled    Kind = "jury.empaneled"
	KindProposalCreated  Kind = "dispute.proposal_created"
	KindProposalApproved Kind = "dispute.proposal_approved"
	KindDisputeActivated Kind = "dispute.activated"
	KindVoteCast         Kind = "dispute.vote_cast"
	KindDisputeResolved  Kind = "dispute.resolved"
)

// Event is implemented by every notification type in this package.
type Event interface {
	Kind() Kind
}

// PoolConfigured records the fixed parameters of a pool. It is emitted once,
// before any admission.
type PoolConfigured struct {
	MinJurySize  int           `json:"min_jury_size"`
	SwapInterval time.Duration `json:"swap_interval"`
}

// MemberAdmitted is emitted for every juror entering the pool.
type MemberAdmitted struct {
	Address string `json:"address"`
	JurorID uint64 `json:"juror_id"`
}

// JuryEmpaneled carries the ordered ids of a newly selected active jury along
// with the draw inputs: the round counter, timestamp and pool size.
type JuryEmpaneled struct {
	JurorIDs []uint64  `json:"juror_ids"`
	At       time.Time `json:"at"`
	Round    uint64    `json:"round"`
	PoolSize int       `json:"pool_size"`
}

type ProposalCreated struct {
	Proposer  string    `json:"proposer"`
	DisputeID uint64    `json:"dispute_id"`
	Approvals int       `json:"approvals"`
	Deadline  time.Time `json:"deadline"`
	CreatedAt time.Time `json:"created_at"`
}

type ProposalApproved struct {
	Approver  string `json:"approver"`
	DisputeID uint64 `json:"dispute_id"`
	Approvals int    `json:"approvals"`
}

type DisputeActivated struct {
	DisputeID uint64    `json:"dispute_id"`
	Status    string    `json:"status"`
	Deadline  time.Time `json:"deadline"`
}

type VoteCast struct {
	JurorID   uint64 `json:"juror_id"`
	DisputeID uint64 `json:"dispute_id"`
	Verdict   bool   `json:"verdict"`
}

// DisputeResolved is the notification consumed by fund custody downstream.
type DisputeResolved struct {
	DisputeID uint64    `json:"dispute_id"`
	Verdict   bool      `json:"verdict"`
	Forced    bool      `json:"forced"`
	At        time.Time `json:"at"`
}

func (PoolConfigured) Kind() Kind   { return KindPoolConfigured }
func (MemberAdmitted) Kind() Kind   { return KindMemberAdmitted }
func (JuryEmpaneled) Kind() Kind    { return KindJuryEmpaneled }
func (ProposalCreated) Kind() Kind  { return KindProposalCreated }
func (ProposalApproved) Kind() Kind { return KindProposalApproved }
func (DisputeActivated) Kind() Kind { return KindDisputeActivated }
func (VoteCast) Kind() Kind         { return KindVoteCast }
func (DisputeResolved) Kind() Kind  { return KindDisputeResolved }

// Marshal encodes the event payload as JSON.
func Marshal(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s: %w", e.Kind(), err)
	}
	return b, nil
}

// Unmarshal decodes a payload previously produced by Marshal.
func Unmarshal(kind Kind, payload []byte) (Event, error) {
	var (
		e   Event
		err error
	)
	switch kind {
	case KindPoolConfigured:
		var v PoolConfigured
		err = json.Unmarshal(payload, &v)
		e = v
	case KindMemberAdmitted:
		var v MemberAdmitted
		err = json.Unmarshal(payload, &v)
		e = v
	case KindJuryEmpaneled:
		var v JuryEmpaneled
		err = json.Unmarshal(payload, &v)
		e = v
	case KindProposalCreated:
		var v ProposalCreated
		err = json.Unmarshal(payload, &v)
		e = v
	case KindProposalApproved:
		var v ProposalApproved
		err = json.Unmarshal(payload, &v)
		e = v
	case KindDisputeActivated:
		var v DisputeActivated
		err = json.Unmarshal(payload, &v)
		e = v
	case KindVoteCast:
		var v VoteCast
		err = json.Unmarshal(payload, &v)
		e = v
	case KindDisputeResolved:
		var v DisputeResolved
		err = json.Unmarshal(payload, &v)
		e = v
	default:
		return nil, fmt.Errorf("event: unknown kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("event: unmarshal %s: %w", kind, err)
	}
	return e, nil
}

// Buffer collects events produced by a single operation until they are drained.
type Buffer struct {
	pending []Event
}

func (b *Buffer) Add(e Event) {
	b.pending = append(b.pending, e)
}

// Drain returns the buffered events and empties the buffer.
func (b *Buffer) Drain() []Event {
	out := b.pending
	b.pending = nil
	return out
}

// Discard drops anything buffered so far.
func (b *Buffer) Discard() {
	b.pending = nil
}
