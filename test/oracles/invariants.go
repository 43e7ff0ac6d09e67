package oracles

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"juryflow/court"
	"juryflow/dispute"
)

// Invariant inspects a committed snapshot and describes the first violation it
// finds, or returns "".
type Invariant struct {
	Name  string
	Check func(court.Snapshot) string
}

func Invariants() []Invariant {
	return []Invariant{
		{"I1_active_jury_size", func(s court.Snapshot) string {
			if len(s.Active) != s.Config.MinJurySize {
				return fmt.Sprintf("active jury has %d seats, want %d", len(s.Active), s.Config.MinJurySize)
			}
			return ""
		}},
		{"I2_active_jury_drawn_from_pool", func(s court.Snapshot) string {
			seen := make(map[uint64]bool, len(s.Active))
			for _, id := range s.Active {
				if id == 0 || id > uint64(len(s.Members)) {
					return fmt.Sprintf("active juror %d is not a member", id)
				}
				if seen[id] {
					return fmt.Sprintf("juror %d seated twice", id)
				}
				seen[id] = true
				if !s.Members[id-1].Active {
					return fmt.Sprintf("juror %d seated but reported idle", id)
				}
			}
			return ""
		}},
		{"I3_dispute_ids_dense", func(s court.Snapshot) string {
			for i, d := range s.Disputes {
				if d.ID != uint64(i) {
					return fmt.Sprintf("dispute at %d has id %d", i, d.ID)
				}
			}
			return ""
		}},
		{"I4_status_matches_approvals", func(s court.Snapshot) string {
			for _, d := range s.Disputes {
				if d.Status == dispute.StatusProposed && d.Approvals >= dispute.ActivationThreshold {
					return fmt.Sprintf("dispute %d proposed with %d approvals", d.ID, d.Approvals)
				}
				if d.Status == dispute.StatusActive && d.Approvals < dispute.ActivationThreshold {
					return fmt.Sprintf("dispute %d active with %d approvals", d.ID, d.Approvals)
				}
			}
			return ""
		}},
		{"I5_proposer_never_approves", func(s court.Snapshot) string {
			for _, d := range s.Disputes {
				for _, a := range d.Approvers {
					if a == d.Proposer {
						return fmt.Sprintf("dispute %d approved by its proposer", d.ID)
					}
				}
			}
			return ""
		}},
		{"I6_verdict_follows_majority", func(s court.Snapshot) string {
			for _, d := range s.Disputes {
				if d.Status != dispute.StatusResolved {
					continue
				}
				want := false
				if d.Approvals >= dispute.ActivationThreshold {
					var t dispute.Tally
					for _, v := range d.Votes {
						if v {
							t.For++
						} else {
							t.Against++
						}
					}
					want = t.Verdict()
				}
				if d.Verdict != want || d.ResolvedAt == nil {
					return fmt.Sprintf("dispute %d resolved %v, want %v", d.ID, d.Verdict, want)
				}
			}
			return ""
		}},
		{"I7_votes_from_members", func(s court.Snapshot) string {
			for _, d := range s.Disputes {
				for id := range d.Votes {
					if id == 0 || id > uint64(len(s.Members)) {
						return fmt.Sprintf("dispute %d has a vote from unknown juror %d", d.ID, id)
					}
				}
			}
			return ""
		}},
	}
}

// Check runs every invariant against snap and returns the first failure name
// and detail, or empty strings.
func Check(snap court.Snapshot) (string, string) {
	for _, inv := range Invariants() {
		if detail := inv.Check(snap); detail != "" {
			return inv.Name, detail
		}
	}
	return "", ""
}

// ReplayDiff rebuilds a court from journal and diffs its state against live.
// An empty result means the journal reproduces the live state.
func ReplayDiff(ctx context.Context, journal court.Journal, live court.Snapshot) (string, error) {
	restored, err := court.Restore(ctx, journal)
	if err != nil {
		return "", err
	}
	return cmp.Diff(live, restored.Snapshot(),
		cmpopts.IgnoreFields(court.Snapshot{}, "TakenAt"),
		cmpopts.EquateEmpty(),
	), nil
}
