package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"juryflow/court"
	"juryflow/dispute"
	"juryflow/jury"
	"juryflow/test/chaos"
)

// expected reports whether err is a rejection the court may legitimately
// return under contention.
func expected(err error) bool {
	for _, target := range []error{
		dispute.ErrNotFound,
		dispute.ErrUnauthorized,
		dispute.ErrSelfApproval,
		dispute.ErrAlreadyApproved,
		dispute.ErrAlreadyVoted,
		dispute.ErrAlreadyResolved,
		dispute.ErrNotActive,
		jury.ErrInvalidAddress,
		jury.ErrUnauthorized,
		jury.ErrDuplicateMember,
		jury.ErrSwapTooEarly,
		chaos.ErrInjected,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func pause(rng *rand.Rand, base, jitter int) {
	time.Sleep(time.Duration(base+rng.Intn(jitter)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

func members(c *court.Court) []string {
	snap := c.Snapshot()
	out := make([]string, len(snap.Members))
	for i, m := range snap.Members {
		out[i] = m.Address
	}
	return out
}

func randomDispute(rng *rand.Rand, c *court.Court, status dispute.Status) (uint64, bool) {
	list := c.Disputes(status)
	if len(list) == 0 {
		return 0, false
	}
	return list[rng.Intn(len(list))].ID, true
}

// Proposer raises disputes from outsider addresses and, occasionally, from
// pool members who may be seated.
func Proposer(ctx context.Context, c *court.Court, rng *rand.Rand, outsiders []string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		caller := outsiders[rng.Intn(len(outsiders))]
		if rng.Intn(4) == 0 {
			all := members(c)
			caller = all[rng.Intn(len(all))]
		}
		_, err := c.Propose(ctx, caller, time.Now().Add(time.Hour))
		if err != nil && !expected(err) {
			return fmt.Errorf("proposer: %w", err)
		}
		pause(rng, 5, 15)
	}
}

// Approver approves random proposals as a random pool member.
func Approver(ctx context.Context, c *court.Court, rng *rand.Rand, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if id, ok := randomDispute(rng, c, ""); ok {
			all := members(c)
			_, err := c.Approve(ctx, all[rng.Intn(len(all))], id)
			if err != nil && !expected(err) {
				return fmt.Errorf("approver: %w", err)
			}
		}
		pause(rng, 3, 10)
	}
}

// Voter casts random verdicts as random pool members.
func Voter(ctx context.Context, c *court.Court, rng *rand.Rand, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if id, ok := randomDispute(rng, c, ""); ok {
			all := members(c)
			_, err := c.Vote(ctx, all[rng.Intn(len(all))], id, rng.Intn(2) == 0)
			if err != nil && !expected(err) {
				return fmt.Errorf("voter: %w", err)
			}
		}
		pause(rng, 2, 8)
	}
}

// Closer force-closes random open disputes.
func Closer(ctx context.Context, c *court.Court, rng *rand.Rand, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		status := dispute.StatusActive
		if rng.Intn(3) == 0 {
			status = dispute.StatusProposed
		}
		if id, ok := randomDispute(rng, c, status); ok {
			_, err := c.ForceClose(ctx, id)
			if err != nil && !expected(err) {
				return fmt.Errorf("closer: %w", err)
			}
		}
		pause(rng, 20, 40)
	}
}

// Rotator keeps asking for a new jury; most calls land inside the swap
// interval and are refused.
func Rotator(ctx context.Context, c *court.Court, rng *rand.Rand, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if _, err := c.Reselect(ctx); err != nil && !expected(err) {
			return fmt.Errorf("rotator: %w", err)
		}
		pause(rng, 5, 20)
	}
}

// Recruiter admits fresh addresses, sometimes repeating one, on behalf of a
// random member.
func Recruiter(ctx context.Context, c *court.Court, rng *rand.Rand, prefix string, stop <-chan struct{}) error {
	for n := 0; ; n++ {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		address := fmt.Sprintf("%s-%d", prefix, n)
		if rng.Intn(5) == 0 && n > 0 {
			address = fmt.Sprintf("%s-%d", prefix, rng.Intn(n))
		}
		all := members(c)
		if _, err := c.AddMember(ctx, all[rng.Intn(len(all))], address); err != nil && !expected(err) {
			return fmt.Errorf("recruiter: %w", err)
		}
		pause(rng, 30, 50)
	}
}
