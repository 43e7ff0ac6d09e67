// Package jury maintains the registry of eligible jurors and the active jury
// drawn from it.
package jury

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"juryflow/event"
)

var (
	// ErrInvalidConfig wraps every construction failure; the wrapped message
	// names the violated rule.
	ErrInvalidConfig = errors.New("jury: invalid config")
	// ErrDuplicateMember signals an address already present in the pool.
	ErrDuplicateMember = errors.New("jury: duplicate jury member")
	// ErrUnauthorized signals a caller outside the active jury.
	ErrUnauthorized = errors.New("jury: caller is not an active juror")
	// ErrSwapTooEarly signals a reselection before the swap interval elapsed.
	ErrSwapTooEarly = errors.New("jury: swap interval has not elapsed")
	// ErrInvalidAddress signals an empty juror address.
	ErrInvalidAddress = errors.New("jury: address cannot be empty")
)

const minJurySize = 3

// Pool owns the jurors and the active jury. It is not safe for concurrent use;
// callers serialize access (see court.Court).
type Pool struct {
	cfg       Config
	members   []Juror
	byAddress map[string]uint64
	active    map[uint64]struct{}
	order     []uint64
	rounds    uint64
	lastSwap  time.Time
	entropy   Entropy
	now       func() time.Time
	events    event.Buffer
}

// Option customizes a Pool.
type Option func(*Pool)

// WithEntropy sets the seed source for jury draws.
func WithEntropy(e Entropy) Option {
	return func(p *Pool) { p.entropy = e }
}

// WithClock sets the time source used for swap gating.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

func newPool(cfg Config, opts ...Option) *Pool {
	p := &Pool{
		cfg:       cfg,
		byAddress: make(map[string]uint64),
		active:    make(map[uint64]struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.entropy == nil {
		p.entropy = ClockEntropy()
	}
	return p
}

// New validates the configuration, admits members in order and empanels the
// initial active jury.
func New(cfg Config, members []string, opts ...Option) (*Pool, error) {
	if err := validate(cfg, members); err != nil {
		return nil, err
	}

	p := newPool(cfg, opts...)
	p.events.Add(event.PoolConfigured{MinJurySize: cfg.MinJurySize, SwapInterval: cfg.SwapInterval})
	for _, addr := range members {
		p.admit(addr)
	}
	p.empanel()
	return p, nil
}

func validate(cfg Config, members []string) error {
	if cfg.MinJurySize < minJurySize {
		return fmt.Errorf("%w: jury size at least %d", ErrInvalidConfig, minJurySize)
	}
	if cfg.MinJurySize%2 == 0 {
		return fmt.Errorf("%w: jury size must be odd", ErrInvalidConfig)
	}
	if len(members) < 2*cfg.MinJurySize {
		return fmt.Errorf("%w: not enough jury members", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(members))
	for _, addr := range members {
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("%w: empty jury member address", ErrInvalidConfig)
		}
		if _, ok := seen[addr]; ok {
			return fmt.Errorf("%w: duplicate jury member %s", ErrInvalidConfig, addr)
		}
		seen[addr] = struct{}{}
	}
	return nil
}

func (p *Pool) admit(addr string) Juror {
	j := Juror{ID: uint64(len(p.members)) + 1, Address: addr}
	p.members = append(p.members, j)
	p.byAddress[addr] = j.ID
	p.events.Add(event.MemberAdmitted{Address: addr, JurorID: j.ID})
	return j
}

func (p *Pool) empanel() []uint64 {
	ids := make([]uint64, len(p.members))
	for i, m := range p.members {
		ids[i] = m.ID
	}
	d := Draw{Round: p.rounds, At: p.now(), PoolSize: len(p.members)}
	chosen := draw(ids, p.cfg.MinJurySize, p.entropy.Seed(d))
	p.rounds++
	p.setActive(chosen, d.At)

	out := make([]uint64, len(chosen))
	copy(out, chosen)
	p.events.Add(event.JuryEmpaneled{JurorIDs: out, At: d.At, Round: d.Round, PoolSize: d.PoolSize})
	return chosen
}

func (p *Pool) setActive(ids []uint64, at time.Time) {
	p.active = make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		p.active[id] = struct{}{}
	}
	p.order = ids
	p.lastSwap = at
}

// AddMember admits address on behalf of caller, who must sit on the active
// jury. The active jury is left untouched.
func (p *Pool) AddMember(caller, address string) (Juror, error) {
	if !p.IsActive(caller) {
		return Juror{}, ErrUnauthorized
	}
	if strings.TrimSpace(address) == "" {
		return Juror{}, ErrInvalidAddress
	}
	if _, ok := p.byAddress[address]; ok {
		return Juror{}, ErrDuplicateMember
	}
	return p.admit(address), nil
}

// Reselect draws a new active jury once the swap interval has elapsed since
// the previous empanelment.
func (p *Pool) Reselect() ([]uint64, error) {
	if next := p.lastSwap.Add(p.cfg.SwapInterval); p.now().Before(next) {
		return nil, fmt.Errorf("%w: next swap at %s", ErrSwapTooEarly, next.Format(time.RFC3339))
	}
	return append([]uint64(nil), p.empanel()...), nil
}

// IsActive reports whether address currently sits on the active jury.
func (p *Pool) IsActive(address string) bool {
	id, ok := p.byAddress[address]
	if !ok {
		return false
	}
	return p.IsActiveID(id)
}

func (p *Pool) IsActiveID(id uint64) bool {
	_, ok := p.active[id]
	return ok
}

// JurorID resolves an address to its juror id.
func (p *Pool) JurorID(address string) (uint64, bool) {
	id, ok := p.byAddress[address]
	return id, ok
}

// Juror looks up a member by address.
func (p *Pool) Juror(address string) (Juror, bool) {
	id, ok := p.byAddress[address]
	if !ok {
		return Juror{}, false
	}
	return p.JurorByID(id)
}

func (p *Pool) JurorByID(id uint64) (Juror, bool) {
	if id == 0 || id > uint64(len(p.members)) {
		return Juror{}, false
	}
	j := p.members[id-1]
	j.Active = p.IsActiveID(id)
	return j, true
}

// Members returns every juror in admission order.
func (p *Pool) Members() []Juror {
	out := make([]Juror, len(p.members))
	for i, m := range p.members {
		m.Active = p.IsActiveID(m.ID)
		out[i] = m
	}
	return out
}

// ActiveIDs returns the active jury in draw order.
func (p *Pool) ActiveIDs() []uint64 {
	return append([]uint64(nil), p.order...)
}

func (p *Pool) Size() int             { return len(p.members) }
func (p *Pool) Config() Config        { return p.cfg }
func (p *Pool) LastSwap() time.Time   { return p.lastSwap }
func (p *Pool) Events() []event.Event { return p.events.Drain() }
func (p *Pool) NextSwap() time.Time   { return p.lastSwap.Add(p.cfg.SwapInterval) }

// Clone returns a deep copy sharing the clock and entropy source. Pending
// events are not copied.
func (p *Pool) Clone() *Pool {
	c := &Pool{
		cfg:       p.cfg,
		members:   append([]Juror(nil), p.members...),
		byAddress: make(map[string]uint64, len(p.byAddress)),
		active:    make(map[uint64]struct{}, len(p.active)),
		order:     append([]uint64(nil), p.order...),
		rounds:    p.rounds,
		lastSwap:  p.lastSwap,
		entropy:   p.entropy,
		now:       p.now,
	}
	for k, v := range p.byAddress {
		c.byAddress[k] = v
	}
	for k := range p.active {
		c.active[k] = struct{}{}
	}
	return c
}
