package jury

import (
	"encoding/binary"
	"time"

	"golang.org/x/crypto/sha3"

	"juryflow/event"
)

// Draw describes one jury selection. Every field is recorded in the
// JuryEmpaneled event, so a seed derived from it can be recomputed from the
// journal.
type Draw struct {
	Round    uint64
	At       time.Time
	PoolSize int
}

// Entropy supplies the seed for each jury draw.
type Entropy interface {
	Seed(d Draw) []byte
}

// EntropyFunc adapts a function to Entropy.
type EntropyFunc func(d Draw) []byte

func (f EntropyFunc) Seed(d Draw) []byte { return f(d) }

// FixedEntropy derives every seed from a constant and the round, so draws are
// reproducible.
func FixedEntropy(seed []byte) Entropy {
	return EntropyFunc(func(d Draw) []byte {
		return keccak(seed, d.Round)
	})
}

// ClockEntropy derives seeds from the empanelment timestamp and the pool size,
// the way a ledger would use block timestamps.
func ClockEntropy() Entropy {
	return EntropyFunc(func(d Draw) []byte {
		var buf [16]byte
		binary.BigEndian.PutUint64(buf[:8], uint64(d.At.UnixNano()))
		binary.BigEndian.PutUint64(buf[8:], uint64(d.PoolSize))
		return keccak(buf[:], d.Round)
	})
}

// Rederive recomputes the jury recorded in e with entropy. A result different
// from e.JurorIDs means the draw was not produced by that entropy source.
func Rederive(e event.JuryEmpaneled, entropy Entropy) []uint64 {
	candidates := make([]uint64, e.PoolSize)
	for i := range candidates {
		candidates[i] = uint64(i) + 1
	}
	d := Draw{Round: e.Round, At: e.At, PoolSize: e.PoolSize}
	return draw(candidates, len(e.JurorIDs), entropy.Seed(d))
}

func keccak(seed []byte, n uint64) []byte {
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], n)
	h := sha3.NewLegacyKeccak256()
	h.Write(seed)
	h.Write(ctr[:])
	return h.Sum(nil)
}

// draw picks size distinct ids from candidates with a partial Fisher-Yates
// shuffle driven by a Keccak chain over seed. The result is in draw order.
func draw(candidates []uint64, size int, seed []byte) []uint64 {
	ids := make([]uint64, len(candidates))
	copy(ids, candidates)

	out := make([]uint64, 0, size)
	for i := 0; i < size && i < len(ids); i++ {
		r := binary.BigEndian.Uint64(keccak(seed, uint64(i))[:8])
		j := i + int(r%uint64(len(ids)-i))
		ids[i], ids[j] = ids[j], ids[i]
		out = append(out, ids[i])
	}
	return out
}
