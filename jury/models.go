package jury

import "time"

// Juror is a member of the pool. ID is assigned sequentially from 1 and never
// changes while the juror remains in the pool.
type Juror struct {
	ID      uint64
	Address string
	Active  bool
}

// Config holds the parameters fixed at pool creation.
type Config struct {
	MinJurySize  int
	SwapInterval time.Duration
}
