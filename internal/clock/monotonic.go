package clock

import (
	"errors"
	"fmt"
)

// ErrNonMonotonic is returned by CheckMonotonic when a clock goes backwards.
var ErrNonMonotonic = errors.New("clock is not monotonic")

// DefaultProbeSamples is the number of readings CheckMonotonic takes.
const DefaultProbeSamples = 1000

// CheckMonotonic samples c repeatedly and fails if any reading is earlier
// than the one before it. Run once at startup.
func CheckMonotonic(c Clock, samples int) error {
	if samples < 2 {
		samples = 2
	}
	prev := c.Now()
	for i := 1; i < samples; i++ {
		now := c.Now()
		if now < prev {
			return fmt.Errorf("%w: reading %d went back %dns", ErrNonMonotonic, i, prev-now)
		}
		prev = now
	}
	return nil
}
