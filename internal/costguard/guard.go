// Package costguard pre-checks the estimated cost of operations against
// metered backends. Exceeding budget is a configuration problem, not a
// transient one, so violations are terminal.
package costguard

import (
	"fmt"

	"github.com/fxintel/collector/internal/resilience"
)

// Estimate is the dry-run cost of an operation before it is issued.
type Estimate struct {
	// Bytes the backend expects to scan or bill for.
	Bytes int64
	// Units is an optional secondary measure (rows, API credits).
	Units int64
	// Detail describes the operation for error messages.
	Detail string
}

// Guard aborts with E_COST_EXCEEDED iff the estimate exceeds limitBytes.
// A zero or negative limit disables the check. When Guard fails, the real
// operation must never be issued.
func Guard(est Estimate, limitBytes int64) error {
	if limitBytes <= 0 {
		return nil
	}
	if est.Bytes > limitBytes {
		return resilience.CostExceeded(fmt.Errorf(
			"estimated %d bytes exceeds limit %d (%s)", est.Bytes, limitBytes, est.Detail))
	}
	return nil
}
