package strategy

import (
	"fmt"
	"strings"
)

// Regime is the phase of the break-retest state machine.
type Regime int

const (
	Neutral Regime = iota
	WaitRetestUp
	WaitConfirmUp
	WaitRetestDn
	WaitConfirmDn
)

var regimeNames = [...]string{"NEUTRAL", "WAIT_RETEST_UP", "WAIT_CONFIRM_UP", "WAIT_RETEST_DN", "WAIT_CONFIRM_DN"}

func (r Regime) String() string {
	if r < 0 || int(r) >= len(regimeNames) {
		return fmt.Sprintf("Regime(%d)", int(r))
	}
	return regimeNames[r]
}

// MarshalText encodes the regime in lower case ("wait_retest_up").
func (r Regime) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(r.String())), nil
}

// UnmarshalText accepts either case.
func (r *Regime) UnmarshalText(b []byte) error {
	s := strings.ToUpper(string(b))
	for i, n := range regimeNames {
		if n == s {
			*r = Regime(i)
			return nil
		}
	}
	return fmt.Errorf("unknown regime %q", b)
}
