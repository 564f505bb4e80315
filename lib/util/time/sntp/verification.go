package sntp

import (
	"time"

	"github.com/beevik/ntp"
	"github.com/samber/oops"
)

const (
	maxRTT            = 2 * time.Second
	maxClockOffset    = 10 * time.Minute
	maxRootDispersion = 1 * time.Second
	maxRootDelay      = 1 * time.Second
)

// validateResponse checks the leap indicator, stratum, timing and root
// metrics of a response.
func validateResponse(r *ntp.Response) error {
	if r.Leap == ntp.LeapNotInSync {
		return oops.Errorf("server clock not synchronized")
	}
	if r.Stratum == 0 || r.Stratum > 15 {
		return oops.Errorf("stratum %d out of range", r.Stratum)
	}
	if r.RTT < 0 || r.RTT > maxRTT {
		return oops.Errorf("round trip %v out of bounds", r.RTT)
	}
	if absDuration(r.ClockOffset) > maxClockOffset {
		return oops.Errorf("clock offset %v out of bounds", r.ClockOffset)
	}
	if r.Time.IsZero() {
		return oops.Errorf("zero time")
	}
	if r.RootDispersion > maxRootDispersion {
		return oops.Errorf("root dispersion %v too high", r.RootDispersion)
	}
	if r.RootDelay > maxRootDelay {
		return oops.Errorf("root delay %v too high", r.RootDelay)
	}
	return nil
}
