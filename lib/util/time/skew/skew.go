package skew

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// DefaultMaxSkew is the tolerance relays apply to hop record start times.
const DefaultMaxSkew = 2 * time.Minute

// ErrSkew is wrapped by every rejection.
var ErrSkew = errors.New("clock skew")

// ValidateTimestampAt checks whether published lies within maxSkew of now.
// A zero-value time.Time is always rejected, as is a non-positive maxSkew.
func ValidateTimestampAt(published, now time.Time, maxSkew time.Duration) error {
	if maxSkew <= 0 {
		return fmt.Errorf("%w: maxSkew must be positive, got %s", ErrSkew, maxSkew)
	}
	if published.IsZero() {
		return fmt.Errorf("%w: published timestamp is zero", ErrSkew)
	}

	skew := now.Sub(published)
	if skew > maxSkew {
		log.WithFields(logger.Fields{
			"at":        "ValidateTimestampAt",
			"published": published.UTC().Format(time.RFC3339),
			"skew":      skew.String(),
			"max":       maxSkew.String(),
		}).Debug("timestamp too far in the past")
		return fmt.Errorf("%w: timestamp is %s in the past (max %s)", ErrSkew, skew, maxSkew)
	}
	if skew < -maxSkew {
		log.WithFields(logger.Fields{
			"at":        "ValidateTimestampAt",
			"published": published.UTC().Format(time.RFC3339),
			"skew":      (-skew).String(),
			"max":       maxSkew.String(),
		}).Debug("timestamp too far in the future")
		return fmt.Errorf("%w: timestamp is %s in the future (max %s)", ErrSkew, -skew, maxSkew)
	}
	return nil
}

// IsTimestampValidAt is the boolean form of ValidateTimestampAt.
func IsTimestampValidAt(published, now time.Time, maxSkew time.Duration) bool {
	return ValidateTimestampAt(published, now, maxSkew) == nil
}
