package routing

import (
	"errors"

	"bizphone/internal/catalog"
	"bizphone/internal/distribution"
	"bizphone/internal/forwarding"
	"bizphone/internal/hours"
	"bizphone/internal/ivr"
	"bizphone/internal/park"
	"bizphone/internal/presence"
	"bizphone/internal/queue"
	"bizphone/internal/tenant"
)

// Error classes shared by the engine and its administrative surface.
// Exhaustion is not an error: see distribution.Result.Exhausted.
var (
	ErrNotFound      = errors.New("routing: not found")
	ErrConflict      = errors.New("routing: conflict")
	ErrInvalidConfig = errors.New("routing: invalid config")
)

var classes = []struct {
	class   error
	members []error
}{
	{ErrNotFound, []error{
		ErrNotFound,
		catalog.ErrNotFound,
		tenant.ErrNotFound,
		ivr.ErrNotFound,
		ivr.ErrNoSession,
		park.ErrNotFound,
		queue.ErrNotQueued,
	}},
	{ErrConflict, []error{
		ErrConflict,
		catalog.ErrConflict,
		park.ErrSlotOccupied,
		park.ErrNoSlots,
	}},
	{ErrInvalidConfig, []error{
		ErrInvalidConfig,
		catalog.ErrInvalid,
		tenant.ErrInvalidRoute,
		hours.ErrInvalidConfig,
		forwarding.ErrInvalidRule,
		ivr.ErrInvalidMenu,
		distribution.ErrInvalidGroup,
		distribution.ErrUnknownStrategy,
		queue.ErrInvalidQueue,
		park.ErrInvalidSlot,
		presence.ErrInvalidStatus,
	}},
}

// Classify returns ErrNotFound, ErrConflict or ErrInvalidConfig for errors
// produced by the routing components, and nil for anything else.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range classes {
		for _, m := range c.members {
			if errors.Is(err, m) {
				return c.class
			}
		}
	}
	return nil
}

func isNotFound(err error) bool { return Classify(err) == ErrNotFound }
