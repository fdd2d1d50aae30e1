package irt

import "fmt"

const (
	DefaultMaxItems = 20
	DefaultMinSE    = 0.35

	PolicyMaxItems = "max_items"
	PolicyMinError = "min_error"
)

// Stopper decides whether a test should end after the latest response.
type Stopper interface {
	Stop(administered int, se *float64) bool
}

// MaxItems stops once N items have been administered.
type MaxItems struct {
	N int
}

func (s MaxItems) Stop(administered int, _ *float64) bool {
	return administered >= s.N
}

// MinError stops once the standard error is at or below E. It never fires
// before a standard error has been computed.
type MinError struct {
	E float64
}

func (s MinError) Stop(_ int, se *float64) bool {
	return se != nil && *se <= s.E
}

// NewStopper builds the stopper for a configured policy name.
func NewStopper(policy string, maxItems int, minSE float64) (Stopper, error) {
	switch policy {
	case "", PolicyMaxItems:
		if maxItems <= 0 {
			maxItems = DefaultMaxItems
		}
		return MaxItems{N: maxItems}, nil
	case PolicyMinError:
		if minSE <= 0 {
			minSE = DefaultMinSE
		}
		return MinError{E: minSE}, nil
	default:
		return nil, fmt.Errorf("unknown stopping policy %q", policy)
	}
}
