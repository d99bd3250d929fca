package ensemble

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"mint/backend/pkg/models"
)

// maxSweepValues bounds a single parameter sweep.
const maxSweepValues = 10000

var (
	// ErrInvalidSweep is returned for a malformed range.
	ErrInvalidSweep = errors.New("invalid parameter sweep")
	// ErrOutOfBounds is returned for a value outside the parameter's min/max.
	ErrOutOfBounds = errors.New("parameter value out of bounds")
)

// SweepValues expands the inclusive range [from, to] by step into parameter values.
func SweepValues(param models.ModelParameter, from, to, step float64) ([]string, error) {
	if step <= 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("%w: step must be positive, got %v", ErrInvalidSweep, step)
	}
	if math.IsNaN(from) || math.IsNaN(to) || math.IsInf(from, 0) || math.IsInf(to, 0) {
		return nil, fmt.Errorf("%w: range [%v, %v] is not finite", ErrInvalidSweep, from, to)
	}
	if from > to {
		return nil, fmt.Errorf("%w: from %v is greater than to %v", ErrInvalidSweep, from, to)
	}
	if err := checkBounds(param, from); err != nil {
		return nil, err
	}
	if err := checkBounds(param, to); err != nil {
		return nil, err
	}

	// to-from overflows to +Inf for ranges spanning most of float64
	count := math.Floor((to-from)/step+1e-9) + 1
	if math.IsNaN(count) || math.IsInf(count, 0) || count > maxSweepValues {
		return nil, fmt.Errorf("%w: %v values exceeds limit of %d", ErrInvalidSweep, count, maxSweepValues)
	}
	n := int(count)

	values := make([]string, 0, n)
	for i := 0; i < n; i++ {
		// multiply instead of accumulating to keep rounding error from drifting
		v := from + float64(i)*step
		values = append(values, strconv.FormatFloat(round(v), 'f', -1, 64))
	}
	return values, nil
}

// ValidateValue checks an explicitly listed parameter value.
// Non-numeric parameters accept any non-empty string.
func ValidateValue(param models.ModelParameter, value string) error {
	if value == "" {
		return fmt.Errorf("%w: empty value for %s", ErrInvalidSweep, param.ID)
	}
	if !numeric(param) {
		return nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%w: %q is not a number", ErrInvalidSweep, value)
	}
	return checkBounds(param, v)
}

func numeric(p models.ModelParameter) bool {
	switch p.Type {
	case "", "float", "int", "integer", "number", "double":
		return p.Type != "" || p.Min != nil || p.Max != nil
	}
	return false
}

func checkBounds(p models.ModelParameter, v float64) error {
	if p.Min != nil && v < *p.Min {
		return fmt.Errorf("%w: %v < min %v for %s", ErrOutOfBounds, v, *p.Min, p.ID)
	}
	if p.Max != nil && v > *p.Max {
		return fmt.Errorf("%w: %v > max %v for %s", ErrOutOfBounds, v, *p.Max, p.ID)
	}
	return nil
}

func round(v float64) float64 {
	const scale = 1e9
	return math.Round(v*scale) / scale
}
