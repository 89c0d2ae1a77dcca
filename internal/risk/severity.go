package risk

import (
	"fmt"
	"strings"

	"ormdash.org/internal/errs"
)

// Level is the closed, ordered set of risk severities. The zero value is not a
// valid level.
type Level uint8

const (
	LevelLow Level = iota + 1
	LevelMedium
	LevelHigh
	LevelExtreme
)

// Levels lists every valid level in ascending order.
func Levels() []Level {
	return []Level{LevelLow, LevelMedium, LevelHigh, LevelExtreme}
}

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelExtreme:
		return "extreme"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// Valid reports whether l is one of the four defined levels.
func (l Level) Valid() bool {
	return l >= LevelLow && l <= LevelExtreme
}

// Compare returns -1, 0 or 1 depending on whether l is less severe, equally
// severe or more severe than other.
func (l Level) Compare(other Level) int {
	switch {
	case l < other:
		return -1
	case l > other:
		return 1
	default:
		return 0
	}
}

// Worst returns the most severe of the given levels, LevelLow when empty.
func Worst(levels ...Level) Level {
	worst := LevelLow
	for _, l := range levels {
		if l.Compare(worst) > 0 {
			worst = l
		}
	}
	return worst
}

// ParseLevel parses the text form of a level, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return LevelLow, nil
	case "medium":
		return LevelMedium, nil
	case "high":
		return LevelHigh, nil
	case "extreme":
		return LevelExtreme, nil
	}
	return 0, fmt.Errorf("%w: unknown severity %q", errs.ErrValidation, s)
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: invalid severity %d", errs.ErrValidation, uint8(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
