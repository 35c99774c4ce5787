package vector

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// #region fixed
// FixedScale is the number of Fixed units per whole number (4 decimal places).
const FixedScale = 10_000

const fixedDigits = 4

// Fixed is a signed decimal with four fractional digits, stored scaled by FixedScale.
type Fixed int64

var (
	ErrFixedSyntax    = errors.New("invalid fixed-point literal")
	ErrFixedPrecision = errors.New("fixed-point literal exceeds 4 decimal places")
	ErrFixedRange     = errors.New("fixed-point literal out of range")
)

// ParseFixed parses a decimal literal such as "-0.25" or "50" exactly.
func ParseFixed(s string) (Fixed, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrFixedSyntax
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, ErrFixedSyntax
	}
	if hasDot && frac == "" {
		return 0, ErrFixedSyntax
	}
	frac = strings.TrimRight(frac, "0")
	if len(frac) > fixedDigits {
		return 0, fmt.Errorf("%w: %q", ErrFixedPrecision, s)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return 0, fmt.Errorf("%w: %q", ErrFixedSyntax, s)
	}

	var w uint64
	if whole != "" {
		var err error
		w, err = strconv.ParseUint(whole, 10, 63)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrFixedRange, s)
		}
	}
	if w > math.MaxInt64/FixedScale-1 {
		return 0, fmt.Errorf("%w: %q", ErrFixedRange, s)
	}

	var f uint64
	if frac != "" {
		padded := frac + strings.Repeat("0", fixedDigits-len(frac))
		f, _ = strconv.ParseUint(padded, 10, 64)
	}

	v := int64(w)*FixedScale + int64(f)
	if neg {
		v = -v
	}
	return Fixed(v), nil
}

// MustFixed is ParseFixed for constants; it panics on error.
func MustFixed(s string) Fixed {
	f, err := ParseFixed(s)
	if err != nil {
		panic(err)
	}
	return f
}

// FixedFromFloat rounds f to the nearest representable Fixed.
func FixedFromFloat(f float64) Fixed {
	return Fixed(math.Round(f * FixedScale))
}

// FixedFromInt lifts a whole number.
func FixedFromInt(n int64) Fixed {
	return Fixed(n * FixedScale)
}

// String renders the value with exactly four fractional digits.
func (f Fixed) String() string {
	v := int64(f)
	sign := ""
	if v < 0 {
		sign = "-"
	}
	u := uint64(v)
	if v < 0 {
		u = uint64(-v)
	}
	return fmt.Sprintf("%s%d.%04d", sign, u/FixedScale, u%FixedScale)
}

// Float64 is for display only.
func (f Fixed) Float64() float64 {
	return float64(f) / FixedScale
}

// MarshalJSON encodes as a decimal string so no float ever enters the canonical form.
func (f Fixed) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON accepts either a decimal string or a bare JSON number.
func (f *Fixed) UnmarshalJSON(b []byte) error {
	text := strings.TrimSpace(string(b))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		text = s
	}
	if strings.ContainsAny(text, "eE") {
		return fmt.Errorf("%w: exponent notation %q", ErrFixedSyntax, text)
	}
	v, err := ParseFixed(text)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

func digitsOnly(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// #endregion fixed
