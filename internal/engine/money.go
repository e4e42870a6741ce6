package engine

import (
	"math/bits"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// addChecked adds two fixed-point amounts, refusing the transition on
// overflow rather than wrapping silently.
func addChecked(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, domain.ErrPriceOverflow
	}
	return sum, nil
}

// mulDivChecked computes a*num/den using 128-bit intermediates so amounts
// near the uint64 ceiling do not wrap.
func mulDivChecked(a, num, den uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, num)
	if hi >= den {
		return 0, domain.ErrPriceOverflow
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, nil
}

// bpsOf returns amount*bps/10000, rounded down.
func bpsOf(amount, bps uint64) (uint64, error) {
	return mulDivChecked(amount, bps, 10_000)
}
