package models

import (
	"strconv"
)

// ─── shared formatting helpers (package-private) ────────────────────────

// ftoa32 renders a float32 in fixed-point notation with prec decimals.
func ftoa32(v float32, prec int) string {
	return strconv.FormatFloat(float64(v), 'f', prec, 32)
}
