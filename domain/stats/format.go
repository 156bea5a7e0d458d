package stats

import (
	"math"
	"strconv"
)

// FormatP renders a p-value for tables: "<0.001" below 0.001, otherwise
// three decimals. NaN renders as "NA".
func FormatP(p float64) string {
	switch {
	case math.IsNaN(p):
		return "NA"
	case p < 0.001:
		return "<0.001"
	}
	return strconv.FormatFloat(p, 'f', 3, 64)
}
