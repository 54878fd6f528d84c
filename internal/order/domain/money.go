package domain

import "fmt"

// FormatCents renders integer minor units as a decimal string, e.g.
// 2500 -> "25.00". All money stays in int64 cents internally; this is
// presentation only.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
