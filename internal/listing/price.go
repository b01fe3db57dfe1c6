package listing

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	nonDigit        = regexp.MustCompile(`\D`)
	nonDecimalDigit = regexp.MustCompile(`[^\d,.]`)
)

// ParsePrice makes a best-effort guess at the rupiah amount in a display
// price such as "Rp 1.200.000 / Bulan", "1,5 jt" or "800rb". It returns 0
// when nothing usable is found.
func ParsePrice(price string) int64 {
	s := strings.TrimSpace(strings.ReplaceAll(strings.ToLower(price), "rp", ""))

	if strings.Contains(s, "juta") || strings.Contains(s, "jt") {
		head := strings.SplitN(strings.SplitN(s, "juta", 2)[0], "jt", 2)[0]
		return scaled(head, 1_000_000)
	}
	if strings.Contains(s, "ribu") || strings.Contains(s, "rb") || strings.HasSuffix(s, "k") {
		head := strings.SplitN(strings.SplitN(strings.SplitN(s, "ribu", 2)[0], "rb", 2)[0], "k", 2)[0]
		return scaled(head, 1_000)
	}

	digits := nonDigit.ReplaceAllString(s, "")
	if digits == "" {
		return 0
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func scaled(head string, unit float64) int64 {
	num := strings.ReplaceAll(nonDecimalDigit.ReplaceAllString(head, ""), ",", ".")
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	return int64(f * unit)
}

// FormatPrice renders amount the way listings display it, e.g.
// FormatPrice(1200000, "Bulan") == "Rp 1.200.000 / Bulan".
func FormatPrice(amount int64, period string) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)

	var b strings.Builder
	b.WriteString("Rp ")
	if neg {
		b.WriteByte('-')
	}
	for i, c := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}
	if period != "" {
		b.WriteString(" / ")
		b.WriteString(period)
	}
	return b.String()
}
