package store

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseMoney parses a monetary cell tolerating both Brazilian
// ("1.234,56") and US ("1,234.56") separator conventions. Currency
// symbols and whitespace are stripped first. When both separators are
// present the rightmost one is the decimal point; a lone comma is
// decimal; a lone dot is decimal unless it repeats (then it is a
// thousands separator).
func ParseMoney(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "R$", "")
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")

	if s == "" {
		return 0, fmt.Errorf("empty value")
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Rightmost separator is the decimal point; the other marks
		// thousands and is dropped.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return 0, fmt.Errorf("ambiguous value %q", raw)
		}
		s = strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a monetary value: %q", raw)
	}
	return v, nil
}
