package staging

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParseCount reads a spins or adds cell. Blank, garbled and negative values
// become 0, fractional values are truncated and anything above MaxInt32 is
// capped there.
func ParseCount(raw string) int {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.NewReplacer(",", "", "_", "", " ", "").Replace(cleaned)
	if cleaned == "" {
		return 0
	}

	if n, err := strconv.Atoi(cleaned); err == nil {
		return clampCount(n)
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return clampCount(int(f))
}

func clampCount(n int) int {
	switch {
	case n < 0:
		return 0
	case n > math.MaxInt32:
		return math.MaxInt32
	}
	return n
}

// clip trims s and caps it at max runes
func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}

func blank(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
