package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseIntervalWidth parses an uncertainty interval width from p-notation
// ("p80", "p95") or a fraction ("0.8"). The width must lie strictly between
// 0 and 1.
func ParseIntervalWidth(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty interval width")
	}

	var width float64
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "p"); ok {
		pct, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid p-notation %q: %w", s, err)
		}
		width = pct / 100
	} else {
		w, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid interval width %q: %w", s, err)
		}
		width = w
	}

	if width <= 0 || width >= 1 {
		return 0, fmt.Errorf("interval width %v out of range (0, 1)", width)
	}
	return width, nil
}

// FormatIntervalWidth renders a width in p-notation, e.g. 0.8 as "p80".
func FormatIntervalWidth(w float64) string {
	pct := w * 100
	if pct == float64(int(pct)) {
		return fmt.Sprintf("p%d", int(pct))
	}
	return fmt.Sprintf("p%.1f", pct)
}
