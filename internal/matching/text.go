package matching

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Text is a numeric attribute carried as text. It decodes from either a JSON
// string or a JSON number so that clients sending "25" and 25 are treated
// alike.
type Text string

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (t *Text) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("matching: decode text: %w", err)
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("matching: decode text: %w", err)
	}
	*t = Text(n.String())
	return nil
}

// Float parses the text as a finite number. Surrounding whitespace is
// ignored; empty, non-numeric, NaN and infinite values report ok=false.
func (t Text) Float() (float64, bool) {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// TextOf formats a number as Text.
func TextOf(v float64) Text {
	return Text(strconv.FormatFloat(v, 'f', -1, 64))
}
