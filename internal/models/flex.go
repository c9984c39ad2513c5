package models

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// groupedNumber matches numbers with comma thousands separators, e.g. "1,234.5".
var groupedNumber = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d*)?$`)

// FlexFloat handles JSON values that may be either a number or a string.
// Unparseable strings decode to zero. Non-finite values ("NaN", "Inf") are
// rejected so the enclosing message fails to decode.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = FlexFloat(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" || s == "N/A" {
			*f = 0
			return nil
		}
		num, ok := parseFlexNumber(s)
		if !ok {
			*f = 0
			return nil
		}
		if math.IsNaN(num) || math.IsInf(num, 0) {
			return fmt.Errorf("non-finite number %q", s)
		}
		*f = FlexFloat(num)
		return nil
	}
	if string(data) == "null" {
		*f = 0
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

// parseFlexNumber parses s, dropping commas only when they group thousands.
// A decimal comma such as "1,5" is unparseable.
func parseFlexNumber(s string) (float64, bool) {
	if strings.Contains(s, ",") {
		if !groupedNumber.MatchString(s) {
			return 0, false
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	num, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return num, true
}

// finite reports whether v is neither NaN nor infinite.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// flexString accepts a JSON string or number and keeps its textual form.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*s = flexString(num.String())
		return nil
	}
	if string(data) == "null" {
		*s = ""
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into string", string(data))
}

// ParseApproximateCount extracts the leading integer from an aggregate count
// such as "26" or "26,10". It returns false when no digits lead the value.
func ParseApproximateCount(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	end := 0
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(raw[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
