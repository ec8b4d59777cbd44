package utils

import (
	"errors"
	"strconv"
	"strings"
)

const (
	ERR_EMPTY_STRING = "empty string"
	ERR_INVALID_INT  = "invalid integer format"
	ERR_NO_DIGIT_RUN = "no digit run found"
)

var (
	ErrEmptyString = errors.New(ERR_EMPTY_STRING)
	ErrInvalidInt  = errors.New(ERR_INVALID_INT)
	ErrNoDigitRun  = errors.New(ERR_NO_DIGIT_RUN)
)

// ParseInt64 converts a numeric string into int64.
// n1, _ := ParseInt64("1234567890")
func ParseInt64(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmptyString
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidInt
	}
	return v, nil
}

// FirstDigitRun extracts the first contiguous run of ASCII digits found
// anywhere in s and parses it as int64.
// n, _ := FirstDigitRun("D-12 district")  // 12
func FirstDigitRun(s string) (int64, error) {
	start := -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			return ParseInt64(s[start:i])
		}
	}
	if start >= 0 {
		return ParseInt64(s[start:])
	}
	return 0, ErrNoDigitRun
}

// Int64ToString converts an int64 into its decimal string representation.
func Int64ToString(v int64) string {
	return strconv.FormatInt(v, 10)
}
