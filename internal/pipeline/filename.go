package pipeline

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Timestamp token layout, e.g. 2024-05-01_14_03_59_123456. The trailing
// fraction holds 1 to 6 digits of microseconds.
const timestampLayout = "2006-01-02_15_04_05"

// ParseFilename splits a video file name into its location and start time.
// The extension is ignored. Times are UTC.
func ParseFilename(filename string) (location string, start time.Time, err error) {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	location, rest, found := strings.Cut(stem, " ")
	if !found || location == "" {
		return "", time.Time{}, &MalformedFilenameError{Filename: filename, Reason: "no location token"}
	}

	token, _, _ := strings.Cut(rest, " ")
	start, err = parseTimestamp(token)
	if err != nil {
		return "", time.Time{}, &MalformedFilenameError{Filename: filename, Reason: err.Error()}
	}
	return location, start, nil
}

func parseTimestamp(token string) (time.Time, error) {
	idx := strings.LastIndexByte(token, '_')
	if idx < 0 {
		return time.Time{}, errInvalidTimestamp(token)
	}
	base, frac := token[:idx], token[idx+1:]
	if len(frac) == 0 || len(frac) > 6 {
		return time.Time{}, errInvalidTimestamp(token)
	}
	micros := 0
	for _, r := range frac {
		if r < '0' || r > '9' {
			return time.Time{}, errInvalidTimestamp(token)
		}
		micros = micros*10 + int(r-'0')
	}
	// "12" means 120000 microseconds, as with %f
	for i := len(frac); i < 6; i++ {
		micros *= 10
	}

	t, err := time.ParseInLocation(timestampLayout, base, time.UTC)
	if err != nil {
		return time.Time{}, errInvalidTimestamp(token)
	}
	return t.Add(time.Duration(micros) * time.Microsecond), nil
}

type errInvalidTimestamp string

func (e errInvalidTimestamp) Error() string {
	return "invalid timestamp " + strconv.Quote(string(e))
}
