package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDuration parses a personal-best time into milliseconds. Accepted
// forms: integer milliseconds, MM:SS.t, and HH:MM:SS.t. Zero is a valid
// result and means "no time recorded".
func ParseDuration(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty time")
	}
	if !strings.Contains(raw, ":") {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse milliseconds %q: %w", raw, err)
		}
		if ms < 0 {
			return 0, fmt.Errorf("negative time %q", raw)
		}
		return ms, nil
	}

	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("malformed time %q", raw)
	}

	var hours int64
	if len(parts) == 3 {
		value, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || value < 0 {
			return 0, fmt.Errorf("malformed hours in %q", raw)
		}
		hours = value
		parts = parts[1:]
	}

	minutes, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || minutes < 0 {
		return 0, fmt.Errorf("malformed minutes in %q", raw)
	}

	secondsPart := parts[1]
	tenths := int64(0)
	if dot := strings.IndexByte(secondsPart, '.'); dot >= 0 {
		fraction := secondsPart[dot+1:]
		secondsPart = secondsPart[:dot]
		if fraction != "" {
			// Only the first fractional digit is significant.
			digit := fraction[0]
			if digit < '0' || digit > '9' {
				return 0, fmt.Errorf("malformed fraction in %q", raw)
			}
			tenths = int64(digit - '0')
		}
	}
	seconds, err := strconv.ParseInt(secondsPart, 10, 64)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("malformed seconds in %q", raw)
	}

	total := hours*3600_000 + minutes*60_000 + seconds*1000 + tenths*100
	return total, nil
}

// FormatDuration renders milliseconds as MM:SS.t or HH:MM:SS.t.
func FormatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	tenths := (ms % 1000) / 100
	totalSeconds := ms / 1000
	seconds := totalSeconds % 60
	minutes := (totalSeconds / 60) % 60
	hours := totalSeconds / 3600
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d.%d", hours, minutes, seconds, tenths)
	}
	return fmt.Sprintf("%d:%02d.%d", minutes, seconds, tenths)
}

// EffectiveBestMS picks the personal-best candidate out of the two reported
// times: the minimum when both are positive, otherwise whichever is positive.
// Returns zero when neither is.
func EffectiveBestMS(currentMS, personalBestMS int64) int64 {
	switch {
	case currentMS > 0 && personalBestMS > 0:
		if currentMS < personalBestMS {
			return currentMS
		}
		return personalBestMS
	case currentMS > 0:
		return currentMS
	case personalBestMS > 0:
		return personalBestMS
	default:
		return 0
	}
}

// ParseTeamSize parses a team-size label: "Solo" is 1, otherwise the integer
// value; unparseable labels count as 1.
func ParseTeamSize(raw string) int {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "solo") {
		return 1
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 1
	}
	return value
}
