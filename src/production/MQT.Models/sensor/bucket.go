package sensor_models

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultBucket is the width used when a request does not name one
const DefaultBucket = "1 hour"

// maxBucketCount keeps widths within a sane range for a 24h-style window
const maxBucketCount = 10000

var ErrInvalidBucket = errors.New("invalid bucket width")

var bucketPattern = regexp.MustCompile(`^(\d+)\s*([a-z]+)$`)

var bucketUnits = map[string]string{
	"second": "second", "seconds": "second", "sec": "second", "secs": "second",
	"minute": "minute", "minutes": "minute", "min": "minute", "mins": "minute",
	"hour": "hour", "hours": "hour", "hr": "hour", "hrs": "hour",
	"day": "day", "days": "day",
	"week": "week", "weeks": "week",
}

var unitDurations = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}

// BucketWidth is a validated time_bucket width such as "15 minutes".
// Only widths produced by ParseBucketWidth reach the store.
type BucketWidth struct {
	Count int
	Unit  string
}

// ParseBucketWidth accepts "<n> <unit>" where unit is second, minute, hour,
// day or week (singular, plural or a short form).
func ParseBucketWidth(s string) (BucketWidth, error) {
	m := bucketPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return BucketWidth{}, fmt.Errorf("%w %q: expected e.g. \"1 hour\" or \"15 minutes\"", ErrInvalidBucket, s)
	}
	count, err := strconv.Atoi(m[1])
	if err != nil || count < 1 || count > maxBucketCount {
		return BucketWidth{}, fmt.Errorf("%w %q: count must be between 1 and %d", ErrInvalidBucket, s, maxBucketCount)
	}
	unit, ok := bucketUnits[m[2]]
	if !ok {
		return BucketWidth{}, fmt.Errorf("%w %q: unknown unit %q", ErrInvalidBucket, s, m[2])
	}
	return BucketWidth{Count: count, Unit: unit}, nil
}

// String renders the canonical PostgreSQL interval literal
func (b BucketWidth) String() string {
	if b.Count == 1 {
		return "1 " + b.Unit
	}
	return strconv.Itoa(b.Count) + " " + b.Unit + "s"
}

// Duration is the fixed length of the bucket
func (b BucketWidth) Duration() time.Duration {
	return time.Duration(b.Count) * unitDurations[b.Unit]
}
