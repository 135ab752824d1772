package types

import (
	"time"
)

// DefaultRegionalOffsetMinutes is the fixed UTC offset assumed for naive
// local-time strings when no offset is configured (+07:00).
const DefaultRegionalOffsetMinutes = 7 * 60

// naiveLayouts are the accepted shapes of timezone-less timestamp strings.
var naiveLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// awareLayouts are the accepted shapes of timezone-aware timestamp strings.
var awareLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
}

// ParseScheduleTime parses a schedule instant from its string form and
// normalizes it to UTC. Timezone-aware inputs convert directly. Naive inputs
// are interpreted at the given fixed regional offset in minutes and then
// converted; two naive inputs with the same wall-clock text always map to the
// same UTC instant regardless of the host timezone.
func ParseScheduleTime(raw string, offsetMinutes int) (time.Time, error) {
	for _, layout := range awareLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	loc := time.FixedZone("regional", offsetMinutes*60)
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, NewAppError(ErrCodeValidationInvalidTime, "unparseable timestamp: "+raw, nil)
}

// ParseExpiryUTC parses an invoice expiry string. The upstream billing system
// stores these as naive UTC wall-clock values, so naive inputs are read as
// UTC, not at the regional offset. Timezone-aware inputs convert as usual.
func ParseExpiryUTC(raw string) (time.Time, error) {
	for _, layout := range awareLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, NewAppError(ErrCodeValidationInvalidTime, "unparseable expiry: "+raw, nil)
}

// FormatUTC renders an instant as an ISO-8601 UTC string with a Z suffix,
// the shape embedded in payloads for templates and downstream consumers.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
