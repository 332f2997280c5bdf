package rfc9111

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// §  1.2.1.  Imported Rules
// §
// §     [HTTP] defines the following rules:
// §
// §       HTTP-date     = <HTTP-date, see [HTTP], Section 5.6.7>
// §       OWS           = <OWS, see [HTTP], Section 5.6.3>
// §       quoted-string = <quoted-string, see [HTTP], Section 5.6.4>
// §       token         = <token, see [HTTP], Section 5.6.2>

// §  1.2.2.  Delta Seconds
// §
// §     The delta-seconds rule specifies a non-negative integer, representing
// §     time in seconds.
// §
// §       delta-seconds  = 1*DIGIT
// §
// §     A recipient parsing a delta-seconds value and converting it to binary
// §     form ought to use an arithmetic type of at least 31 bits of
// §     non-negative integer range.  If a cache receives a delta-seconds value
// §     greater than the greatest integer it can represent, or if any of its
// §     subsequent calculations overflows, the cache MUST consider the value
// §     to be 2147483648 (2^31) or the greatest positive integer it can
// §     conveniently represent.
const maxDeltaSeconds = 2147483648

// deltaSeconds parses a delta-seconds value.
// The boolean is false if the value is not a non-negative integer.
func deltaSeconds(secondsStr string) (time.Duration, bool) {
	secondsStr = strings.TrimSpace(secondsStr)
	if secondsStr == "" {
		return 0, false
	}
	for _, c := range secondsStr {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	seconds, err := strconv.ParseUint(secondsStr, 10, 64)
	if err != nil || seconds > maxDeltaSeconds {
		// only digits, so this is an overflow
		seconds = maxDeltaSeconds
	}
	return time.Second * time.Duration(seconds), true
}

// This section is from the HTTP specification (RFC 9110), not the cache specification
//
// §  5.6.7.  Date/Time Formats
// §
// §     HTTP-date    = IMF-fixdate / obs-date
// §
// §     An example of the preferred format is
// §
// §       Sun, 06 Nov 1994 08:49:37 GMT    ; IMF-fixdate
// §
// §     Examples of the two obsolete formats are
// §
// §       Sunday, 06-Nov-94 08:49:37 GMT   ; obsolete RFC 850 format
// §       Sun Nov  6 08:49:37 1994         ; ANSI C's asctime() format
// §
// §     A recipient that parses a timestamp value in an HTTP field MUST
// §     accept all three HTTP-date formats.

// HttpDate parses an HTTP-date in any of the three formats.
// Errors wrap ErrMalformedHeaderValue.
func HttpDate(dateStr string) (time.Time, error) {
	date, err := imfDate(dateStr)
	if err == nil {
		return date, nil
	}
	// try to parse as obsolete date
	if date, obsErr := obsDate(dateStr); obsErr == nil {
		return date, nil
	}
	// return original error if unsuccessful
	return time.Time{}, fmt.Errorf("%w: date %q: %v", ErrMalformedHeaderValue, dateStr, err)
}

// ToHttpDate formats a time as an IMF-fixdate, always in GMT.
func ToHttpDate(t time.Time) string {
	return t.UTC().Format(http1123Layout)
}

const (
	imfDateLayout  = "Mon, 02 Jan 2006 15:04:05 MST"
	http1123Layout = "Mon, 02 Jan 2006 15:04:05 GMT"
)

func imfDate(dateStr string) (time.Time, error) {
	date, err := time.Parse(imfDateLayout, normalizeDateStr(dateStr))
	if err != nil {
		return date, err
	}
	// §  [...] A cache recipient SHOULD consider a date with a zone
	// §  abbreviation other than "GMT" to be invalid for calculating
	// §  expiration.
	if zone, offset := date.Zone(); offset != 0 || (zone != "GMT" && zone != "UTC") {
		return date, fmt.Errorf("date %s is not in GMT time, but %s", date, zone)
	}
	return date.UTC(), nil
}

func obsDate(dateStr string) (time.Time, error) {
	str := normalizeDateStr(dateStr)
	if date, err := time.Parse(time.RFC850, str); err == nil {
		return date.UTC(), nil
	}
	date, err := time.Parse(time.ANSIC, strings.TrimSpace(dateStr))
	return date.UTC(), err
}

// §  [...] Although all date formats are specified to be case-sensitive, a
// §  cache recipient SHOULD match the field value case-insensitively.
func normalizeDateStr(dateStr string) string {
	str := strings.TrimSpace(dateStr)
	if len(str) < 3 {
		return str
	}
	// only the zone needs normalizing, time.Parse already ignores the case of
	// day and month names
	if zone := str[len(str)-3:]; strings.EqualFold(zone, "GMT") {
		str = str[:len(str)-3] + "GMT"
	}
	return str
}
