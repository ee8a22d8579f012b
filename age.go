package rfccache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// clock abstracts time.Now/time.Since for deterministic testing, mirroring
// the teacher's timer indirection.
type clock interface {
	now() time.Time
}

type realClock struct{}

func (realClock) now() time.Time { return time.Now() }

var systemClock clock = realClock{}

// ParseDate parses the Date header of header, returning ErrNoDateHeader if
// absent or unparsable.
func ParseDate(header http.Header) (time.Time, error) {
	v := header.Get("Date")
	if v == "" {
		return time.Time{}, ErrNoDateHeader
	}
	t, err := time.Parse(time.RFC1123, v)
	if err != nil {
		return time.Time{}, ErrNoDateHeader
	}
	return t, nil
}

// parseAgeHeader parses the Age response header per RFC 9111 §5.1: the
// first value is used if duplicated, and an invalid or negative value is
// ignored entirely rather than rejecting the response.
func parseAgeHeader(header http.Header) (time.Duration, bool) {
	values := header.Values("Age")
	if len(values) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(values[0]), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// CurrentAge implements the RFC 9111 §4.2.3 age calculation. requestTime and
// responseTime are the proxy's own clock readings around the origin round
// trip that produced resp; for an entry read back from storage, callers
// pass the timestamps recorded in the Entry instead. A response without a
// parsable Date header takes responseTime as its date value.
func CurrentAge(resp *Response, requestTime, responseTime, now time.Time) (time.Duration, error) {
	dateValue, err := ParseDate(resp.Header)
	if err != nil {
		dateValue = responseTime
	}

	apparentAge := time.Duration(0)
	if responseTime.After(dateValue) {
		apparentAge = responseTime.Sub(dateValue)
	}

	ageValue, _ := parseAgeHeader(resp.Header)

	responseDelay := time.Duration(0)
	if responseTime.After(requestTime) {
		responseDelay = responseTime.Sub(requestTime)
	}
	correctedAgeValue := ageValue + responseDelay

	correctedInitialAge := apparentAge
	if correctedAgeValue > correctedInitialAge {
		correctedInitialAge = correctedAgeValue
	}

	residentTime := time.Duration(0)
	if now.After(responseTime) {
		residentTime = now.Sub(responseTime)
	}

	return correctedInitialAge + residentTime, nil
}

// FormatAge renders age as an Age header value in whole seconds.
func FormatAge(age time.Duration) string {
	seconds := int64(age.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	return strconv.FormatInt(seconds, 10)
}
