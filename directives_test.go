package rfccache_test

import (
	"net/http"
	"testing"

	"github.com/sandrolain/rfccache"
)

func TestParseCacheControlParsesValuedAndValuelessDirectives(t *testing.T) {
	cc := rfccache.ParseCacheControl(http.Header{"Cache-Control": {"max-age=120, no-transform"}})
	if secs, ok := cc.Seconds("max-age"); !ok || secs != 120 {
		t.Fatalf("expected max-age=120, got %d (ok=%v)", secs, ok)
	}
	if !cc.Has("no-transform") {
		t.Fatalf("expected no-transform to be present")
	}
}

func TestParseCacheControlFirstDuplicateWins(t *testing.T) {
	cc := rfccache.ParseCacheControl(http.Header{"Cache-Control": {"max-age=60, max-age=120"}})
	if secs, _ := cc.Seconds("max-age"); secs != 60 {
		t.Fatalf("expected the first max-age value to win, got %d", secs)
	}
}

func TestParseCacheControlPublicPrivateConflictPrefersPrivate(t *testing.T) {
	cc := rfccache.ParseCacheControl(http.Header{"Cache-Control": {"public, private"}})
	if cc.Has("public") {
		t.Fatalf("expected public to be dropped in favor of private")
	}
	if !cc.Has("private") {
		t.Fatalf("expected private to remain")
	}
}

func TestParseCacheControlInvalidMaxAgeIsDropped(t *testing.T) {
	cc := rfccache.ParseCacheControl(http.Header{"Cache-Control": {"max-age=not-a-number"}})
	if cc.Has("max-age") {
		t.Fatalf("expected an unparsable max-age to be dropped entirely")
	}
}

func TestParseCacheControlNegativeMaxAgeClampsToZero(t *testing.T) {
	cc := rfccache.ParseCacheControl(http.Header{"Cache-Control": {"max-age=-5"}})
	secs, ok := cc.Seconds("max-age")
	if !ok || secs != 0 {
		t.Fatalf("expected negative max-age to clamp to 0, got %d (ok=%v)", secs, ok)
	}
}
