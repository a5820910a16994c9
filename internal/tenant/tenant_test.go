package tenant

import (
	"testing"

	"github.com/nadzzz/voicedesk/internal/config"
)

func newDefaultResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := New(config.DefaultTenants(), "")
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r
}

func TestResolveKnownKeys(t *testing.T) {
	r := newDefaultResolver(t)

	want := map[string]string{
		"1001": "Downtown Medical Center",
		"1002": "Westside Family Practice",
		"1003": "Pediatric Care Clinic",
	}
	for key, name := range want {
		p := r.Resolve(key)
		if p.Key != key || p.Name != name {
			t.Fatalf("resolve %s: got %+v", key, p)
		}
	}
	if got := r.Resolve("1002").VoiceID; got != "Matthew" {
		t.Fatalf("expected Matthew voice, got %q", got)
	}
}

func TestResolveDialedNumberNoise(t *testing.T) {
	r := newDefaultResolver(t)

	cases := map[string]string{
		"+1 (555) 010-1003": "1003",
		"+15550101002":      "1002",
		"tel:1003;ext=9":    "1003",
		" 1001 ":            "1001",
	}
	for in, key := range cases {
		if got := r.Resolve(in).Key; got != key {
			t.Fatalf("resolve %q: got %s, want %s", in, got, key)
		}
	}
}

func TestResolveUnknownFallsBackToDefault(t *testing.T) {
	r := newDefaultResolver(t)

	for _, in := range []string{"", "9999", "+44 20 7946 0000", "abc"} {
		if got := r.Resolve(in).Key; got != "1001" {
			t.Fatalf("resolve %q: expected default 1001, got %s", in, got)
		}
	}
}

func TestResolveExplicitDefault(t *testing.T) {
	r, err := New(config.DefaultTenants(), "1003")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := r.Resolve("unknown").Name; got != "Pediatric Care Clinic" {
		t.Fatalf("unexpected default: %s", got)
	}
	if r.Default().Key != "1003" {
		t.Fatalf("unexpected default key: %s", r.Default().Key)
	}
}

func TestResolvePrefersSuffixAndLongestKey(t *testing.T) {
	r, err := New([]config.TenantConfig{
		{DID: "12", Name: "short"},
		{DID: "3412", Name: "long"},
		{DID: "99", Name: "inner"},
	}, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := r.Resolve("+1 555 3412").Name; got != "long" {
		t.Fatalf("expected longest suffix match, got %s", got)
	}
	// "99" only appears inside the number, "12" ends it.
	if got := r.Resolve("5599012").Name; got != "short" {
		t.Fatalf("expected suffix match to win over substring, got %s", got)
	}
	if got := r.Resolve("5599000").Name; got != "inner" {
		t.Fatalf("expected substring match, got %s", got)
	}
}

func TestResolveIsOrderIndependent(t *testing.T) {
	a, _ := New([]config.TenantConfig{{DID: "1001"}, {DID: "01"}}, "1001")
	b, _ := New([]config.TenantConfig{{DID: "01"}, {DID: "1001"}}, "1001")

	for _, in := range []string{"5551001", "x01x", "none"} {
		if a.Resolve(in).Key != b.Resolve(in).Key {
			t.Fatalf("resolution of %q depends on config order", in)
		}
	}
}

func TestNewRejectsBadTables(t *testing.T) {
	if _, err := New(nil, ""); err == nil {
		t.Fatalf("expected error for empty table")
	}
	if _, err := New([]config.TenantConfig{{DID: "1"}, {DID: "1"}}, ""); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if _, err := New([]config.TenantConfig{{DID: "1"}}, "2"); err == nil {
		t.Fatalf("expected unknown default error")
	}
}

func TestNewRejectsKeysWithoutDigits(t *testing.T) {
	tenants := append(config.DefaultTenants(), config.TenantConfig{DID: "+", Name: "Catch-all"})
	if _, err := New(tenants, ""); err == nil {
		t.Fatalf("a did with no letters or digits would match every number")
	}
	if _, err := New([]config.TenantConfig{{DID: "(-)", Name: "x"}}, ""); err == nil {
		t.Fatalf("expected punctuation-only did to be rejected")
	}
}

func TestProfilesSortedAndEngineDefaulted(t *testing.T) {
	r, err := New([]config.TenantConfig{{DID: "b"}, {DID: "a", Engine: "standard"}}, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ps := r.Profiles()
	if len(ps) != 2 || ps[0].Key != "a" || ps[1].Key != "b" {
		t.Fatalf("unexpected order: %+v", ps)
	}
	if ps[0].Engine != "standard" || ps[1].Engine != "neural" {
		t.Fatalf("unexpected engines: %+v", ps)
	}
	if _, ok := r.Lookup("zz"); ok {
		t.Fatalf("expected lookup miss")
	}
}
