// Package tenant maps dialed numbers to clinic profiles.
//
// The table is built once at startup and never mutated, so a single Resolver
// is shared by every in-flight interaction without locking.
package tenant

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nadzzz/voicedesk/internal/config"
)

// Profile is the read-only description of one clinic.
type Profile struct {
	Key      string `json:"did"`
	Name     string `json:"name"`
	Greeting string `json:"greeting,omitempty"`
	VoiceID  string `json:"voice_id"`
	Engine   string `json:"engine"`
}

// Resolver looks up tenant profiles by dialed number.
type Resolver struct {
	profiles map[string]Profile
	keys     []string // sorted by length desc, then lexically
	def      Profile
}

// New builds a resolver from configuration. defaultKey designates the
// fallback tenant; when empty, the first configured tenant is used.
func New(tenants []config.TenantConfig, defaultKey string) (*Resolver, error) {
	if len(tenants) == 0 {
		return nil, fmt.Errorf("no tenants configured")
	}

	r := &Resolver{profiles: make(map[string]Profile, len(tenants))}
	for _, t := range tenants {
		key := strings.TrimSpace(t.DID)
		if key == "" {
			return nil, fmt.Errorf("tenant %q has an empty did", t.Name)
		}
		if normalize(key) == "" {
			// An empty normalized key would match every dialed number.
			return nil, fmt.Errorf("tenant %q did %q has no letters or digits", t.Name, key)
		}
		if _, dup := r.profiles[key]; dup {
			return nil, fmt.Errorf("duplicate tenant did %q", key)
		}
		engine := t.Engine
		if engine == "" {
			engine = "neural"
		}
		r.profiles[key] = Profile{
			Key:      key,
			Name:     t.Name,
			Greeting: t.Greeting,
			VoiceID:  t.VoiceID,
			Engine:   engine,
		}
		r.keys = append(r.keys, key)
	}

	if defaultKey == "" {
		defaultKey = strings.TrimSpace(tenants[0].DID)
	}
	def, ok := r.profiles[defaultKey]
	if !ok {
		return nil, fmt.Errorf("default tenant %q is not configured", defaultKey)
	}
	r.def = def

	sort.Slice(r.keys, func(i, j int) bool {
		if len(r.keys[i]) != len(r.keys[j]) {
			return len(r.keys[i]) > len(r.keys[j])
		}
		return r.keys[i] < r.keys[j]
	})
	return r, nil
}

// Resolve returns the profile for a raw dialed number. The input may carry
// an international prefix or formatting ("+1 (555) 010-1002"); a known key
// that ends the number wins over one that merely appears inside it. Inputs
// matching nothing get the default profile.
func (r *Resolver) Resolve(did string) Profile {
	did = strings.TrimSpace(did)
	if did == "" {
		return r.def
	}
	if p, ok := r.profiles[did]; ok {
		return p
	}

	digits := normalize(did)
	for _, k := range r.keys {
		if strings.HasSuffix(digits, normalize(k)) {
			return r.profiles[k]
		}
	}
	for _, k := range r.keys {
		if strings.Contains(digits, normalize(k)) {
			return r.profiles[k]
		}
	}
	return r.def
}

// Lookup returns the profile for an exact key.
func (r *Resolver) Lookup(key string) (Profile, bool) {
	p, ok := r.profiles[key]
	return p, ok
}

// Default returns the fallback profile.
func (r *Resolver) Default() Profile { return r.def }

// Profiles returns every profile ordered by key.
func (r *Resolver) Profiles() []Profile {
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// normalize strips everything but letters and digits so "+1-555-010-1002"
// and "15550101002" compare equal.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			b.WriteRune(c)
		}
	}
	return b.String()
}
