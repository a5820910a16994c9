package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// tenantsFile is the on-disk layout of the standalone tenants file.
type tenantsFile struct {
	Tenants []TenantConfig `yaml:"tenants"`
}

// LoadTenantsFile reads a YAML file of the form
//
//	tenants:
//	  - did: "1001"
//	    name: Downtown Medical Center
//	    voice_id: Joanna
//	    engine: neural
//	    greeting: Hello, thank you for calling...
func LoadTenantsFile(path string) ([]TenantConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tenants file: %w", err)
	}

	var f tenantsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing tenants file: %w", err)
	}
	if len(f.Tenants) == 0 {
		return nil, fmt.Errorf("tenants file %s declares no tenants", path)
	}
	return f.Tenants, nil
}

// DefaultTenants is the built-in clinic table used when neither the config
// file nor a tenants file declares any tenants. The first entry is the
// default tenant.
func DefaultTenants() []TenantConfig {
	return []TenantConfig{
		{
			DID:      "1001",
			Name:     "Downtown Medical Center",
			VoiceID:  "Joanna",
			Engine:   "neural",
			Greeting: "Hello, thank you for calling Downtown Medical Center. How can I help you today?",
		},
		{
			DID:      "1002",
			Name:     "Westside Family Practice",
			VoiceID:  "Matthew",
			Engine:   "neural",
			Greeting: "Hi there! You've reached Westside Family Practice. How may I assist you today?",
		},
		{
			DID:      "1003",
			Name:     "Pediatric Care Clinic",
			VoiceID:  "Salli",
			Engine:   "neural",
			Greeting: "Welcome to Pediatric Care Clinic! We're here to help with your child's health needs.",
		},
	}
}
