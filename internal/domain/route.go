package domain

import "time"

// EscalationPolicy controls whether repeated same-signature LLM failures
// climb to the next profile in OrderedProfiles.
type EscalationPolicy string

const (
	EscalationUpgradeOnly EscalationPolicy = "upgrade_only"
	EscalationDisabled    EscalationPolicy = "disabled"
)

// LLMRoute is resolved once at run-start and held for the lifetime of one
// loop run; profile escalation mutates only the embedded profile index via
// the loop controller, never the chain itself.
type LLMRoute struct {
	Profile             string
	Provider            string
	LLMModel            string
	Role                string
	LLMTimeout          time.Duration
	LLMRetryMaxAttempts int
	LLMMaxRetryDelay    time.Duration
	OrderedProfiles      []string
	EscalationPolicy     EscalationPolicy
}

// NextProfile returns the profile one step up OrderedProfiles from the
// current one, and whether a next profile exists.
func (r LLMRoute) NextProfile() (string, bool) {
	for i, p := range r.OrderedProfiles {
		if p == r.Profile && i+1 < len(r.OrderedProfiles) {
			return r.OrderedProfiles[i+1], true
		}
	}
	return "", false
}
