package models

import (
	"fmt"
	"strings"
)

// Audience is the user type a subscription is bought for.
type Audience string

const (
	AudienceOwner  Audience = "owner"
	AudienceTenant Audience = "tenant"
)

// PlanAudience is the audience a plan is sold to. Unlike Audience it has a
// third value that matches both user types.
type PlanAudience string

const (
	PlanAudienceOwner  PlanAudience = "owner"
	PlanAudienceTenant PlanAudience = "tenant"
	PlanAudienceBoth   PlanAudience = "both"
)

// ParseAudience normalizes a raw audience string. Unknown values are an error.
func ParseAudience(raw string) (Audience, error) {
	switch a := Audience(strings.ToLower(strings.TrimSpace(raw))); a {
	case AudienceOwner, AudienceTenant:
		return a, nil
	default:
		return "", fmt.Errorf("unknown audience %q", raw)
	}
}

// ParsePlanAudience normalizes a raw plan audience string.
func ParsePlanAudience(raw string) (PlanAudience, error) {
	switch a := PlanAudience(strings.ToLower(strings.TrimSpace(raw))); a {
	case PlanAudienceOwner, PlanAudienceTenant, PlanAudienceBoth:
		return a, nil
	default:
		return "", fmt.Errorf("unknown plan audience %q", raw)
	}
}

// CanBuy reports whether a user of this audience may purchase a plan sold to pa.
func (a Audience) CanBuy(pa PlanAudience) bool {
	switch a {
	case AudienceOwner:
		return pa == PlanAudienceOwner || pa == PlanAudienceBoth
	case AudienceTenant:
		return pa == PlanAudienceTenant || pa == PlanAudienceBoth
	default:
		return false
	}
}

// CatalogAudiences returns the plan audiences visible to a user of audience a.
func (a Audience) CatalogAudiences() []PlanAudience {
	switch a {
	case AudienceOwner:
		return []PlanAudience{PlanAudienceOwner, PlanAudienceBoth}
	case AudienceTenant:
		return []PlanAudience{PlanAudienceTenant, PlanAudienceBoth}
	default:
		return nil
	}
}
