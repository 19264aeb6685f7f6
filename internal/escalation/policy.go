package escalation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/projectpulse/pulse/internal/types"
)

// Tier describes one rung of the escalation chain. Adding a role is a
// data change: append a Tier, no code changes needed.
type Tier struct {
	Role        types.Role `yaml:"role"`
	Warning     float64    `yaml:"warning"`
	Danger      float64    `yaml:"danger"`
	EscalatesTo types.Role `yaml:"escalates_to"` // empty = terminal
	MetricType  string     `yaml:"metric_type"`
	// Inverse means the stored metric measures performance, so risk is
	// derived as 100 - value.
	Inverse bool `yaml:"inverse"`
}

// Policy is the ordered set of tiers the engine sweeps.
type Policy struct {
	Tiers []Tier `yaml:"tiers"`
}

// DefaultPolicy is the built-in escalation chain:
// developer → team_leader → manager → hr; hr and admin are terminal.
func DefaultPolicy() Policy {
	return Policy{Tiers: []Tier{
		{Role: types.RoleDeveloper, Warning: 40, Danger: 60, EscalatesTo: types.RoleTeamLeader, MetricType: "developer_performance", Inverse: true},
		{Role: types.RoleTeamLeader, Warning: 45, Danger: 65, EscalatesTo: types.RoleManager, MetricType: "team_performance", Inverse: true},
		{Role: types.RoleManager, Warning: 50, Danger: 70, EscalatesTo: types.RoleHR, MetricType: "risk_score"},
		{Role: types.RoleHR, Warning: 60, Danger: 75, MetricType: "risk_score"},
		{Role: types.RoleAdmin, Warning: 60, Danger: 75, MetricType: "risk_score"},
	}}
}

// TierFor returns the tier for role. Unknown roles get the developer
// tier, the most conservative one.
func (p Policy) TierFor(role types.Role) Tier {
	for _, t := range p.Tiers {
		if t.Role == role {
			return t
		}
	}
	return p.Tiers[0]
}

// LoadPolicy reads a YAML policy file and validates it. Tiers omitted
// from the file keep their defaults; a file that redefines a role
// replaces that tier wholesale.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}

	var loaded Policy
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}

	policy := DefaultPolicy()
	for _, t := range loaded.Tiers {
		if t.Role == "" {
			return Policy{}, fmt.Errorf("policy tier missing role")
		}
		if t.Warning > t.Danger {
			return Policy{}, fmt.Errorf("policy tier %s: warning %v above danger %v", t.Role, t.Warning, t.Danger)
		}
		replaced := false
		for i := range policy.Tiers {
			if policy.Tiers[i].Role == t.Role {
				policy.Tiers[i] = t
				replaced = true
				break
			}
		}
		if !replaced {
			policy.Tiers = append(policy.Tiers, t)
		}
	}
	return policy, nil
}
