package escalation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectpulse/pulse/internal/types"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPolicyOverridesTier(t *testing.T) {
	path := writePolicy(t, `
tiers:
  - role: developer
    warning: 30
    danger: 50
    escalates_to: team_leader
    metric_type: developer_performance
    inverse: true
`)
	policy, err := LoadPolicy(path)
	require.NoError(t, err)

	dev := policy.TierFor(types.RoleDeveloper)
	assert.Equal(t, 30.0, dev.Warning)
	assert.Equal(t, 50.0, dev.Danger)
	assert.Equal(t, types.RoleTeamLeader, dev.EscalatesTo)

	// Unmentioned tiers keep their defaults.
	mgr := policy.TierFor(types.RoleManager)
	assert.Equal(t, 70.0, mgr.Danger)
	assert.Equal(t, types.RoleHR, mgr.EscalatesTo)
}

func TestLoadPolicyAddsTier(t *testing.T) {
	path := writePolicy(t, `
tiers:
  - role: stakeholder
    warning: 50
    danger: 70
    metric_type: risk_score
`)
	policy, err := LoadPolicy(path)
	require.NoError(t, err)

	tier := policy.TierFor(types.Role("stakeholder"))
	assert.Equal(t, types.Role("stakeholder"), tier.Role)
	assert.Equal(t, 70.0, tier.Danger)
	assert.Empty(t, tier.EscalatesTo)
}

func TestLoadPolicyRejectsInvertedThresholds(t *testing.T) {
	path := writePolicy(t, `
tiers:
  - role: developer
    warning: 80
    danger: 50
`)
	_, err := LoadPolicy(path)
	assert.Error(t, err)
}

func TestLoadPolicyMissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestTierForUnknownRoleUsesFirstTier(t *testing.T) {
	policy := DefaultPolicy()
	tier := policy.TierFor(types.Role("contractor"))
	assert.Equal(t, types.RoleDeveloper, tier.Role)
}
