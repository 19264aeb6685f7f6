// Package escalation implements the multi-tier risk escalation chain.
//
// Risk scores are read from stored metrics (computed elsewhere); the
// engine only classifies them against per-role thresholds and walks the
// chain upward, notifying the next tier and recording an append-only
// audit event for every escalation it fires.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/projectpulse/pulse/internal/storage"
	"github.com/projectpulse/pulse/internal/telemetry"
	"github.com/projectpulse/pulse/internal/types"
)

// RiskLevel classifies a score against a role's thresholds.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskWarning
	RiskDanger
)

func (r RiskLevel) String() string {
	switch r {
	case RiskWarning:
		return "warning"
	case RiskDanger:
		return "danger"
	default:
		return "safe"
	}
}

// fallbackTargets caps how many next-tier users are notified when the
// source user has no usable reports-to relation.
const fallbackTargets = 3

// riskMetricType is the stored metric carrying a project's risk score.
const riskMetricType = "risk_score"

// Notifier delivers a notification. *notify.Dispatcher satisfies it.
type Notifier interface {
	Notify(ctx context.Context, n *types.Notification)
}

// ProjectAlerter raises project-level risk alerts. *notify.Dispatcher
// satisfies it; the check sweep feeds it when the notifier supports it.
type ProjectAlerter interface {
	AlertProjectRisk(ctx context.Context, project *types.Project, score float64)
}

// Engine walks role populations and fires threshold-triggered
// escalations up the chain.
type Engine struct {
	store    storage.Storage
	notifier Notifier
	policy   Policy
	logger   *slog.Logger
}

// NewEngine creates an engine with the given policy.
func NewEngine(store storage.Storage, notifier Notifier, policy Policy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if len(policy.Tiers) == 0 {
		policy = DefaultPolicy()
	}
	return &Engine{store: store, notifier: notifier, policy: policy, logger: logger}
}

// ClassifyRisk is a pure threshold lookup. Both boundaries are strict:
// a score exactly at the danger threshold is still warning, matching the
// escalation trigger (which fires only above danger).
func (e *Engine) ClassifyRisk(score float64, role types.Role) RiskLevel {
	tier := e.policy.TierFor(role)
	switch {
	case score > tier.Danger:
		return RiskDanger
	case score > tier.Warning:
		return RiskWarning
	default:
		return RiskSafe
	}
}

// Escalate fires one escalation for user if score strictly exceeds the
// role's danger threshold. It returns the recorded event, or nil when no
// escalation was warranted (terminal tier, score not above danger, or no
// reachable targets).
func (e *Engine) Escalate(ctx context.Context, user *types.User, score float64) (*types.EscalationEvent, error) {
	tier := e.policy.TierFor(user.Role)
	if tier.EscalatesTo == "" || score <= tier.Danger {
		return nil, nil
	}

	targets, err := e.resolveTargets(ctx, user, tier.EscalatesTo)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		e.logger.Warn("escalation has no reachable targets",
			"user_id", user.ID, "role", user.Role, "next_tier", tier.EscalatesTo)
		return nil, nil
	}

	targetIDs := make([]string, 0, len(targets))
	for _, t := range targets {
		targetIDs = append(targetIDs, t.ID)
		e.notifier.Notify(ctx, &types.Notification{
			ID:     uuid.NewString(),
			UserID: t.ID,
			Title:  fmt.Sprintf("Risk alert: %s", user.Name),
			Message: fmt.Sprintf("%s's risk score is %.0f%%, above the %s danger threshold (%.0f%%). Review recommended.",
				user.Name, score, user.Role, tier.Danger),
			Severity: types.SeverityWarning,
			Link:     "/users/" + user.ID,
		})
	}

	event := &types.EscalationEvent{
		ID:           uuid.NewString(),
		SourceUserID: user.ID,
		SourceRole:   user.Role,
		RiskScore:    score,
		EscalatedTo:  targetIDs,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.store.AppendEscalationEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("record escalation: %w", err)
	}

	telemetry.RecordEscalation(ctx)
	e.logger.Info("escalation fired",
		"user_id", user.ID,
		"role", user.Role,
		"risk_score", score,
		"targets", len(targetIDs))
	return event, nil
}

// resolveTargets prefers the user's direct reports-to superior when that
// user is active and holds the next-tier role; otherwise it falls back
// to up to three active users holding the next-tier role.
func (e *Engine) resolveTargets(ctx context.Context, user *types.User, nextTier types.Role) ([]*types.User, error) {
	if user.ReportsTo != "" {
		superior, err := e.store.GetUser(ctx, user.ReportsTo)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("resolve superior: %w", err)
		}
		if superior != nil && superior.IsActive && superior.Role == nextTier {
			return []*types.User{superior}, nil
		}
	}

	candidates, err := e.store.ListActiveUsersByRole(ctx, nextTier)
	if err != nil {
		return nil, fmt.Errorf("resolve fallback targets: %w", err)
	}
	if len(candidates) > fallbackTargets {
		candidates = candidates[:fallbackTargets]
	}
	return candidates, nil
}

// RunEscalationCheck sweeps every non-terminal tier: for each active
// user it reads the most recent metric of the tier's type, derives a
// risk score, and escalates when warranted. Each user is independent;
// one user's failure never aborts the sweep.
func (e *Engine) RunEscalationCheck(ctx context.Context) error {
	e.logger.Info("running escalation check")
	fired := 0

	for _, tier := range e.policy.Tiers {
		if tier.EscalatesTo == "" {
			continue
		}
		users, err := e.store.ListActiveUsersByRole(ctx, tier.Role)
		if err != nil {
			return fmt.Errorf("list %s users: %w", tier.Role, err)
		}
		for _, user := range users {
			if err := ctx.Err(); err != nil {
				return err
			}
			metric, err := e.store.LatestMetric(ctx, user.ID, tier.MetricType)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				e.logger.Warn("metric lookup failed", "user_id", user.ID, "error", err)
				continue
			}

			risk := metric.Value
			if tier.Inverse {
				risk = 100 - metric.Value
			}

			event, err := e.Escalate(ctx, user, risk)
			if err != nil {
				e.logger.Error("escalation failed", "user_id", user.ID, "error", err)
				continue
			}
			if event != nil {
				fired++
			}
		}
	}

	e.alertProjectRisk(ctx)

	e.logger.Info("escalation check complete", "fired", fired)
	return nil
}

// alertProjectRisk forwards each syncable project's most recent risk
// score to the notifier. Thresholding lives in the alerter; projects
// without a stored risk score are skipped.
func (e *Engine) alertProjectRisk(ctx context.Context) {
	alerter, ok := e.notifier.(ProjectAlerter)
	if !ok {
		return
	}
	projects, err := e.store.ListSyncableProjects(ctx)
	if err != nil {
		e.logger.Warn("project risk sweep failed", "error", err)
		return
	}
	for _, p := range projects {
		metric, err := e.store.LatestProjectMetric(ctx, p.ID, riskMetricType)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			e.logger.Warn("project metric lookup failed", "project_id", p.ID, "error", err)
			continue
		}
		alerter.AlertProjectRisk(ctx, p, metric.Value)
	}
}
