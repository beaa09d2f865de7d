// Package alert watches plan-quota usage and raises notifications as
// tenants approach or exceed their limits, driving upgrade prompts
// before hard denials start.
package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/inmova/gatekeeper/internal/domain"
	"github.com/inmova/gatekeeper/internal/notifications"
)

// Level of a quota alert.
type Level string

const (
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
	LevelExceeded Level = "exceeded"
)

// Thresholds are usage ratios that trigger each level.
type Thresholds struct {
	Warning  float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.8, Critical: 0.95}
}

// Monitor turns quota-check results into deduplicated notifications.
// Its Observe method matches plan.Observer and is registered on the
// checker, so every admission-time quota check feeds it.
type Monitor struct {
	dedup      Deduplicator
	notifier   notifications.Notifier
	thresholds Thresholds
}

func NewMonitor(dedup Deduplicator, notifier notifications.Notifier, thresholds Thresholds) *Monitor {
	return &Monitor{
		dedup:      dedup,
		notifier:   notifier,
		thresholds: thresholds,
	}
}

// Observe inspects one quota-check result. Unlimited quotas and
// fail-open results (nil limit) never alert.
func (m *Monitor) Observe(ctx context.Context, tenantID string, rt domain.ResourceType, res domain.LimitCheckResult) {
	if res.Limit == nil || *res.Limit <= 0 {
		return
	}

	ratio := float64(res.Used) / float64(*res.Limit)

	var level Level
	switch {
	case ratio >= 1.0:
		level = LevelExceeded
	case ratio >= m.thresholds.Critical:
		level = LevelCritical
	case ratio >= m.thresholds.Warning:
		level = LevelWarning
	default:
		m.dedup.Clear(ctx, tenantID, string(rt))
		return
	}

	if !m.dedup.ShouldAlert(ctx, tenantID, string(rt), level) {
		return
	}

	notification := notifications.Notification{
		Type:     notificationType(level),
		TenantID: tenantID,
		Message:  "plan quota " + string(level),
		Data: map[string]any{
			"resource":   string(rt),
			"used":       res.Used,
			"limit":      *res.Limit,
			"ratio":      ratio,
			"alerted_at": time.Now().UTC(),
		},
	}

	if err := m.notifier.Send(ctx, notification); err != nil {
		slog.Warn("failed to send quota alert",
			"tenant_id", tenantID,
			"resource", rt,
			"level", level,
			"error", err,
		)
		return
	}

	slog.Info("quota alert sent",
		"tenant_id", tenantID,
		"resource", rt,
		"level", level,
		"used", res.Used,
		"limit", *res.Limit,
	)
}

func notificationType(level Level) notifications.NotificationType {
	switch level {
	case LevelExceeded:
		return notifications.NotificationQuotaExceeded
	case LevelCritical:
		return notifications.NotificationQuotaCritical
	default:
		return notifications.NotificationQuotaWarning
	}
}
