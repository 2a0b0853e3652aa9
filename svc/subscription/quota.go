package subscription

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/estatecrm/pkg/logger"
)

const bytesPerGB int64 = 1 << 30

var resourceUnits = map[Resource]string{
	ResourceAgents:  "agents",
	ResourceLeads:   "leads per month",
	ResourceStorage: "GB of storage",
}

var resourceLabels = map[Resource]string{
	ResourceAgents:  "Agent",
	ResourceLeads:   "Lead",
	ResourceStorage: "Storage",
}

func (s *service) CanAddAgent(ctx context.Context, tenantID uuid.UUID) Decision {
	return s.Check(ctx, tenantID, ResourceAgents, 1)
}

func (s *service) CanAddLead(ctx context.Context, tenantID uuid.UUID) Decision {
	return s.Check(ctx, tenantID, ResourceLeads, 1)
}

// CanUploadFile compares projected usage (stored plus incoming) against the plan.
func (s *service) CanUploadFile(ctx context.Context, tenantID uuid.UUID, sizeBytes int64) Decision {
	return s.Check(ctx, tenantID, ResourceStorage, max(sizeBytes, 0))
}

// Check allows iff usage + increment fits the plan limit. For storage both
// usage and increment are bytes.
func (s *service) Check(ctx context.Context, tenantID uuid.UUID, res Resource, increment int64) Decision {
	sub, err := s.GetActiveSubscription(ctx, tenantID)
	if errors.Is(err, ErrNoActiveSubscription) {
		return Decision{Allowed: false, Reason: "no active subscription"}
	}
	if err != nil {
		return s.onQuotaError(ctx, tenantID, res, err)
	}

	plan, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return s.onQuotaError(ctx, tenantID, res, err)
	}

	limit := plan.Limit(res)
	if limit == Unlimited {
		return Decision{Allowed: true}
	}

	counter, ok := s.counters[res]
	if !ok {
		return s.onQuotaError(ctx, tenantID, res, ErrNoCounterRegistered)
	}
	used, err := counter(ctx, tenantID, s.now())
	if err != nil {
		return s.onQuotaError(ctx, tenantID, res, err)
	}

	capacity := limit
	if res == ResourceStorage {
		capacity = limit * bytesPerGB
	}
	if used+increment <= capacity {
		return Decision{Allowed: true}
	}

	return Decision{
		Allowed: false,
		Reason:  s.printer.Sprintf("%s limit reached: the %s plan allows %d %s", resourceLabels[res], plan.Name, limit, resourceUnits[res]),
	}
}

func (s *service) onQuotaError(ctx context.Context, tenantID uuid.UUID, res Resource, err error) Decision {
	s.log.ErrorContext(ctx, "quota check failed",
		logger.TenantID(tenantID),
		slog.String("resource", string(res)),
		slog.String("policy", s.policy.String()),
		logger.Error(err),
	)
	if s.policy == FailClosed {
		return Decision{Allowed: false, Reason: "usage could not be verified, try again later"}
	}
	return Decision{Allowed: true}
}

// ResourceUsage is current usage against the plan limit.
type ResourceUsage struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"` // -1 means unlimited
}

// UsageSummary is a tenant's plan and usage across all gated resources.
type UsageSummary struct {
	SubscriptionID uuid.UUID                  `json:"subscription_id"`
	PlanID         string                     `json:"plan_id"`
	PlanName       string                     `json:"plan_name"`
	Resources      map[Resource]ResourceUsage `json:"resources"`
}

// UsageSummary reports usage per resource. Storage is reported in whole GB
// rounded up. Counter failures are returned, unlike quota checks.
func (s *service) UsageSummary(ctx context.Context, tenantID uuid.UUID) (*UsageSummary, error) {
	sub, err := s.GetActiveSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	plan, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	out := &UsageSummary{
		SubscriptionID: sub.ID,
		PlanID:         plan.ID,
		PlanName:       plan.Name,
		Resources:      make(map[Resource]ResourceUsage, 3),
	}
	now := s.now()
	for _, res := range []Resource{ResourceAgents, ResourceLeads, ResourceStorage} {
		u := ResourceUsage{Limit: plan.Limit(res)}
		if counter, ok := s.counters[res]; ok {
			used, err := counter(ctx, tenantID, now)
			if err != nil {
				return nil, err
			}
			if res == ResourceStorage {
				used = (used + bytesPerGB - 1) / bytesPerGB
			}
			u.Used = used
		}
		out.Resources[res] = u
	}
	return out, nil
}
