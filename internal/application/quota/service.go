package quota

import (
	"context"
	"errors"
	"strings"

	"github.com/larklabs/backend/internal/domain/quota"
	"github.com/larklabs/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// MetricsRecorder receives quota decisions. Implementations must be safe
// for concurrent use.
type MetricsRecorder interface {
	RecordConsume(ctx context.Context, action quota.ActionType, allowed bool)
	RecordRollover(ctx context.Context, resets int)
}

type noopMetrics struct{}

func (noopMetrics) RecordConsume(context.Context, quota.ActionType, bool) {}
func (noopMetrics) RecordRollover(context.Context, int) {}

// Option configures a QuotaService
type Option func(*QuotaService)

// WithClock overrides the system clock
func WithClock(c quota.Clock) Option {
	return func(s *QuotaService) {
		s.resets = quota.NewResetClock(c)
	}
}

// WithMetrics attaches a metrics recorder
func WithMetrics(m MetricsRecorder) Option {
	return func(s *QuotaService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// QuotaService enforces tier limits on subscriber usage
type QuotaService struct {
	registry  *quota.Registry
	evaluator *quota.Evaluator
	store     quota.UsageStore
	resets    *quota.ResetClock
	metrics   MetricsRecorder
	logger    *zap.Logger
}

// NewQuotaService creates a new QuotaService
func NewQuotaService(
	registry *quota.Registry,
	store quota.UsageStore,
	logger *zap.Logger,
	opts ...Option,
) *QuotaService {
	s := &QuotaService{
		registry:  registry,
		evaluator: quota.NewEvaluator(registry),
		store:     store,
		resets:    quota.NewResetClock(nil),
		metrics:   noopMetrics{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tiers returns the registered tiers ordered by price
func (s *QuotaService) Tiers() []quota.Tier {
	return s.registry.Tiers()
}

// GetTier returns the tier or an *quota.UnknownTierError
func (s *QuotaService) GetTier(id string) (quota.Tier, error) {
	return s.registry.GetTier(id)
}

// RegisterSubscriber creates the usage record of a new subscriber
func (s *QuotaService) RegisterSubscriber(ctx context.Context, input RegisterSubscriberInput) (*UsageSummaryDTO, error) {
	tier, err := s.registry.GetTier(input.TierID)
	if err != nil {
		return nil, err
	}

	start := s.resets.Now()
	if input.SubscriptionStartDate != nil {
		start = *input.SubscriptionStartDate
	}

	record, err := quota.NewUsageRecord(input.SubscriberID, tier.ID, start)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, record); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return nil, shared.NewDomainError("ALREADY_EXISTS", "Subscriber is already registered")
		}
		s.logger.Error("Failed to create usage record",
			zap.String("subscriber_id", record.SubscriberID),
			zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to register subscriber")
	}

	s.logger.Info("Subscriber registered",
		zap.String("subscriber_id", record.SubscriberID),
		zap.String("tier_id", tier.ID),
		zap.Time("subscription_start", start))

	return s.summarize(record), nil
}

// CheckAction reports whether the subscriber could perform action now.
// It does not change any counter.
func (s *QuotaService) CheckAction(ctx context.Context, subscriberID string, action quota.ActionType) (*QuotaCheckResult, error) {
	record, err := s.loadRecord(ctx, subscriberID, action)
	if err != nil {
		return nil, err
	}

	result, tier, ok := s.resolve(record, action)
	if !ok {
		return result, nil
	}

	usage := record.Usage(result.IsFirstMonth)
	result.Allowed = !tier.HasExceeded(usage, action)
	if !result.Allowed {
		result.Error = NewQuotaExceededError(action, result.Used, result.Limit)
	}
	return result, nil
}

// TryConsume atomically checks and records one use of action. A denied
// result carries a *QuotaExceededError and leaves the counter unchanged.
func (s *QuotaService) TryConsume(ctx context.Context, subscriberID string, action quota.ActionType) (*QuotaCheckResult, error) {
	record, err := s.loadRecord(ctx, subscriberID, action)
	if err != nil {
		return nil, err
	}

	result, _, ok := s.resolve(record, action)
	if !ok {
		s.metrics.RecordConsume(ctx, action, false)
		return result, nil
	}

	res, err := s.store.TryConsume(ctx, record.SubscriberID, action, result.Limit)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NewDomainError("NOT_FOUND", "Subscriber not found")
		}
		s.logger.Error("Failed to consume quota",
			zap.String("subscriber_id", record.SubscriberID),
			zap.String("action", action.String()),
			zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to consume quota")
	}

	result.Allowed = res.Allowed
	result.Used = res.Used
	result.Remaining = max(0, result.Limit-res.Used)
	s.metrics.RecordConsume(ctx, action, res.Allowed)

	if !res.Allowed {
		result.Error = NewQuotaExceededError(action, res.Used, result.Limit)
		s.logger.Info("Quota exceeded, blocking action",
			zap.String("subscriber_id", record.SubscriberID),
			zap.String("tier_id", result.TierID),
			zap.String("action", action.String()),
			zap.Int("used", res.Used),
			zap.Int("limit", result.Limit))
	}
	return result, nil
}

// GetUsageSummary returns counters, limits and reset timing of a subscriber
func (s *QuotaService) GetUsageSummary(ctx context.Context, subscriberID string) (*UsageSummaryDTO, error) {
	record, err := s.getRecord(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	return s.summarize(record), nil
}

// ChangeTier moves a subscriber to another tier. Counters are kept.
func (s *QuotaService) ChangeTier(ctx context.Context, subscriberID, tierID string) (*UsageSummaryDTO, error) {
	tier, err := s.registry.GetTier(tierID)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(subscriberID)
	if err := s.store.UpdateTier(ctx, id, tier.ID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NewDomainError("NOT_FOUND", "Subscriber not found")
		}
		s.logger.Error("Failed to change tier",
			zap.String("subscriber_id", id),
			zap.String("tier_id", tier.ID),
			zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to change tier")
	}

	s.logger.Info("Subscriber tier changed",
		zap.String("subscriber_id", id),
		zap.String("tier_id", tier.ID))

	return s.GetUsageSummary(ctx, id)
}

// RolloverDue zeroes the counters of every subscriber whose billing cycle
// ended at or before now, and returns how many records were reset. A record
// whose cycle moved since it was listed is skipped, so several instances
// may sweep at once. Failures on individual records do not stop the sweep.
func (s *QuotaService) RolloverDue(ctx context.Context) (int, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}

	now := s.resets.Now()
	var (
		reset int
		errs  []error
	)
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		cycleStart, skipped := quota.CycleResetsDue(r.SubscriptionStartDate, r.CycleStartedAt, now)
		if skipped == 0 {
			continue
		}
		ok, err := s.store.ResetCycle(ctx, r.SubscriberID, r.CycleStartedAt, cycleStart)
		if err != nil {
			s.logger.Warn("Failed to reset usage cycle",
				zap.String("subscriber_id", r.SubscriberID),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if !ok {
			s.logger.Debug("Usage cycle already rolled over",
				zap.String("subscriber_id", r.SubscriberID))
			continue
		}
		reset++
		s.logger.Debug("Usage cycle reset",
			zap.String("subscriber_id", r.SubscriberID),
			zap.Time("cycle_started_at", cycleStart),
			zap.Int("cycles_elapsed", skipped))
	}

	s.metrics.RecordRollover(ctx, reset)
	if reset > 0 {
		s.logger.Info("Usage rollover completed", zap.Int("reset", reset), zap.Int("scanned", len(records)))
	}
	return reset, errors.Join(errs...)
}

func (s *QuotaService) getRecord(ctx context.Context, subscriberID string) (*quota.UsageRecord, error) {
	id := strings.TrimSpace(subscriberID)
	if id == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "Subscriber ID cannot be empty")
	}
	record, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NewDomainError("NOT_FOUND", "Subscriber not found")
		}
		s.logger.Error("Failed to load usage record",
			zap.String("subscriber_id", id),
			zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to load usage")
	}
	if err := record.Validate(); err != nil {
		s.logger.Warn("Stored usage record is invalid",
			zap.String("subscriber_id", id),
			zap.Error(err))
		return nil, err
	}
	return record, nil
}

func (s *QuotaService) loadRecord(ctx context.Context, subscriberID string, action quota.ActionType) (*quota.UsageRecord, error) {
	if !action.IsValid() {
		return nil, shared.NewDomainError("INVALID_ACTION", "Invalid action type")
	}
	return s.getRecord(ctx, subscriberID)
}

// resolve fills the parts of a check result that come from the tier. When
// the tier is unknown the result is a denial with no quota and ok is false.
func (s *QuotaService) resolve(record *quota.UsageRecord, action quota.ActionType) (*QuotaCheckResult, quota.Tier, bool) {
	isFirstMonth := s.resets.IsFirstMonth(record.SubscriptionStartDate)
	result := &QuotaCheckResult{
		SubscriberID: record.SubscriberID,
		TierID:       record.TierID,
		Action:       action,
		Used:         record.Count(action),
		IsFirstMonth: isFirstMonth,
	}

	tier, ok := s.registry.Lookup(record.TierID).Tier()
	if !ok {
		s.logger.Warn("Usage record references unknown tier, denying",
			zap.String("subscriber_id", record.SubscriberID),
			zap.String("tier_id", record.TierID))
		result.UnknownTier = true
		result.Error = NewQuotaExceededError(action, result.Used, 0)
		return result, quota.Tier{}, false
	}

	result.Limit = tier.LimitFor(action, isFirstMonth)
	result.Remaining = s.evaluator.GetRemainingQuota(tier.ID, record.Usage(isFirstMonth)).For(action)
	return result, tier, true
}

func (s *QuotaService) summarize(r *quota.UsageRecord) *UsageSummaryDTO {
	isFirstMonth := s.resets.IsFirstMonth(r.SubscriptionStartDate)
	usage := r.Usage(isFirstMonth)
	nextReset := quota.NextBillingDateFrom(r.SubscriptionStartDate, r.CycleStartedAt)

	dto := &UsageSummaryDTO{
		SubscriberID: r.SubscriberID,
		TierID:       r.TierID,
		IsFirstMonth: isFirstMonth,
		Usage: UsageCountsDTO{
			TextQueries:      r.TextQueries,
			PhotoAnalysis:    r.PhotoAnalysis,
			ExplainerQueries: r.ExplainerQueries,
		},
		SubscriptionStartDate: r.SubscriptionStartDate,
		CycleStartedAt:        r.CycleStartedAt,
		NextResetAt:           nextReset,
		DaysUntilReset:        s.resets.DaysUntil(nextReset),
	}

	tier, ok := s.registry.Lookup(r.TierID).Tier()
	if !ok {
		dto.UnknownTier = true
		return dto
	}

	rem := s.evaluator.GetRemainingQuota(tier.ID, usage)
	dto.TierName = tier.Name
	dto.Limits = UsageCountsDTO{
		TextQueries:      tier.Limits.TextQueries,
		PhotoAnalysis:    rem.PhotoLimit,
		ExplainerQueries: tier.Limits.ExplainerQueries,
	}
	dto.Remaining = RemainingDTO{
		TextQueries:      rem.TextQueries,
		PhotoAnalysis:    rem.PhotoAnalysis,
		ExplainerQueries: rem.ExplainerQueries,
		PhotoLimit:       rem.PhotoLimit,
	}
	return dto
}
