package quota

// Evaluator answers limit questions against a Registry. Identifiers that
// do not resolve to a tier are denied every action and have no quota left.
type Evaluator struct {
	registry *Registry
}

// NewEvaluator creates an evaluator over registry
func NewEvaluator(registry *Registry) *Evaluator {
	return &Evaluator{registry: registry}
}

// Registry returns the registry the evaluator reads from
func (e *Evaluator) Registry() *Registry {
	return e.registry
}

// HasExceededLimit returns true if usage has reached the tier's limit for action
func (e *Evaluator) HasExceededLimit(tierID string, usage Usage, action ActionType) bool {
	t, ok := e.registry.Lookup(tierID).Tier()
	if !ok {
		return true
	}
	return t.HasExceeded(usage, action)
}

// GetRemainingQuota returns the quota left per action
func (e *Evaluator) GetRemainingQuota(tierID string, usage Usage) Remaining {
	t, ok := e.registry.Lookup(tierID).Tier()
	if !ok {
		return Remaining{}
	}
	return t.Remaining(usage)
}

// LimitFor returns the allowance of action in tierID, or an
// *UnknownTierError
func (e *Evaluator) LimitFor(tierID string, action ActionType, isFirstMonth bool) (int, error) {
	t, err := e.registry.GetTier(tierID)
	if err != nil {
		return 0, err
	}
	return t.LimitFor(action, isFirstMonth), nil
}
