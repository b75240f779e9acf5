package quota

import (
	"fmt"
	"strings"

	"github.com/larklabs/backend/internal/domain/shared"
)

// ActionType is a metered action a subscriber can perform
type ActionType string

const (
	// ActionTextQuery is a text question sent to the assistant
	ActionTextQuery ActionType = "text_query"

	// ActionPhotoAnalysis is an uploaded photo submitted for analysis
	ActionPhotoAnalysis ActionType = "photo_analysis"

	// ActionExplainer is a request for a long-form explainer
	ActionExplainer ActionType = "explainer"
)

// String returns the string representation of ActionType
func (a ActionType) String() string {
	return string(a)
}

// IsValid returns true if the action type is one of the metered actions
func (a ActionType) IsValid() bool {
	switch a {
	case ActionTextQuery, ActionPhotoAnalysis, ActionExplainer:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the action type
func (a ActionType) DisplayName() string {
	switch a {
	case ActionTextQuery:
		return "Text Queries"
	case ActionPhotoAnalysis:
		return "Photo Analysis"
	case ActionExplainer:
		return "Explainers"
	default:
		return string(a)
	}
}

// AllActionTypes returns all metered action types
func AllActionTypes() []ActionType {
	return []ActionType{
		ActionTextQuery,
		ActionPhotoAnalysis,
		ActionExplainer,
	}
}

// actionAliases maps accepted spellings (lowercased) to their action.
// Client apps send camelCase identifiers, the API uses snake_case.
var actionAliases = map[string]ActionType{
	"text_query":        ActionTextQuery,
	"textquery":         ActionTextQuery,
	"text_queries":      ActionTextQuery,
	"textqueries":       ActionTextQuery,
	"photo_analysis":    ActionPhotoAnalysis,
	"photoanalysis":     ActionPhotoAnalysis,
	"explainer":         ActionExplainer,
	"explainer_query":   ActionExplainer,
	"explainer_queries": ActionExplainer,
	"explainerqueries":  ActionExplainer,
}

// ParseActionType parses a string into an ActionType
func ParseActionType(s string) (ActionType, error) {
	if a, ok := actionAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return a, nil
	}
	return "", shared.NewDomainError("INVALID_ACTION", fmt.Sprintf("invalid action type: %q", s))
}
