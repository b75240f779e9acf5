package quota

import (
	"testing"

	"github.com/larklabs/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionType(t *testing.T) {
	tests := []struct {
		in   string
		want ActionType
	}{
		{"text_query", ActionTextQuery},
		{"textQuery", ActionTextQuery},
		{"photoAnalysis", ActionPhotoAnalysis},
		{" PHOTO_ANALYSIS ", ActionPhotoAnalysis},
		{"explainer", ActionExplainer},
		{"explainerQueries", ActionExplainer},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseActionType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.IsValid())
		})
	}

	t.Run("rejects unknown action", func(t *testing.T) {
		_, err := ParseActionType("video")
		require.Error(t, err)
		assert.True(t, shared.HasCode(err, "INVALID_ACTION"))
	})
}

func TestActionType_DisplayName(t *testing.T) {
	assert.Equal(t, "Photo Analysis", ActionPhotoAnalysis.DisplayName())
	assert.Equal(t, "bogus", ActionType("bogus").DisplayName())
	assert.Len(t, AllActionTypes(), 3)
}
