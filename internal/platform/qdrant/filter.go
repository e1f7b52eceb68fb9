package qdrant

import (
	"github.com/yungbote/vidscribe-backend/internal/platform/vectorstore"
)

// translateFilter renders the typed filter as a qdrant must-clause. The
// user_id condition is always present so one tenant can never read another's
// points.
func translateFilter(f vectorstore.Filter) map[string]any {
	must := []any{
		matchCondition(vectorstore.PayloadUserID, f.UserID.String()),
	}
	if len(f.VideoIDs) > 0 {
		values := make([]any, 0, len(f.VideoIDs))
		for _, id := range f.VideoIDs {
			values = append(values, id.String())
		}
		must = append(must, matchAnyCondition(vectorstore.PayloadVideoID, values))
	}
	return map[string]any{"must": must}
}

func matchCondition(key string, value any) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

func matchAnyCondition(key string, values []any) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"any": values},
	}
}
