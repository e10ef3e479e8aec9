package handler

import (
	"outreach/entity"
	"strings"
)

// BounceClassifier decides whether a provider bounce message means the
// receiving side blocked the sender or the address simply bounced.
type BounceClassifier func(bounceMessage string) entity.Classification

var blockMarkers = []string{"block", "policy", "spam"}

func DefaultBounceClassifier(bounceMessage string) entity.Classification {
	lower := strings.ToLower(bounceMessage)
	for _, marker := range blockMarkers {
		if strings.Contains(lower, marker) {
			return entity.ClassificationBlocked
		}
	}
	return entity.ClassificationBounced
}
