package handler

import (
	"outreach/entity"
	"testing"
)

func TestDefaultBounceClassifier(t *testing.T) {
	tests := []struct {
		message string
		want    entity.Classification
	}{
		{"550 5.7.1 Message rejected as SPAM", entity.ClassificationBlocked},
		{"Blocked by recipient server", entity.ClassificationBlocked},
		{"rejected due to local policy", entity.ClassificationBlocked},
		{"550 5.1.1 mailbox does not exist", entity.ClassificationBounced},
		{"", entity.ClassificationBounced},
	}

	for _, tt := range tests {
		if got := DefaultBounceClassifier(tt.message); got != tt.want {
			t.Errorf("DefaultBounceClassifier(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}
