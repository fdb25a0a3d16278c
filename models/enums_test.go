package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReportReason(t *testing.T) {
	tests := []struct {
		input    string
		expected ReportReason
		wantErr  bool
	}{
		{"adult", ReasonAdult, false},
		{" IP ", ReasonIP, false},
		{"violent_extremism", ReasonViolentExtremism, false},
		{"other", ReasonOther, false},
		{"spam", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			reason, err := ParseReportReason(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, reason)
		})
	}
}

func TestReportStatusTransitions(t *testing.T) {
	assert.True(t, ReportOpen.CanTransitionTo(ReportInReview))
	assert.True(t, ReportOpen.CanTransitionTo(ReportResolved))
	assert.True(t, ReportInReview.CanTransitionTo(ReportDismissed))
	assert.False(t, ReportInReview.CanTransitionTo(ReportOpen))
	assert.False(t, ReportResolved.CanTransitionTo(ReportInReview))
	assert.False(t, ReportDismissed.CanTransitionTo(ReportResolved))
}

func TestVisibilityGated(t *testing.T) {
	assert.False(t, VisibilityFree.Gated())
	assert.True(t, VisibilityPreview.Gated())
	assert.True(t, VisibilityPaid.Gated())

	_, err := ParseVisibility("members")
	assert.Error(t, err)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("Tutorial")
	assert.NoError(t, err)
	assert.Equal(t, CategoryTutorial, c)

	_, err = ParseCategory("video")
	assert.Error(t, err)
}
