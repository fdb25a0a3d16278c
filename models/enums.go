package models

import (
	"fmt"
	"strings"
)

type Category string

const (
	CategoryArticle  Category = "article"
	CategoryScript   Category = "script"
	CategoryPlugin   Category = "plugin"
	CategoryPrompt   Category = "prompt"
	CategoryTutorial Category = "tutorial"
	CategoryConfig   Category = "config"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryArticle, CategoryScript, CategoryPlugin, CategoryPrompt, CategoryTutorial, CategoryConfig:
		return true
	}
	return false
}

type Visibility string

const (
	VisibilityFree    Visibility = "free"
	VisibilityPreview Visibility = "preview"
	VisibilityPaid    Visibility = "paid"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityFree, VisibilityPreview, VisibilityPaid:
		return true
	}
	return false
}

// Gated reports whether the visibility requires an entitlement to read the full body.
func (v Visibility) Gated() bool {
	return v != VisibilityFree
}

type SubscriptionTier string

const (
	TierFree SubscriptionTier = "free"
	TierPaid SubscriptionTier = "paid"
)

func (t SubscriptionTier) Valid() bool {
	return t == TierFree || t == TierPaid
}

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionUnpaid   SubscriptionStatus = "unpaid"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionCanceled, SubscriptionPastDue, SubscriptionUnpaid:
		return true
	}
	return false
}

type ReportReason string

const (
	ReasonAdult            ReportReason = "adult"
	ReasonIP               ReportReason = "ip"
	ReasonCopyright        ReportReason = "copyright"
	ReasonViolentExtremism ReportReason = "violent_extremism"
	ReasonOther            ReportReason = "other"
)

func (r ReportReason) Valid() bool {
	switch r {
	case ReasonAdult, ReasonIP, ReasonCopyright, ReasonViolentExtremism, ReasonOther:
		return true
	}
	return false
}

type ReportStatus string

const (
	ReportOpen      ReportStatus = "open"
	ReportInReview  ReportStatus = "in_review"
	ReportResolved  ReportStatus = "resolved"
	ReportDismissed ReportStatus = "dismissed"
)

func (s ReportStatus) Valid() bool {
	switch s {
	case ReportOpen, ReportInReview, ReportResolved, ReportDismissed:
		return true
	}
	return false
}

// Live reports still wait for a decision.
func (s ReportStatus) Live() bool {
	return s == ReportOpen || s == ReportInReview
}

// CanTransitionTo encodes open -> in_review -> {resolved, dismissed}. An open
// report may also be closed directly.
func (s ReportStatus) CanTransitionTo(next ReportStatus) bool {
	switch s {
	case ReportOpen:
		return next == ReportInReview || next == ReportResolved || next == ReportDismissed
	case ReportInReview:
		return next == ReportResolved || next == ReportDismissed
	}
	return false
}

// LiveReportStatuses is the status set used by deduplication queries.
var LiveReportStatuses = []ReportStatus{ReportOpen, ReportInReview}

func ParseCategory(raw string) (Category, error) {
	c := Category(normalizeEnum(raw))
	if !c.Valid() {
		return "", fmt.Errorf("invalid category %q", raw)
	}
	return c, nil
}

func ParseVisibility(raw string) (Visibility, error) {
	v := Visibility(normalizeEnum(raw))
	if !v.Valid() {
		return "", fmt.Errorf("invalid visibility %q", raw)
	}
	return v, nil
}

func ParseSubscriptionTier(raw string) (SubscriptionTier, error) {
	t := SubscriptionTier(normalizeEnum(raw))
	if !t.Valid() {
		return "", fmt.Errorf("invalid tier %q", raw)
	}
	return t, nil
}

func ParseSubscriptionStatus(raw string) (SubscriptionStatus, error) {
	s := SubscriptionStatus(normalizeEnum(raw))
	if !s.Valid() {
		return "", fmt.Errorf("invalid subscription status %q", raw)
	}
	return s, nil
}

func ParseReportReason(raw string) (ReportReason, error) {
	r := ReportReason(normalizeEnum(raw))
	if !r.Valid() {
		return "", fmt.Errorf("invalid report reason %q", raw)
	}
	return r, nil
}

func ParseReportStatus(raw string) (ReportStatus, error) {
	s := ReportStatus(normalizeEnum(raw))
	if !s.Valid() {
		return "", fmt.Errorf("invalid report status %q", raw)
	}
	return s, nil
}

func normalizeEnum(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
