// Package domain contains core business types and interfaces.
//
// This file defines the Subscription type and its credit balance. A
// subscription is created alongside a tenant account elsewhere; the gateway
// only reads it and, through the credit ledger, moves credits from
// remaining to used.
package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the possible states of a tenant's subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusExpired, SubscriptionStatusSuspended:
		return true
	default:
		return false
	}
}

// Balance is a tenant's credit position.
//
// Invariant: CreditsUsed + CreditsRemaining == CreditsLimit, all non-negative.
type Balance struct {
	CreditsLimit     int64
	CreditsUsed      int64
	CreditsRemaining int64
}

// Valid checks the balance invariant.
func (b Balance) Valid() bool {
	return b.CreditsUsed >= 0 &&
		b.CreditsRemaining >= 0 &&
		b.CreditsUsed+b.CreditsRemaining == b.CreditsLimit
}

// Deduct returns the balance after moving credits from remaining to used.
// The caller is responsible for checking sufficiency first.
func (b Balance) Deduct(credits int64) Balance {
	return Balance{
		CreditsLimit:     b.CreditsLimit,
		CreditsUsed:      b.CreditsUsed + credits,
		CreditsRemaining: b.CreditsRemaining - credits,
	}
}

// Covers reports whether the remaining balance can pay for credits.
func (b Balance) Covers(credits int64) bool {
	return b.CreditsRemaining >= credits
}

// Subscription is the entitlement record of a tenant.
type Subscription struct {
	TenantID           uuid.UUID
	Tier               string
	Status             SubscriptionStatus
	AllowedModels      []string // Empty means "use the tier's catalog list"
	Balance            Balance
	RateLimitPerMinute int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsActive returns true if the subscription may be used for new requests.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// CreditsFor converts a token count into credits using a model multiplier.
//
// The result is rounded up so a non-zero amount of work is never free and so
// that the admission estimate is never smaller than multiplier × tokens.
func CreditsFor(tokens int, multiplier float64) int64 {
	if tokens <= 0 || multiplier <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(tokens) * multiplier))
}
