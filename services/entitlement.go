package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tryonapi/models"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	DefaultFreeDailyLimit = 2
	revenueCatBaseURL     = "https://api.revenuecat.com"
	entitlementCacheTTL   = 5 * time.Minute
)

type SubscriptionChecker interface {
	ActiveEntitlement(ctx context.Context, appUserID string, entitlement string) (bool, error)
}

type subscriberResponse struct {
	Subscriber struct {
		Entitlements map[string]struct {
			ExpiresDate       *string `json:"expires_date"`
			ProductIdentifier string  `json:"product_identifier"`
		} `json:"entitlements"`
	} `json:"subscriber"`
}

// RevenueCatClient reads subscriber entitlements from the RevenueCat REST API.
type RevenueCatClient struct {
	client *resty.Client
}

func NewRevenueCatClient(apiKey string) *RevenueCatClient {
	return NewRevenueCatClientWithBaseURL(apiKey, revenueCatBaseURL)
}

func NewRevenueCatClientWithBaseURL(apiKey, baseURL string) *RevenueCatClient {
	return &RevenueCatClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(15 * time.Second).
			SetAuthToken(apiKey),
	}
}

func (c *RevenueCatClient) ActiveEntitlement(ctx context.Context, appUserID string, entitlement string) (bool, error) {
	result := &subscriberResponse{}
	res, err := c.client.NewRequest().
		SetContext(ctx).
		SetPathParam("appUserId", appUserID).
		SetResult(result).
		Get("/v1/subscribers/{appUserId}")
	if err != nil {
		return false, fmt.Errorf("subscriber lookup failed: %w", err)
	}
	if res.IsError() {
		return false, fmt.Errorf("subscriber lookup failed: status %d", res.StatusCode())
	}
	return isEntitlementActive(result, entitlement, time.Now()), nil
}

// isEntitlementActive treats a null expiry as a lifetime entitlement.
func isEntitlementActive(sub *subscriberResponse, entitlement string, now time.Time) bool {
	for name, ent := range sub.Subscriber.Entitlements {
		if !strings.EqualFold(name, entitlement) {
			continue
		}
		if ent.ExpiresDate == nil {
			return true
		}
		expires, err := time.Parse(time.RFC3339, *ent.ExpiresDate)
		if err != nil {
			log.Warn().Err(err).Str("expires_date", *ent.ExpiresDate).Msg("unparseable entitlement expiry")
			continue
		}
		if expires.After(now) {
			return true
		}
	}
	return false
}

// UsageLedger counts paid-for attempts.
type UsageLedger interface {
	CountUsesSince(ctx context.Context, since time.Time) (int, error)
	RecordUse(ctx context.Context, at time.Time) error
}

// Entitlements combines the subscription check with a daily allowance of
// free attempts that resets at local midnight.
type Entitlements struct {
	Subscriptions SubscriptionChecker
	AppUserID     string
	Entitlement   string
	Ledger        UsageLedger
	DailyLimit    int
	Now           func() time.Time

	mu          sync.Mutex
	cachedUntil time.Time
	cached      bool
}

func (e *Entitlements) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func (e *Entitlements) IsEntitled(ctx context.Context) bool {
	if e.Subscriptions == nil || e.AppUserID == "" {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if now.Before(e.cachedUntil) {
		return e.cached
	}
	active, err := e.Subscriptions.ActiveEntitlement(ctx, e.AppUserID, e.Entitlement)
	if err != nil {
		log.Warn().Err(err).Msg("entitlement check failed, treating as free tier")
		return e.cached
	}
	e.cached = active
	e.cachedUntil = now.Add(entitlementCacheTTL)
	return active
}

func (e *Entitlements) RemainingFreeUsesToday(ctx context.Context) int {
	limit := e.DailyLimit
	if limit <= 0 {
		limit = DefaultFreeDailyLimit
	}
	if e.Ledger == nil {
		return limit
	}
	used, err := e.Ledger.CountUsesSince(ctx, startOfDay(e.now()))
	if err != nil {
		log.Warn().Err(err).Msg("failed to read usage ledger")
		return 0
	}
	return max(0, limit-used)
}

func (e *Entitlements) RecordUse(ctx context.Context) error {
	if e.Ledger == nil {
		return nil
	}
	return e.Ledger.RecordUse(ctx, e.now())
}

func (e *Entitlements) Tier(ctx context.Context) models.Subscription {
	if e.IsEntitled(ctx) {
		return models.Pro
	}
	return models.Free
}
