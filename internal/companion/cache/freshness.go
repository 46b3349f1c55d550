package cache

import (
	"fmt"
	"time"
)

// FreshnessTier grades how stale the cached data is. The UI colors its sync
// indicator with these.
type FreshnessTier string

const (
	FreshnessGreen   FreshnessTier = "green"   // under 2 hours old
	FreshnessNeutral FreshnessTier = "neutral" // 2 to 24 hours
	FreshnessAmber   FreshnessTier = "amber"   // 1 to 7 days
	FreshnessRed     FreshnessTier = "red"     // over 7 days, or never synced
)

// Freshness describes the cache's staleness at a point in time. Warning is
// empty for the green and neutral tiers.
type Freshness struct {
	Tier         FreshnessTier `json:"tier"`
	LastSyncedAt *time.Time    `json:"last_synced_at,omitempty"`
	Warning      string        `json:"warning,omitempty"`
}

// Freshness grades the cache's age at now.
func (c *Cache) Freshness(now time.Time) (*Freshness, error) {
	last, err := c.LastSyncedAt()
	if err != nil {
		return nil, err
	}
	if last == nil {
		return &Freshness{
			Tier:    FreshnessRed,
			Warning: "Never synced with the hub. This data may be incomplete.",
		}, nil
	}

	age := now.Sub(*last)
	f := &Freshness{LastSyncedAt: last}
	switch {
	case age < 2*time.Hour:
		f.Tier = FreshnessGreen
	case age < 24*time.Hour:
		f.Tier = FreshnessNeutral
	case age < 7*24*time.Hour:
		f.Tier = FreshnessAmber
		f.Warning = fmt.Sprintf("Last synced %d day(s) ago. Recent changes may be missing.", int(age.Hours()/24))
	default:
		f.Tier = FreshnessRed
		f.Warning = fmt.Sprintf("Last synced %d day(s) ago. Do not rely on this data for dosing decisions.", int(age.Hours()/24))
	}
	return f, nil
}
