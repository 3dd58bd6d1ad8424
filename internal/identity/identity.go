// Package identity maps owner uids to users the way the host platform
// assigns them: each user owns a contiguous range of uids, and uids below
// the first application uid belong to the system.
package identity

import (
	"fmt"

	"github.com/zjrosen/provmap/internal/providermap"
)

const (
	// DefaultFirstApplicationUID is the first uid handed to applications.
	DefaultFirstApplicationUID = 10000
	// DefaultPerUserRange is the number of uids reserved for each user.
	DefaultPerUserRange = 100000
)

// UIDPolicy implements providermap.Identity.
type UIDPolicy struct {
	FirstApplicationUID int
	PerUserRange        int
}

var _ providermap.Identity = UIDPolicy{}

// Default returns the stock platform policy.
func Default() UIDPolicy {
	return UIDPolicy{
		FirstApplicationUID: DefaultFirstApplicationUID,
		PerUserRange:        DefaultPerUserRange,
	}
}

// Validate checks that the policy can classify uids.
func (p UIDPolicy) Validate() error {
	if p.PerUserRange <= 0 {
		return fmt.Errorf("per_user_range must be positive, got %d", p.PerUserRange)
	}
	if p.FirstApplicationUID < 0 {
		return fmt.Errorf("first_application_uid must not be negative, got %d", p.FirstApplicationUID)
	}
	if p.FirstApplicationUID >= p.PerUserRange {
		return fmt.Errorf("first_application_uid (%d) must be below per_user_range (%d)",
			p.FirstApplicationUID, p.PerUserRange)
	}
	return nil
}

// IsSystem reports whether uid is a system-level identity. The raw uid is
// compared, so a system app id inside a secondary user's range is not
// system-level.
func (p UIDPolicy) IsSystem(uid int) bool {
	return uid < p.FirstApplicationUID
}

// UserOf returns the user that owns uid.
func (p UIDPolicy) UserOf(uid int) providermap.UserID {
	return providermap.UserID(uid / p.PerUserRange)
}

// UID builds the uid of appID running as user.
func (p UIDPolicy) UID(user providermap.UserID, appID int) int {
	return int(user)*p.PerUserRange + appID%p.PerUserRange
}

// Fixed returns a CallerFunc that always resolves to user.
func Fixed(user providermap.UserID) providermap.CallerFunc {
	return func() providermap.UserID { return user }
}
