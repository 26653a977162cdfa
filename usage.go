package pitchiq

import "time"

// UsageRecord is the quota state of one user.
type UsageRecord struct {
	UserID string
	// Used counts predictions consumed in the current window.
	Used int
	// Reserved counts admitted predictions still in flight.
	Reserved int
	// ResetAt marks the start of the current window.
	ResetAt time.Time
	// VIP users are exempt from the free quota. Nothing on the HTTP surface
	// or in configuration sets it; stores expose it for library callers.
	VIP bool
}

// NewUsageRecord returns the record of a previously unseen user.
func NewUsageRecord(userID string, now time.Time) *UsageRecord {
	return &UsageRecord{UserID: userID, ResetAt: now}
}

// ResetIfExpired starts a new window when the current one is at least
// QuotaWindow old. In-flight reservations are kept. Reports whether a reset happened.
func (r *UsageRecord) ResetIfExpired(now time.Time) bool {
	if now.Sub(r.ResetAt) < QuotaWindow {
		return false
	}
	r.Used = 0
	r.ResetAt = now
	return true
}

// CanProceed reports whether another prediction may be admitted.
func (r *UsageRecord) CanProceed() bool {
	return r.VIP || r.Used+r.Reserved < FreeDailyLimit
}

// RecordUsage counts one finished prediction. VIP usage is not counted.
func (r *UsageRecord) RecordUsage() {
	if r.VIP {
		return
	}
	r.Used++
}

// Remaining returns the free predictions left in the window, or -1 for VIP users.
func (r UsageRecord) Remaining() int {
	if r.VIP {
		return -1
	}
	left := FreeDailyLimit - r.Used - r.Reserved
	if left < 0 {
		return 0
	}
	return left
}

// WindowEnds returns when the current window expires.
func (r UsageRecord) WindowEnds() time.Time {
	return r.ResetAt.Add(QuotaWindow)
}
