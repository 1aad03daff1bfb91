package common

import (
	"errors"
	"math"
	"sync"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for a caller.
type QuotaNow struct {
	ReqCount uint32
	EpochID  uint64
}

// Quota defines the request budget enforced per caller and epoch.
type Quota struct {
	MaxRequestsPerEpoch uint32
	EpochSeconds        uint32
}

// Epoch maps a unix timestamp onto the quota epoch.
func (q Quota) Epoch(now int64) uint64 {
	if q.EpochSeconds == 0 || now <= 0 {
		return 0
	}
	return uint64(now) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional requests fit within the
// configured quota. The returned QuotaNow reflects the updated counters when
// the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}
	return next, nil
}

// QuotaTracker keeps per-caller counters for a single quota.
type QuotaTracker struct {
	quota    Quota
	mu       sync.Mutex
	counters map[string]QuotaNow
}

// NewQuotaTracker returns a tracker enforcing q. A zero request budget
// disables the check.
func NewQuotaTracker(q Quota) *QuotaTracker {
	return &QuotaTracker{quota: q, counters: make(map[string]QuotaNow)}
}

// Consume books one request for caller at time now.
func (t *QuotaTracker) Consume(caller string, now int64) error {
	if t == nil || t.quota.MaxRequestsPerEpoch == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	epoch := t.quota.Epoch(now)
	next, err := CheckQuota(t.quota, epoch, t.counters[caller], 1)
	if err != nil {
		return err
	}
	t.counters[caller] = next
	for key, counter := range t.counters {
		if counter.EpochID < epoch {
			delete(t.counters, key)
		}
	}
	return nil
}
