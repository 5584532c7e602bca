package providers

import (
	"fmt"
	"sort"
	"time"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
)

// BookingLockKeys returns the lock keys covering [start, end) for a doctor,
// one per bucket in ascending order. Buckets are aligned to UTC.
func BookingLockKeys(doctorID string, start, end time.Time, bucket time.Duration) []string {
	if bucket <= 0 {
		bucket = time.Hour
	}
	var keys []string
	for b := start.UTC().Truncate(bucket); b.Before(end); b = b.Add(bucket) {
		keys = append(keys, fmt.Sprintf("booking_lock:%s:%d", doctorID, b.Unix()))
	}
	if len(keys) == 0 {
		keys = append(keys, fmt.Sprintf("booking_lock:%s:%d", doctorID, start.UTC().Truncate(bucket).Unix()))
	}
	return keys
}

// BookingLockKeysForRanges returns the union of the lock keys covering every
// range, deduplicated and in ascending bucket order.
func BookingLockKeysForRanges(doctorID string, ranges []entities.TimeRange, bucket time.Duration) []string {
	if bucket <= 0 {
		bucket = time.Hour
	}
	seen := make(map[int64]struct{})
	var buckets []int64
	for _, r := range ranges {
		b := r.Start.UTC().Truncate(bucket)
		for {
			unix := b.Unix()
			if _, ok := seen[unix]; !ok {
				seen[unix] = struct{}{}
				buckets = append(buckets, unix)
			}
			b = b.Add(bucket)
			if !b.Before(r.End) {
				break
			}
		}
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	keys := make([]string, len(buckets))
	for i, unix := range buckets {
		keys[i] = fmt.Sprintf("booking_lock:%s:%d", doctorID, unix)
	}
	return keys
}
