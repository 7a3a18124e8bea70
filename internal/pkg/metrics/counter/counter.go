package counter

import (
	"context"
	"strconv"

	"github.com/lukasweber/PitchPal/internal/pkg/cache"
)

const (
	webhookProcessedKey = "webhook:counters:processed"
	webhookTotalsKey    = "webhook:counters:totals"

	totalDuplicates     = "duplicates"
	totalDriftCorrected = "drift_corrected"
)

// AddWebhookProcessed increments the processed counter for a notification type
func AddWebhookProcessed(notificationType string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookProcessedKey, notificationType, 1).Err()
}

// AddWebhookDuplicate increments the redelivery counter
func AddWebhookDuplicate() error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookTotalsKey, totalDuplicates, 1).Err()
}

// AddDriftCorrected adds to the reconciliation correction counter
func AddDriftCorrected(delta int64) error {
	if delta <= 0 {
		return nil
	}
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookTotalsKey, totalDriftCorrected, delta).Err()
}

// Stats is a point-in-time snapshot of the operational counters.
type Stats struct {
	ProcessedByType map[string]int64 `json:"processedByType"`
	Duplicates      int64            `json:"duplicates"`
	DriftCorrected  int64            `json:"driftCorrected"`
}

// Snapshot reads the current counters from Redis.
func Snapshot() (*Stats, error) {
	ctx := context.Background()
	rdb := cache.GetClient()

	processed, err := rdb.HGetAll(ctx, webhookProcessedKey).Result()
	if err != nil {
		return nil, err
	}
	totals, err := rdb.HGetAll(ctx, webhookTotalsKey).Result()
	if err != nil {
		return nil, err
	}

	stats := &Stats{ProcessedByType: make(map[string]int64, len(processed))}
	for notificationType, raw := range processed {
		if v, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			stats.ProcessedByType[notificationType] = v
		}
	}
	if v, perr := strconv.ParseInt(totals[totalDuplicates], 10, 64); perr == nil {
		stats.Duplicates = v
	}
	if v, perr := strconv.ParseInt(totals[totalDriftCorrected], 10, 64); perr == nil {
		stats.DriftCorrected = v
	}
	return stats, nil
}
