package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ComponentKey builds the component:{mpn}:data Redis key the sync Worker
// scans for (the component:*:data key pattern).
func ComponentKey(mpn string) string {
	return "component:" + mpn + ":data"
}

// Writer is the enrichment-time counterpart to Worker: it writes a
// staging/rejected result straight into Redis with a TTL, and the
// background Worker later mirrors it into the durable Store for admin
// inspection. Writing here rather than to Postgres directly keeps a
// rejected line's cost bounded to a TTL'd cache entry, following the
// promotion table.
type Writer struct {
	redis *redis.Client
}

func NewWriter(redisClient *redis.Client) *Writer {
	return &Writer{redis: redisClient}
}

type componentPayload struct {
	LineID       string         `json:"line_id"`
	MPN          string         `json:"mpn"`
	Manufacturer string         `json:"manufacturer"`
	QualityScore int            `json:"quality_score"`
	Data         map[string]any `json:"data"`
	Reason       string         `json:"reason"`
}

// WriteStaging caches a mid-quality result (promote_threshold <=
// quality_score < catalog_threshold) for the default TTL, routed as
// sync_status=active so admins can inspect and optionally promote it.
func (w *Writer) WriteStaging(ctx context.Context, lineID, mpn, manufacturer string, qualityScore int, data map[string]any, ttl time.Duration) error {
	return w.write(ctx, lineID, mpn, manufacturer, qualityScore, data, "", ttl)
}

// WriteRejected caches a low-quality result (quality_score <
// promote_threshold) with a reason, routed the same way as staging but
// distinguished by Reason being non-empty.
func (w *Writer) WriteRejected(ctx context.Context, lineID, mpn, manufacturer string, qualityScore int, data map[string]any, reason string, ttl time.Duration) error {
	return w.write(ctx, lineID, mpn, manufacturer, qualityScore, data, reason, ttl)
}

func (w *Writer) write(ctx context.Context, lineID, mpn, manufacturer string, qualityScore int, data map[string]any, reason string, ttl time.Duration) error {
	payload := componentPayload{
		LineID: lineID, MPN: mpn, Manufacturer: manufacturer,
		QualityScore: qualityScore, Data: data, Reason: reason,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("snapshot: marshal staging payload for %s: %w", mpn, err)
	}
	if err := w.redis.Set(ctx, ComponentKey(mpn), raw, ttl).Err(); err != nil {
		return fmt.Errorf("snapshot: redis set failed for %s: %w", mpn, err)
	}
	return nil
}
