package stripewebhooks

import (
	"context"
	"sync"
	"time"

	"finchart-app/pkg/logging"

	"github.com/redis/go-redis/v9"
)

// SeenCache remembers event ids that already projected successfully so
// provider redeliveries can be acknowledged without touching the store.
// Purely a fast path: entries are marked only after success, a restart
// forgets everything, and the conflict-key upsert keeps reprocessing
// harmless either way. With Redis configured the set is shared across
// replicas.
type SeenCache struct {
	processed       map[string]time.Time
	mutex           sync.RWMutex
	cleanupInterval time.Duration
	ttl             time.Duration
	stopCleanup     chan bool
	redis           *redis.Client
}

func NewSeenCache(rdb *redis.Client) *SeenCache {
	sc := &SeenCache{
		processed:       make(map[string]time.Time),
		cleanupInterval: time.Hour,
		ttl:             24 * time.Hour,
		stopCleanup:     make(chan bool),
		redis:           rdb,
	}

	go sc.startCleanupRoutine()

	return sc
}

// Seen reports whether the event id was already processed successfully.
func (sc *SeenCache) Seen(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return false
	}

	sc.mutex.RLock()
	_, ok := sc.processed[eventID]
	sc.mutex.RUnlock()
	if ok {
		return true
	}

	if sc.redis != nil {
		n, err := sc.redis.Exists(ctx, seenKey(eventID)).Result()
		if err == nil && n > 0 {
			return true
		}
	}

	return false
}

// MarkProcessed records the event id after a successful projection.
func (sc *SeenCache) MarkProcessed(ctx context.Context, eventID string) {
	if eventID == "" {
		return
	}

	sc.mutex.Lock()
	sc.processed[eventID] = time.Now()
	sc.mutex.Unlock()

	if sc.redis != nil {
		if err := sc.redis.Set(ctx, seenKey(eventID), 1, sc.ttl).Err(); err != nil {
			logging.Errorf("seen cache: redis set failed: %v", err)
		}
	}
}

func seenKey(eventID string) string {
	return "stripe:event:" + eventID
}

func (sc *SeenCache) startCleanupRoutine() {
	ticker := time.NewTicker(sc.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.cleanup()
		case <-sc.stopCleanup:
			return
		}
	}
}

func (sc *SeenCache) cleanup() {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	now := time.Now()
	initialCount := len(sc.processed)

	for eventID, processedTime := range sc.processed {
		if now.Sub(processedTime) > sc.ttl {
			delete(sc.processed, eventID)
		}
	}

	cleanedCount := initialCount - len(sc.processed)
	if cleanedCount > 0 {
		logging.Infof("seen cache cleanup: removed %d expired entries, remaining: %d", cleanedCount, len(sc.processed))
	}
}

// Clear empties the in-memory set (used in tests).
func (sc *SeenCache) Clear() {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	sc.processed = make(map[string]time.Time)
}

// Stop ends the cleanup goroutine.
func (sc *SeenCache) Stop() {
	close(sc.stopCleanup)
}
