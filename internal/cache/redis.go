package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ghouf2005/Agriculture-project/config"
	"github.com/ghouf2005/Agriculture-project/internal/agent"
	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// coverageMember marks, by its score, the instant from which a plot's set
// holds every indexed anomaly. It lives in the set itself so that an
// evicted or flushed set loses its coverage along with its entries.
const coverageMember = "~covered-since"

// AnomalyIndex keeps a per-plot sorted set of recent anomaly events so
// the rule engine's correlation lookup does not hit the database. A range
// is answered from the set only when the set covers all of it; anything
// else reads the durable store.
type AnomalyIndex struct {
	client   *redis.Client
	ttl      time.Duration
	fallback agent.History
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	dirty map[int64]bool // plots whose last index write failed
}

// NewAnomalyIndex creates an index over client. Entries older than ttl are
// trimmed on write.
func NewAnomalyIndex(client *redis.Client, ttl time.Duration, fallback agent.History, logger *zap.Logger) *AnomalyIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnomalyIndex{
		client:   client,
		ttl:      ttl,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
		dirty:    make(map[int64]bool),
	}
}

func plotKey(plotID int64) string {
	return fmt.Sprintf("agri:anomalies:plot:%d", plotID)
}

func scoreOf(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// rangeBounds renders [from, to) as ZRANGEBYSCORE bounds. Scores are whole
// milliseconds, so both ends are inclusive and decodeMembers trims the
// sub-millisecond edges.
func rangeBounds(from, to time.Time) (string, string) {
	return strconv.FormatInt(from.UnixMilli(), 10), strconv.FormatInt(to.UnixMilli(), 10)
}

func (x *AnomalyIndex) isDirty(plotID int64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.dirty[plotID]
}

func (x *AnomalyIndex) setDirty(plotID int64, dirty bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if dirty {
		x.dirty[plotID] = true
	} else {
		delete(x.dirty, plotID)
	}
}

// Index adds an event to its plot's sorted set. A set created by this call
// covers events from now on. After a failed write the plot's set is
// dropped and rebuilt by the next successful one.
func (x *AnomalyIndex) Index(ctx context.Context, ev *models.AnomalyEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal anomaly: %w", err)
	}

	key := plotKey(ev.PlotID)
	now := x.now()
	cutoff := scoreOf(now.Add(-x.ttl))
	rebuild := x.isDirty(ev.PlotID)

	pipe := x.client.TxPipeline()
	if rebuild {
		pipe.Del(ctx, key)
	}
	pipe.ZAddNX(ctx, key, redis.Z{Score: scoreOf(now), Member: coverageMember})
	pipe.ZAdd(ctx, key, redis.Z{Score: scoreOf(ev.Timestamp), Member: data})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatFloat(cutoff, 'f', -1, 64))
	// a trimmed marker still covers everything from the cutoff on
	pipe.ZAddNX(ctx, key, redis.Z{Score: cutoff, Member: coverageMember})
	pipe.Expire(ctx, key, x.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		x.setDirty(ev.PlotID, true)
		if delErr := x.client.Del(ctx, key).Err(); delErr == nil {
			x.setDirty(ev.PlotID, false)
		}
		return fmt.Errorf("failed to index anomaly %s: %w", ev.ID, err)
	}

	if rebuild {
		x.setDirty(ev.PlotID, false)
		x.logger.Info("anomaly index rebuilt", zap.Int64("plot_id", ev.PlotID))
	}
	return nil
}

// coveredSince returns the instant from which the plot's set is complete.
// ok is false when the set or its marker is missing.
func (x *AnomalyIndex) coveredSince(ctx context.Context, key string) (since time.Time, ok bool, err error) {
	score, err := x.client.ZScore(ctx, key, coverageMember).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(score)), true, nil
}

// NotifyAnomaly indexes a freshly persisted event
func (x *AnomalyIndex) NotifyAnomaly(ctx context.Context, ev *models.AnomalyEvent) error {
	return x.Index(ctx, ev)
}

// NotifyRecommendation is a no-op; only anomalies are indexed
func (x *AnomalyIndex) NotifyRecommendation(context.Context, *models.AnomalyEvent, *models.AgentRecommendation) error {
	return nil
}

// ReadingsInRange is served by the fallback store
func (x *AnomalyIndex) ReadingsInRange(ctx context.Context, plotID int64, sensor models.SensorType, from, to time.Time) ([]models.SensorReading, error) {
	return x.fallback.ReadingsInRange(ctx, plotID, sensor, from, to)
}

// AnomaliesInRange returns events with from <= timestamp < to, oldest first
func (x *AnomalyIndex) AnomaliesInRange(ctx context.Context, plotID int64, from, to time.Time) ([]models.AnomalyEvent, error) {
	key := plotKey(plotID)

	// windows reaching past the retention cannot be answered from the index
	if x.now().Sub(from) > x.ttl || x.isDirty(plotID) {
		return x.fallback.AnomaliesInRange(ctx, plotID, from, to)
	}

	since, ok, err := x.coveredSince(ctx, key)
	if err != nil {
		x.logger.Warn("anomaly index unavailable, reading store", zap.Int64("plot_id", plotID), zap.Error(err))
		return x.fallback.AnomaliesInRange(ctx, plotID, from, to)
	}
	if !ok || from.Before(since) {
		return x.fallback.AnomaliesInRange(ctx, plotID, from, to)
	}

	min, max := rangeBounds(from, to)
	members, err := x.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		x.logger.Warn("anomaly index read failed, reading store", zap.Int64("plot_id", plotID), zap.Error(err))
		return x.fallback.AnomaliesInRange(ctx, plotID, from, to)
	}

	return decodeMembers(members, from, to)
}

func decodeMembers(members []string, from, to time.Time) ([]models.AnomalyEvent, error) {
	out := make([]models.AnomalyEvent, 0, len(members))
	for _, m := range members {
		if m == coverageMember {
			continue
		}
		var ev models.AnomalyEvent
		if err := json.Unmarshal([]byte(m), &ev); err != nil {
			return nil, fmt.Errorf("corrupt anomaly index entry: %w", err)
		}
		// millisecond scores can admit sub-millisecond neighbours
		if ev.Timestamp.Before(from) || !ev.Timestamp.Before(to) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
