package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/verity-sec/verity/pkg/domain"
)

// RedisHoldRepo stores legal hold flags in Redis so the compliance
// service and every audit replica observe the same hold set.
//
// Keys: holds:<tenant> for tenant-wide holds, holds:<tenant>:<seq> for
// entry holds. Values are the JSON-encoded hold records. Holds never
// expire; only an explicit Clear removes them.
type RedisHoldRepo struct {
	client *redis.Client
}

// NewRedisHoldRepo connects to Redis and verifies the connection.
func NewRedisHoldRepo(addr string, db int, password string) (*RedisHoldRepo, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisHoldRepo{client: client}, nil
}

// NewRedisHoldRepoFromClient wraps an existing client (tests).
func NewRedisHoldRepoFromClient(client *redis.Client) *RedisHoldRepo {
	return &RedisHoldRepo{client: client}
}

func holdKey(tenantID domain.TenantID, seq uint64) string {
	if seq == 0 {
		return fmt.Sprintf("holds:%s", tenantID)
	}
	return fmt.Sprintf("holds:%s:%d", tenantID, seq)
}

func (r *RedisHoldRepo) Active(ctx context.Context, tenantID domain.TenantID, seq uint64) (bool, error) {
	keys := []string{holdKey(tenantID, 0)}
	if seq != 0 {
		keys = append(keys, holdKey(tenantID, seq))
	}
	n, err := r.client.Exists(ctx, keys...).Result()
	if err != nil {
		return false, fmt.Errorf("check hold: %w", err)
	}
	return n > 0, nil
}

func (r *RedisHoldRepo) Set(ctx context.Context, hold domain.LegalHold) error {
	if hold.CreatedAt.IsZero() {
		hold.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(hold)
	if err != nil {
		return fmt.Errorf("marshal hold: %w", err)
	}
	if err := r.client.Set(ctx, holdKey(hold.TenantID, hold.Sequence), data, 0).Err(); err != nil {
		return fmt.Errorf("set hold: %w", err)
	}
	return nil
}

func (r *RedisHoldRepo) Clear(ctx context.Context, tenantID domain.TenantID, seq uint64) error {
	if err := r.client.Del(ctx, holdKey(tenantID, seq)).Err(); err != nil {
		return fmt.Errorf("clear hold: %w", err)
	}
	return nil
}

func (r *RedisHoldRepo) List(ctx context.Context, tenantID domain.TenantID) ([]domain.LegalHold, error) {
	var out []domain.LegalHold

	// The tenant-wide hold lives at an exact key; entry holds share a
	// colon-delimited prefix that cannot collide with other tenants.
	if val, err := r.client.Get(ctx, holdKey(tenantID, 0)).Result(); err == nil {
		var hold domain.LegalHold
		if err := json.Unmarshal([]byte(val), &hold); err == nil {
			out = append(out, hold)
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get tenant hold: %w", err)
	}

	iter := r.client.Scan(ctx, 0, fmt.Sprintf("holds:%s:*", tenantID), 0).Iterator()
	for iter.Next(ctx) {
		val, err := r.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // cleared during iteration
			}
			return nil, fmt.Errorf("get hold %s: %w", iter.Val(), err)
		}
		var hold domain.LegalHold
		if err := json.Unmarshal([]byte(val), &hold); err != nil {
			continue // skip corrupt records
		}
		out = append(out, hold)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan holds: %w", err)
	}
	return out, nil
}
