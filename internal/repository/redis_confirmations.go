package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"wisefido-attendance/internal/domain"

	"github.com/go-redis/redis/v8"
)

// insertScript SETNX 记录并写入用户索引，两步在同一脚本内原子执行
// KEYS[1] 记录 key, KEYS[2] 用户索引 ZSET; ARGV[1] JSON, ARGV[2] score
var insertScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[2], KEYS[1])
return 1
`)

// RedisConfirmationsRepo 无 Postgres 时的确认记录存储
// attendance:confirmation:{assignment_id}:{date} -> JSON
// attendance:confirmations:user:{user_id}        -> ZSET(score = 当天 00:00 UTC 的 unix 秒)
type RedisConfirmationsRepo struct {
	client *redis.Client
	prefix string
}

func NewRedisConfirmationsRepo(client *redis.Client) *RedisConfirmationsRepo {
	return &RedisConfirmationsRepo{client: client, prefix: "attendance:"}
}

var _ ConfirmationsRepository = (*RedisConfirmationsRepo)(nil)

func (r *RedisConfirmationsRepo) recordKey(assignmentID, date string) string {
	return r.prefix + "confirmation:" + assignmentID + ":" + date
}

func (r *RedisConfirmationsRepo) userKey(userID string) string {
	return r.prefix + "confirmations:user:" + userID
}

func dateScore(date string) (float64, error) {
	d, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return 0, fmt.Errorf("invalid attendance date %q: %w", date, err)
	}
	return float64(d.Unix()), nil
}

func (r *RedisConfirmationsRepo) Insert(ctx context.Context, rec *domain.ConfirmationRecord) error {
	score, err := dateScore(rec.Date)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal confirmation: %w", err)
	}

	ok, err := insertScript.Run(ctx, r.client,
		[]string{r.recordKey(rec.AssignmentID, rec.Date), r.userKey(rec.UserID)},
		string(data), score,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to insert confirmation: %w", err)
	}
	if ok == 0 {
		return ErrConfirmationExists
	}
	return nil
}

func (r *RedisConfirmationsRepo) FindForDate(ctx context.Context, assignmentID, date string) (*domain.ConfirmationRecord, error) {
	val, err := r.client.Get(ctx, r.recordKey(assignmentID, date)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get confirmation: %w", err)
	}
	var rec domain.ConfirmationRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal confirmation: %w", err)
	}
	return &rec, nil
}

func (r *RedisConfirmationsRepo) ListForUserDate(ctx context.Context, userID, date string) ([]*domain.ConfirmationRecord, error) {
	return r.ListHistory(ctx, userID, HistoryFilter{From: date, To: date})
}

func (r *RedisConfirmationsRepo) ListHistory(ctx context.Context, userID string, filter HistoryFilter) ([]*domain.ConfirmationRecord, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if filter.From != "" {
		s, err := dateScore(filter.From)
		if err != nil {
			return nil, err
		}
		rng.Min = strconv.FormatFloat(s, 'f', 0, 64)
	}
	if filter.To != "" {
		s, err := dateScore(filter.To)
		if err != nil {
			return nil, err
		}
		rng.Max = strconv.FormatFloat(s, 'f', 0, 64)
	}

	keys, err := r.historyKeys(ctx, r.userKey(userID), rng, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmations: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load confirmations: %w", err)
	}

	out := make([]*domain.ConfirmationRecord, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec domain.ConfirmationRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal confirmation: %w", err)
		}
		out = append(out, &rec)
	}
	sortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// historyKeys 按日期倒序取最多 limit 个成员；同一天的分数相同，
// 截断处那一天的其余成员也一并取回，最终顺序由 sortNewestFirst 决定
func (r *RedisConfirmationsRepo) historyKeys(ctx context.Context, indexKey string, rng *redis.ZRangeBy, limit int) ([]string, error) {
	if limit <= 0 {
		return r.client.ZRevRangeByScore(ctx, indexKey, rng).Result()
	}

	page := *rng
	page.Count = int64(limit)
	hits, err := r.client.ZRevRangeByScoreWithScores(ctx, indexKey, &page).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, z := range hits {
		m, _ := z.Member.(string)
		keys = append(keys, m)
		seen[m] = struct{}{}
	}
	if len(hits) < limit {
		return keys, nil
	}

	boundary := strconv.FormatFloat(hits[len(hits)-1].Score, 'f', 0, 64)
	sameDay, err := r.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{Min: boundary, Max: boundary}).Result()
	if err != nil {
		return nil, err
	}
	for _, m := range sameDay {
		if _, ok := seen[m]; !ok {
			keys = append(keys, m)
		}
	}
	return keys, nil
}
