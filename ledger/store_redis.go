package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"casedraft-backend/models"

	"github.com/redis/go-redis/v9"
)

// reserveScript consumes credits atomically.
// KEYS[1] = entry hash, KEYS[2] = reservation marker
// ARGV[1] = cost, ARGV[2] = initial allotment, ARGV[3] = now (unix ms)
// Returns {status, allotted, consumed, updated_at}; status 0 denied, 1 granted, 2 replayed.
var reserveScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[1], "allotted", ARGV[2]) == 1 then
    redis.call("HSET", KEYS[1], "consumed", 0, "updated_at", ARGV[3])
end

local allotted = tonumber(redis.call("HGET", KEYS[1], "allotted"))
local consumed = tonumber(redis.call("HGET", KEYS[1], "consumed"))
local updated = tonumber(redis.call("HGET", KEYS[1], "updated_at"))

if redis.call("EXISTS", KEYS[2]) == 1 then
    return {2, allotted, consumed, updated}
end

local cost = tonumber(ARGV[1])
if consumed + cost > allotted then
    return {0, allotted, consumed, updated}
end

consumed = redis.call("HINCRBY", KEYS[1], "consumed", cost)
redis.call("HSET", KEYS[1], "updated_at", ARGV[3])
redis.call("SET", KEYS[2], "1")
return {1, allotted, consumed, tonumber(ARGV[3])}
`)

// creditScript grows the allotment once per payment.
// KEYS[1] = entry hash, KEYS[2] = payment marker
// ARGV[1] = credits, ARGV[2] = initial allotment, ARGV[3] = now (unix ms)
// Returns {applied, allotted, consumed, updated_at}.
var creditScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[1], "allotted", ARGV[2]) == 1 then
    redis.call("HSET", KEYS[1], "consumed", 0, "updated_at", ARGV[3])
end

if redis.call("SET", KEYS[2], "1", "NX") == false then
    return {0,
        tonumber(redis.call("HGET", KEYS[1], "allotted")),
        tonumber(redis.call("HGET", KEYS[1], "consumed")),
        tonumber(redis.call("HGET", KEYS[1], "updated_at"))}
end

local allotted = redis.call("HINCRBY", KEYS[1], "allotted", ARGV[1])
redis.call("HSET", KEYS[1], "updated_at", ARGV[3])
return {1, allotted, tonumber(redis.call("HGET", KEYS[1], "consumed")), tonumber(ARGV[3])}
`)

// RedisStore keeps ledger entries in Redis hashes and mutates them with Lua
// scripts so concurrent reservations on one account serialise server-side.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store using keys under prefix (default "quota")
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "quota"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) entryKey(account string, tier models.Tier) string {
	return fmt.Sprintf("%s:entry:%s:%d", s.prefix, account, int(tier))
}

func (s *RedisStore) reservationKey(id string) string {
	return fmt.Sprintf("%s:reservation:%s", s.prefix, id)
}

func (s *RedisStore) paymentKey(ref string) string {
	return fmt.Sprintf("%s:payment:%s", s.prefix, ref)
}

// Reserve runs reserveScript
func (s *RedisStore) Reserve(ctx context.Context, account string, tier models.Tier, cost int, reservationID string, initialAllotment int) (*models.QuotaReservation, error) {
	keys := []string{s.entryKey(account, tier), s.reservationKey(reservationID)}
	vals, err := reserveScript.Run(ctx, s.client, keys, cost, initialAllotment, time.Now().UnixMilli()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis reserve: %w", err)
	}
	if len(vals) != 4 {
		return nil, fmt.Errorf("invalid response from reserve script")
	}

	res := &models.QuotaReservation{
		ReservationID: reservationID,
		Cost:          cost,
		Entry:         entryFromValues(account, tier, vals[1:]),
	}
	switch vals[0] {
	case 0:
		res.Decision = models.ReservationDenied
	case 2:
		res.Decision = models.ReservationGranted
		res.Replayed = true
	default:
		res.Decision = models.ReservationGranted
	}
	return res, nil
}

// AddCredits runs creditScript
func (s *RedisStore) AddCredits(ctx context.Context, account string, tier models.Tier, credits int, paymentRef string, initialAllotment int) (*models.QuotaEntry, bool, error) {
	keys := []string{s.entryKey(account, tier), s.paymentKey(paymentRef)}
	vals, err := creditScript.Run(ctx, s.client, keys, credits, initialAllotment, time.Now().UnixMilli()).Int64Slice()
	if err != nil {
		return nil, false, fmt.Errorf("redis add credits: %w", err)
	}
	if len(vals) != 4 {
		return nil, false, fmt.Errorf("invalid response from credit script")
	}

	entry := entryFromValues(account, tier, vals[1:])
	return &entry, vals[0] == 1, nil
}

// Get reads the entry hash; nil when it does not exist
func (s *RedisStore) Get(ctx context.Context, account string, tier models.Tier) (*models.QuotaEntry, error) {
	vals, err := s.client.HMGet(ctx, s.entryKey(account, tier), "allotted", "consumed", "updated_at").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get entry: %w", err)
	}
	if len(vals) != 3 || vals[0] == nil {
		return nil, nil
	}

	nums := make([]int64, 3)
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt quota entry field: %w", err)
		}
		nums[i] = n
	}

	entry := entryFromValues(account, tier, nums)
	return &entry, nil
}

func entryFromValues(account string, tier models.Tier, vals []int64) models.QuotaEntry {
	return models.QuotaEntry{
		Account:   account,
		Tier:      tier,
		Allotted:  int(vals[0]),
		Consumed:  int(vals[1]),
		UpdatedAt: time.UnixMilli(vals[2]),
	}
}
