package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hpcfleet/cfs/internal/cfsmetrics"
)

// Config tunes the retry budget and batch size shared by every mutator, per
// spec.md §4.1. DB_BUSY_SECONDS bounds how long a caller retries against
// concurrent writers before giving up with ErrTooBusy; DB_BATCH_SIZE bounds
// how many keys are folded into one scan page or one transactional batch.
type Config struct {
	BusyBudget time.Duration
	BatchSize  int
}

// DefaultConfig mirrors the spec's nominal defaults.
func DefaultConfig() Config {
	return Config{BusyBudget: 60 * time.Second, BatchSize: 500}
}

// RedisStore is the production KvStore backend for one logical keyspace
// (database). Keys are namespaced under keyPrefix; a parallel sorted set
// (keyPrefix+":__index") holds every live key with score 0 so ZRANGEBYLEX
// gives the lexically-ascending iteration order the spec requires without
// relying on Redis SCAN's unordered cursor.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	cfg       Config
	logger    *slog.Logger
}

// NewRedisStore builds a KvStore scoped to one keyspace, e.g. "components".
func NewRedisStore(client redis.UniversalClient, keyspace string, cfg Config, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyspace, cfg: cfg, logger: logger}
}

func (s *RedisStore) dataKey(id string) string  { return s.keyPrefix + ":" + id }
func (s *RedisStore) indexKey() string           { return s.keyPrefix + ":__index" }

func decode(raw string) (map[string]interface{}, error) {
	var v map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("kvstore: decode: %w", err)
	}
	return v, nil
}

func encode(v map[string]interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("kvstore: encode: %w", err)
	}
	return string(b), nil
}

func wrapRedisErr(err error) error {
	if err == nil {
		return nil
	}
	if err == redis.Nil {
		return ErrNoEntry
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// withRetry runs fn inside a WATCH transaction over keys, retrying on
// optimistic-concurrency conflicts until cfg.BusyBudget elapses.
func (s *RedisStore) withRetry(ctx context.Context, keys []string, fn func(tx *redis.Tx) error) error {
	deadline := time.Now().Add(s.cfg.BusyBudget)
	for {
		err := s.client.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if err == redis.TxFailedErr {
			cfsmetrics.KvStoreRetries.WithLabelValues(s.keyPrefix).Inc()
			if time.Now().After(deadline) {
				cfsmetrics.KvStoreBusy.WithLabelValues(s.keyPrefix).Inc()
				return ErrTooBusy
			}
			continue
		}
		return wrapRedisErr(err)
	}
}

func effectivePatchHandler(opts PatchOptions) PatchHandler {
	if opts.PatchHandler != nil {
		return opts.PatchHandler
	}
	return DeepMerge
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (map[string]interface{}, error) {
	raw, err := s.client.Get(ctx, s.dataKey(key)).Result()
	if err != nil {
		return nil, wrapRedisErr(err)
	}
	return decode(raw)
}

// GetDelete implements Store.
func (s *RedisStore) GetDelete(ctx context.Context, key string) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := s.withRetry(ctx, []string{s.dataKey(key)}, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, s.dataKey(key)).Result()
		if err != nil {
			return err
		}
		val, err := decode(raw)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.dataKey(key))
			pipe.ZRem(ctx, s.indexKey(), key)
			return nil
		})
		if err != nil {
			return err
		}
		out = val
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key string, value map[string]interface{}) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.dataKey(key), raw, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: 0, Member: key})
		return nil
	})
	return wrapRedisErr(err)
}

// PutIfNotSet implements Store.
func (s *RedisStore) PutIfNotSet(ctx context.Context, key string, value map[string]interface{}) (bool, error) {
	raw, err := encode(value)
	if err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, s.dataKey(key), raw, 0).Result()
	if err != nil {
		return false, wrapRedisErr(err)
	}
	if ok {
		if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{Score: 0, Member: key}).Err(); err != nil {
			return false, wrapRedisErr(err)
		}
	}
	return ok, nil
}

// Patch implements Store.
func (s *RedisStore) Patch(ctx context.Context, key string, patch map[string]interface{}, opts PatchOptions) (map[string]interface{}, error) {
	handler := effectivePatchHandler(opts)
	var result map[string]interface{}
	err := s.withRetry(ctx, []string{s.dataKey(key)}, func(tx *redis.Tx) error {
		base, existed, err := readOrDefault(ctx, tx, s.dataKey(key), opts.DefaultEntry)
		if err != nil {
			return err
		}
		merged := handler(base, patch)
		if opts.UpdateHandler != nil {
			merged = opts.UpdateHandler(merged)
		}
		result = merged
		if existed && Equal(base, merged) {
			return nil
		}
		raw, err := encode(merged)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.dataKey(key), raw, 0)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: 0, Member: key})
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func readOrDefault(ctx context.Context, tx *redis.Tx, dataKey string, def map[string]interface{}) (map[string]interface{}, bool, error) {
	raw, err := tx.Get(ctx, dataKey).Result()
	if err == redis.Nil {
		if def == nil {
			return nil, false, ErrNoEntry
		}
		return def, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := decode(raw)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// PatchList implements Store: a single transaction over every distinct key
// in tuples, applying patches in submission order and returning the value
// each key held immediately after its own patch was folded in.
func (s *RedisStore) PatchList(ctx context.Context, tuples []PatchTuple, opts PatchOptions) ([]PatchResult, error) {
	handler := effectivePatchHandler(opts)
	keySet := map[string]struct{}{}
	var watchKeys []string
	for _, t := range tuples {
		if _, ok := keySet[t.Key]; !ok {
			keySet[t.Key] = struct{}{}
			watchKeys = append(watchKeys, s.dataKey(t.Key))
		}
	}

	var results []PatchResult
	err := s.withRetry(ctx, watchKeys, func(tx *redis.Tx) error {
		original := map[string]map[string]interface{}{}
		current := map[string]map[string]interface{}{}
		for key := range keySet {
			base, _, err := readOrDefault(ctx, tx, s.dataKey(key), opts.DefaultEntry)
			if err != nil {
				return err
			}
			original[key] = base
			current[key] = base
		}

		results = make([]PatchResult, 0, len(tuples))
		for _, t := range tuples {
			merged := handler(current[t.Key], t.Patch)
			if opts.UpdateHandler != nil {
				merged = opts.UpdateHandler(merged)
			}
			current[t.Key] = merged
			results = append(results, PatchResult{Key: t.Key, Value: merged})
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for key, final := range current {
				if Equal(original[key], final) {
					continue
				}
				raw, err := encode(final)
				if err != nil {
					return err
				}
				pipe.Set(ctx, s.dataKey(key), raw, 0)
				pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: 0, Member: key})
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.dataKey(key))
		pipe.ZRem(ctx, s.indexKey(), key)
		return nil
	})
	return wrapRedisErr(err)
}

// ConditionalDelete implements Store.
func (s *RedisStore) ConditionalDelete(ctx context.Context, key string, checker func(map[string]interface{}) bool) (bool, error) {
	var deleted bool
	err := s.withRetry(ctx, []string{s.dataKey(key)}, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, s.dataKey(key)).Result()
		if err != nil {
			return err
		}
		val, err := decode(raw)
		if err != nil {
			return err
		}
		if !checker(val) {
			deleted = false
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.dataKey(key))
			pipe.ZRem(ctx, s.indexKey(), key)
			return nil
		})
		if err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// sortedKeysAfter returns every indexed key strictly greater than afterID,
// in lexical order.
func (s *RedisStore) sortedKeysAfter(ctx context.Context, afterID string) ([]string, error) {
	min := "-"
	if afterID != "" {
		min = "(" + afterID
	}
	keys, err := s.client.ZRangeByLex(ctx, s.indexKey(), &redis.ZRangeBy{Min: min, Max: "+"}).Result()
	if err != nil {
		return nil, wrapRedisErr(err)
	}
	sort.Strings(keys)
	return keys, nil
}

// PatchAll implements Store: scans every key in batches of cfg.BatchSize,
// applying filter+patch+updateHandler to matches and writing each batch
// back in one transaction. A batch whose watched keys change concurrently
// is retried in isolation; the overall call fails ErrTooBusy once the
// shared retry budget is exhausted.
func (s *RedisStore) PatchAll(ctx context.Context, filter Filter, patch map[string]interface{}, opts PatchOptions) ([]string, error) {
	handler := effectivePatchHandler(opts)
	allKeys, err := s.sortedKeysAfter(ctx, "")
	if err != nil {
		return nil, err
	}

	var touched []string
	deadline := time.Now().Add(s.cfg.BusyBudget)
	for start := 0; start < len(allKeys); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(allKeys) {
			end = len(allKeys)
		}
		batch := allKeys[start:end]
		watchKeys := make([]string, len(batch))
		for i, k := range batch {
			watchKeys[i] = s.dataKey(k)
		}

		for {
			var batchTouched []string
			txErr := s.client.Watch(ctx, func(tx *redis.Tx) error {
				batchTouched = nil
				writes := map[string]map[string]interface{}{}
				for _, k := range batch {
					raw, err := tx.Get(ctx, s.dataKey(k)).Result()
					if err == redis.Nil {
						continue
					}
					if err != nil {
						return err
					}
					val, err := decode(raw)
					if err != nil {
						return err
					}
					if filter != nil && !filter(val) {
						continue
					}
					merged := handler(val, patch)
					if opts.UpdateHandler != nil {
						merged = opts.UpdateHandler(merged)
					}
					if !Equal(val, merged) {
						writes[k] = merged
					}
					batchTouched = append(batchTouched, k)
				}
				if len(writes) == 0 {
					return nil
				}
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					for k, v := range writes {
						raw, err := encode(v)
						if err != nil {
							return err
						}
						pipe.Set(ctx, s.dataKey(k), raw, 0)
					}
					return nil
				})
				return err
			}, watchKeys...)

			if txErr == nil {
				touched = append(touched, batchTouched...)
				break
			}
			if txErr == redis.TxFailedErr {
				if time.Now().After(deadline) {
					cfsmetrics.KvStoreBusy.WithLabelValues(s.keyPrefix).Inc()
					return touched, ErrTooBusy
				}
				continue
			}
			return touched, wrapRedisErr(txErr)
		}
	}
	return touched, nil
}

// DeleteAll implements Store, using the same batched optimistic-concurrency
// pattern as PatchAll.
func (s *RedisStore) DeleteAll(ctx context.Context, filter Filter) ([]string, error) {
	allKeys, err := s.sortedKeysAfter(ctx, "")
	if err != nil {
		return nil, err
	}

	var touched []string
	deadline := time.Now().Add(s.cfg.BusyBudget)
	for start := 0; start < len(allKeys); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(allKeys) {
			end = len(allKeys)
		}
		batch := allKeys[start:end]
		watchKeys := make([]string, len(batch))
		for i, k := range batch {
			watchKeys[i] = s.dataKey(k)
		}

		for {
			var batchTouched []string
			txErr := s.client.Watch(ctx, func(tx *redis.Tx) error {
				batchTouched = nil
				var toDelete []string
				for _, k := range batch {
					raw, err := tx.Get(ctx, s.dataKey(k)).Result()
					if err == redis.Nil {
						continue
					}
					if err != nil {
						return err
					}
					val, err := decode(raw)
					if err != nil {
						return err
					}
					if filter != nil && !filter(val) {
						continue
					}
					toDelete = append(toDelete, k)
					batchTouched = append(batchTouched, k)
				}
				if len(toDelete) == 0 {
					return nil
				}
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					for _, k := range toDelete {
						pipe.Del(ctx, s.dataKey(k))
						pipe.ZRem(ctx, s.indexKey(), k)
					}
					return nil
				})
				return err
			}, watchKeys...)

			if txErr == nil {
				touched = append(touched, batchTouched...)
				break
			}
			if txErr == redis.TxFailedErr {
				if time.Now().After(deadline) {
					cfsmetrics.KvStoreBusy.WithLabelValues(s.keyPrefix).Inc()
					return touched, ErrTooBusy
				}
				continue
			}
			return touched, wrapRedisErr(txErr)
		}
	}
	return touched, nil
}

// GetAll implements Store's paged/filtered scan.
func (s *RedisStore) GetAll(ctx context.Context, limit int, afterID string, filters []Filter) ([]Entry, bool, error) {
	if limit <= 0 {
		limit = 1000
	}
	keys, err := s.sortedKeysAfter(ctx, afterID)
	if err != nil {
		return nil, false, err
	}

	var page []Entry
	for i := 0; i < len(keys); i += s.cfg.BatchSize {
		end := i + s.cfg.BatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[i:end]
		dataKeys := make([]string, len(batch))
		for j, k := range batch {
			dataKeys[j] = s.dataKey(k)
		}
		vals, err := s.client.MGet(ctx, dataKeys...).Result()
		if err != nil {
			return nil, false, wrapRedisErr(err)
		}
		for j, raw := range vals {
			if raw == nil {
				continue
			}
			val, err := decode(raw.(string))
			if err != nil {
				return nil, false, err
			}
			if passesAll(val, filters) {
				if len(page) >= limit {
					return page, true, nil
				}
				page = append(page, Entry{Key: batch[j], Value: val})
			}
		}
	}
	return page, false, nil
}

func passesAll(v map[string]interface{}, filters []Filter) bool {
	for _, f := range filters {
		if f != nil && !f(v) {
			return false
		}
	}
	return true
}

// IterValues implements Store's restartable lazy iteration.
func (s *RedisStore) IterValues(ctx context.Context, startAfterKey string) (<-chan Entry, <-chan error) {
	out := make(chan Entry)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		keys, err := s.sortedKeysAfter(ctx, startAfterKey)
		if err != nil {
			errc <- err
			return
		}
		for _, k := range keys {
			raw, err := s.client.Get(ctx, s.dataKey(k)).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				errc <- wrapRedisErr(err)
				return
			}
			val, err := decode(raw)
			if err != nil {
				errc <- err
				return
			}
			select {
			case out <- Entry{Key: k, Value: val}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()
	return out, errc
}

// GetKeys implements Store's sorted, deduplicated key listing.
func (s *RedisStore) GetKeys(ctx context.Context, startAfterKey string) ([]string, error) {
	keys, err := s.sortedKeysAfter(ctx, startAfterKey)
	if err != nil {
		return nil, err
	}
	dedup := make([]string, 0, len(keys))
	var last string
	for i, k := range keys {
		if i == 0 || k != last {
			dedup = append(dedup, k)
			last = k
		}
	}
	return dedup, nil
}

// Ping implements Store, used by HealthProbe.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}
