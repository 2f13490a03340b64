// Package redis stores audit entries in Redis: one JSON string per entry plus
// sorted-set indexes scored by timestamp for the supported filters.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"labtrail/internal/audit"
	"labtrail/pkg/domain"
	"labtrail/pkg/platform/sentinel"
)

const (
	keyPrefix  = "audit:"
	mgetChunk  = 256
	indexAll   = keyPrefix + "idx:all"
	entryField = keyPrefix + "entry:"
)

type Store struct {
	client redis.Cmdable
}

func New(client redis.Cmdable) *Store {
	return &Store{client: client}
}

func entryKey(id domain.AuditEntryID) string { return entryField + id.String() }

func actorIndex(id domain.UserID) string { return keyPrefix + "idx:actor:" + id.String() }

func resourceIndex(rt audit.ResourceType, id string) string {
	return keyPrefix + "idx:resource:" + string(rt) + ":" + id
}

func typeIndex(rt audit.ResourceType) string { return keyPrefix + "idx:type:" + string(rt) }

func actionIndex(a audit.Action) string { return keyPrefix + "idx:action:" + string(a) }

func score(e audit.Entry) float64 { return float64(e.Timestamp.UnixMicro()) }

// Append writes the entry once; a second append with the same id is a conflict.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	created, err := s.client.SetNX(ctx, entryKey(entry.ID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	if !created {
		return fmt.Errorf("audit entry %s: %w", entry.ID, sentinel.ErrConflict)
	}

	member := redis.Z{Score: score(entry), Member: entry.ID.String()}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, indexAll, member)
		pipe.ZAdd(ctx, actorIndex(entry.ActorID), member)
		pipe.ZAdd(ctx, typeIndex(entry.ResourceType), member)
		pipe.ZAdd(ctx, actionIndex(entry.Action), member)
		if entry.ResourceID != nil {
			pipe.ZAdd(ctx, resourceIndex(entry.ResourceType, *entry.ResourceID), member)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index audit entry: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id domain.AuditEntryID) (audit.Entry, error) {
	raw, err := s.client.Get(ctx, entryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return audit.Entry{}, fmt.Errorf("audit entry %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return audit.Entry{}, fmt.Errorf("read audit entry: %w", err)
	}
	var entry audit.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return audit.Entry{}, fmt.Errorf("decode audit entry: %w", err)
	}
	return entry, nil
}

// Query walks the narrowest index for the filter newest first, then applies
// the remaining predicates in memory.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !filter.From.IsZero() {
		rng.Min = strconv.FormatInt(filter.From.UnixMicro(), 10)
	}
	if !filter.To.IsZero() {
		rng.Max = strconv.FormatInt(filter.To.UnixMicro(), 10)
	}
	ids, err := s.client.ZRevRangeByScore(ctx, pickIndex(filter), rng).Result()
	if err != nil {
		return nil, fmt.Errorf("scan audit index: %w", err)
	}

	out := make([]audit.Entry, 0, len(ids))
	for start := 0; start < len(ids); start += mgetChunk {
		end := min(start+mgetChunk, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, entryField+id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("read audit entries: %w", err)
		}
		for _, v := range values {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var entry audit.Entry
			if err := json.Unmarshal([]byte(str), &entry); err != nil {
				return nil, fmt.Errorf("decode audit entry: %w", err)
			}
			if !filter.Matches(entry) {
				continue
			}
			out = append(out, entry)
			if filter.Limit > 0 && len(out) == filter.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func pickIndex(f audit.Filter) string {
	switch {
	case f.ActorID != nil:
		return actorIndex(*f.ActorID)
	case f.ResourceType != "" && f.ResourceID != "":
		return resourceIndex(f.ResourceType, f.ResourceID)
	case f.Action != "":
		return actionIndex(f.Action)
	case f.ResourceType != "":
		return typeIndex(f.ResourceType)
	default:
		return indexAll
	}
}
