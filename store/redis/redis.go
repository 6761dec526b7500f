// Package redis implements generic.Store on Redis.
//
// Each document is a hash whose fields hold JSON-encoded values plus a "_doc"
// marker, so an empty document still exists. Every primitive is a Lua script:
// Redis runs scripts atomically, which gives single-document atomicity and a
// true create-if-absent (EXISTS and HSET in one step). Collections are a
// list of ids next to one hash per entry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/warp/progress-ledger/generic"
)

const docMarker = "_doc"

var (
	createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], '_doc', '1', unpack(ARGV))
return 1
`)

	updateScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if #ARGV > 0 then redis.call('HSET', KEYS[1], unpack(ARGV)) end
return 1
`)

	// ARGV: n, field1, delta1, ..., fieldN, deltaN, setField1, setValue1, ...
	incrementScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
local n = tonumber(ARGV[1])
for i = 0, n - 1 do
  local field = ARGV[2 + i * 2]
  local v = redis.call('HGET', KEYS[1], field)
  if v and v ~= 'null' and not string.match(v, '^%-?%d+$') then
    return redis.error_reply('field ' .. field .. ' is not an integer')
  end
end
for i = 0, n - 1 do
  local field = ARGV[2 + i * 2]
  if redis.call('HGET', KEYS[1], field) == 'null' then redis.call('HSET', KEYS[1], field, '0') end
  redis.call('HINCRBY', KEYS[1], field, ARGV[3 + i * 2])
end
local rest = 2 + n * 2
if #ARGV >= rest then redis.call('HSET', KEYS[1], unpack(ARGV, rest)) end
return 1
`)

	// KEYS: entry hash, collection index list. ARGV: id, field1, value1, ...
	appendScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], '_doc', '1', unpack(ARGV, 2))
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)
)

// Store implements generic.ReadableStore on Redis.
type Store struct {
	rdb    *goredis.Client
	prefix string
}

var _ generic.ReadableStore = (*Store)(nil)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // prepended to every key, e.g. "ledger:"
}

// New connects and pings Redis.
func New(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb, prefix: opts.Prefix}, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Flush deletes every key under the prefix. Used by integration tests.
func (s *Store) Flush(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *Store) docKey(key generic.DocKey) string { return s.prefix + string(key) }
func (s *Store) indexKey(c generic.DocKey) string { return s.prefix + "idx:" + string(c) }

func (s *Store) Get(ctx context.Context, key generic.DocKey) (generic.Fields, error) {
	m, err := s.rdb.HGetAll(ctx, s.docKey(key)).Result()
	if err != nil {
		return nil, generic.Unavailable("get", key, err)
	}
	if len(m) == 0 {
		return nil, generic.ErrNotFound
	}
	return fromHash(m), nil
}

func (s *Store) CreateIfAbsent(ctx context.Context, key generic.DocKey, doc generic.Fields) error {
	created, err := createScript.Run(ctx, s.rdb, []string{s.docKey(key)}, flatten(doc)...).Int()
	if err != nil {
		return generic.Unavailable("create", key, err)
	}
	if created == 0 {
		return generic.ErrAlreadyExists
	}
	return nil
}

func (s *Store) UpdateFields(ctx context.Context, key generic.DocKey, set generic.Fields) error {
	ok, err := updateScript.Run(ctx, s.rdb, []string{s.docKey(key)}, flatten(set)...).Int()
	if err != nil {
		return generic.Unavailable("update", key, err)
	}
	if ok == 0 {
		return generic.ErrNotFound
	}
	return nil
}

func (s *Store) Increment(ctx context.Context, key generic.DocKey, deltas map[string]int64, set generic.Fields) error {
	fields := make([]string, 0, len(deltas))
	for f := range deltas {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	args := []any{len(fields)}
	for _, f := range fields {
		args = append(args, f, deltas[f])
	}
	args = append(args, flatten(set)...)

	ok, err := incrementScript.Run(ctx, s.rdb, []string{s.docKey(key)}, args...).Int()
	if err != nil {
		var rerr goredis.Error
		if errors.As(err, &rerr) && strings.Contains(err.Error(), "not an integer") {
			return fmt.Errorf("increment %s: %w", key, err)
		}
		return generic.Unavailable("increment", key, err)
	}
	if ok == 0 {
		return generic.ErrNotFound
	}
	return nil
}

func (s *Store) Append(ctx context.Context, collection generic.DocKey, id string, doc generic.Fields) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	args := append([]any{id}, flatten(doc)...)
	keys := []string{s.docKey(collection.Child(id)), s.indexKey(collection)}

	ok, err := appendScript.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return "", generic.Unavailable("append", collection, err)
	}
	if ok == 0 {
		return "", generic.ErrAlreadyExists
	}
	return id, nil
}

func (s *Store) List(ctx context.Context, collection generic.DocKey) ([]generic.Fields, error) {
	ids, err := s.rdb.LRange(ctx, s.indexKey(collection), 0, -1).Result()
	if err != nil {
		return nil, generic.Unavailable("list", collection, err)
	}
	if len(ids) == 0 {
		return []generic.Fields{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.docKey(collection.Child(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, generic.Unavailable("list", collection, err)
	}

	out := make([]generic.Fields, 0, len(ids))
	for _, cmd := range cmds {
		out = append(out, fromHash(cmd.Val()))
	}
	return out, nil
}

// flatten turns Fields into HSET arguments (field, value, field, value, ...).
func flatten(doc generic.Fields) []any {
	names := make([]string, 0, len(doc))
	for k := range doc {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]any, 0, len(doc)*2)
	for _, k := range names {
		out = append(out, k, string(doc[k]))
	}
	return out
}

func fromHash(m map[string]string) generic.Fields {
	out := make(generic.Fields, len(m))
	for k, v := range m {
		if k == docMarker {
			continue
		}
		out[k] = json.RawMessage(v)
	}
	return out
}
