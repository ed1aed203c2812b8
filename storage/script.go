package storage

import (
	"sort"
	"strconv"
	"time"
)

// IncrementBelowScript is the Lua implementation of Counter.IncrementBelow for
// Redis-protocol servers.
//
// KEYS[1] is the hash key. ARGV is field, ceiling, ttl seconds, then meta
// field/value pairs. It returns {value, incremented}.
const IncrementBelowScript = `
local current = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if current >= tonumber(ARGV[2]) then
  return {current, 0}
end
current = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
for i = 4, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
local ttl = tonumber(ARGV[3])
if ttl > 0 and redis.call('TTL', KEYS[1]) == -1 then
  redis.call('EXPIRE', KEYS[1], ttl)
end
return {current, 1}
`

// IncrementBelowArgs builds the ARGV for IncrementBelowScript. Meta fields are
// sorted so identical calls produce identical commands.
func IncrementBelowArgs(field string, ceiling int64, ttl time.Duration, meta map[string]string) []string {
	args := make([]string, 0, 3+2*len(meta))
	args = append(args, field, strconv.FormatInt(ceiling, 10), strconv.FormatInt(int64(ttl/time.Second), 10))

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, meta[k])
	}
	return args
}

// ParseIncrementResult interprets the {value, incremented} reply of
// IncrementBelowScript.
func ParseIncrementResult(reply []int64) (int64, bool, error) {
	if len(reply) != 2 {
		return 0, false, errMalformedReply
	}
	return reply[0], reply[1] == 1, nil
}
