package redis

import goredis "github.com/redis/go-redis/v9"

// claimScript claims up to ARGV[2] unclaimed jobs due at or before ARGV[1],
// ordered by next fire time then priority. Tokens are ARGV[6..].
var claimScript = goredis.NewScript(`
local before = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local owner = ARGV[3]
local expires = ARGV[4]
local prefix = ARGV[5]
local scan = limit + redis.call('ZCARD', KEYS[2])
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', before, 'WITHSCORES', 'LIMIT', 0, scan)
local cands = {}
for i = 1, #due, 2 do
  local key = prefix .. due[i]
  local token = redis.call('HGET', key, 'claim_token')
  if not token or token == '' then
    local prio = tonumber(redis.call('HGET', key, 'priority') or '0') or 0
    table.insert(cands, {due[i], tonumber(due[i + 1]), prio})
  end
end
table.sort(cands, function(a, b)
  if a[2] ~= b[2] then return a[2] < b[2] end
  return a[3] > b[3]
end)
local out = {}
for i = 1, math.min(limit, #cands) do
  local id = cands[i][1]
  redis.call('HSET', prefix .. id, 'claimed_by', owner, 'claim_token', ARGV[5 + i], 'claim_until', expires)
  redis.call('ZADD', KEYS[2], expires, id)
  table.insert(out, id)
end
return out
`)

// renewScript extends a lease held by ARGV[1].
var renewScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'claim_token') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'claim_until', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// confirmScript advances a claimed job and drops the lease.
var confirmScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'claim_token') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'last_fired_at', ARGV[3], 'next_fire_at', ARGV[4], 'updated_at', ARGV[6],
  'claimed_by', '', 'claim_token', '', 'claim_until', '')
redis.call('ZREM', KEYS[2], ARGV[2])
if ARGV[5] ~= '' and redis.call('HGET', KEYS[1], 'enabled') == '1' then
  redis.call('ZADD', KEYS[3], ARGV[5], ARGV[2])
else
  redis.call('ZREM', KEYS[3], ARGV[2])
end
return 1
`)

// releaseScript drops a lease held by ARGV[1] without advancing the job.
var releaseScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'claim_token') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'claimed_by', '', 'claim_token', '', 'claim_until', '')
redis.call('ZREM', KEYS[2], ARGV[2])
return 1
`)

// enableScript flips the enabled flag, stores the next fire time and drops
// any lease.
var enableScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('HSET', KEYS[1], 'enabled', ARGV[2], 'next_fire_at', ARGV[3], 'updated_at', ARGV[5],
  'claimed_by', '', 'claim_token', '', 'claim_until', '')
redis.call('ZREM', KEYS[2], ARGV[1])
if ARGV[2] == '1' and ARGV[4] ~= '' then
  redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
else
  redis.call('ZREM', KEYS[3], ARGV[1])
end
return 1
`)

// reapScript releases every lease that expired at or before ARGV[1].
var reapScript = goredis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(expired) do
  local key = ARGV[2] .. id
  if redis.call('EXISTS', key) == 1 then
    redis.call('HSET', key, 'claimed_by', '', 'claim_token', '', 'claim_until', '')
  end
  redis.call('ZREM', KEYS[1], id)
end
return #expired
`)

// appendScript records an attempt unless its run ID or ledger key exists.
var appendScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
if redis.call('SETNX', KEYS[2], ARGV[3]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'outcome', ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[3])
redis.call('ZADD', KEYS[4], ARGV[4], ARGV[3])
return 1
`)

// finalizeScript replaces a pending or running attempt.
var finalizeScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'outcome')
if not cur then return -1 end
if cur ~= 'pending' and cur ~= 'running' then return 0 end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'outcome', ARGV[2])
return 1
`)

// acquireSlotScript sets the slot to ARGV[1] for ARGV[2] milliseconds
// unless another holder owns it.
var acquireSlotScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and cur ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// renewSlotScript extends the slot owned by ARGV[1].
var renewSlotScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then return 0 end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// releaseSlotScript deletes the slot when ARGV[1] owns it.
var releaseSlotScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var scripts = []*goredis.Script{
	claimScript, renewScript, confirmScript, releaseScript,
	enableScript, reapScript, appendScript, finalizeScript,
	acquireSlotScript, renewSlotScript, releaseSlotScript,
}
