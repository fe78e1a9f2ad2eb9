package redis

import goredis "github.com/redis/go-redis/v9"

// dequeueScript claims up to ARGV[2] due members of the queue Sorted Set.
// Members whose Hash is no longer pending or retrying are dropped.
//
// KEYS[1] queue key. ARGV[1] now (unix ms), ARGV[2] limit,
// ARGV[3] now (RFC3339), ARGV[4] job key prefix.
var dequeueScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local claimed = {}
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	local key = ARGV[4] .. id
	local state = redis.call('HGET', key, 'state')
	if state == 'pending' or state == 'retrying' then
		redis.call('HSET', key,
			'state', 'running',
			'started_at', ARGV[3],
			'heartbeat_at', ARGV[3],
			'updated_at', ARGV[3])
		table.insert(claimed, id)
	end
end
return claimed
`)

// cancelScript cancels a job that has not started.
//
// KEYS[1] job key. ARGV[1] now (RFC3339), ARGV[2] queue key prefix,
// ARGV[3] job id. Returns 1 when cancelled.
var cancelScript = goredis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state ~= 'pending' and state ~= 'retrying' then
	return 0
end
local queue = redis.call('HGET', KEYS[1], 'queue')
redis.call('HSET', KEYS[1],
	'state', 'cancelled',
	'completed_at', ARGV[1],
	'updated_at', ARGV[1])
redis.call('ZREM', ARGV[2] .. queue, ARGV[3])
return 1
`)

// releaseScript deletes the lock only if holder owns it.
//
// KEYS[1] lock key. ARGV[1] holder.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// acquireScript takes or refreshes a lock.
//
// KEYS[1] lock key. ARGV[1] holder, ARGV[2] ttl (ms). Returns 1 on success.
var acquireScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or cur == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', tonumber(ARGV[2]))
	return 1
end
return 0
`)

// updateRunScript records a recurring firing. next_run_at is written only
// when ARGV[4] is set and the stored schedule equals ARGV[5].
//
// KEYS[1] recurring key. ARGV[1] last run (RFC3339), ARGV[2] last job id,
// ARGV[3] now (RFC3339), ARGV[4] next run or "", ARGV[5] fired schedule.
// Returns 0 when the entry is missing.
var updateRunScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1],
	'last_run_at', ARGV[1],
	'last_job_id', ARGV[2],
	'updated_at', ARGV[3])
if ARGV[4] ~= '' and redis.call('HGET', KEYS[1], 'schedule') == ARGV[5] then
	redis.call('HSET', KEYS[1], 'next_run_at', ARGV[4])
end
return 1
`)
