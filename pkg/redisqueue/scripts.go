package redisqueue

import "github.com/redis/go-redis/v9"

// Insert scripts share one layout.
//
// KEYS: 1 job hash, 2 queue zset, 3 jobs zset, 4 names set,
// 5 singleton marker, 6 throttle or debounce marker.
//
// ARGV: 1 id, 2 name, 3 start_after, 4 created_on, 5 "1" when the singleton
// marker applies, 6 throttle window in ms or debounced data, 7 job key prefix,
// 8.. job hash field/value pairs.
const insertJobLua = `
local function insert_job()
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return false
	end
	if ARGV[5] == '1' and not redis.call('SET', KEYS[5], ARGV[1], 'NX') then
		local holder = redis.call('GET', KEYS[5])
		local state = holder and redis.call('HGET', ARGV[7] .. holder, 'state')
		if state == 'created' or state == 'retry' or state == 'active' then
			return false
		end
		redis.call('SET', KEYS[5], ARGV[1])
	end
	redis.call('HSET', KEYS[1], unpack(ARGV, 8))
	redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
	redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
	redis.call('SADD', KEYS[4], ARGV[2])
	return true
end
`

var sendScript = redis.NewScript(insertJobLua + `
if insert_job() then
	return 1
end
return 0
`)

// The window marker is dropped again when the job itself is declined
var throttleScript = redis.NewScript(insertJobLua + `
if not redis.call('SET', KEYS[6], ARGV[1], 'NX', 'PX', ARGV[6]) then
	return 0
end
if insert_job() then
	return 1
end
redis.call('DEL', KEYS[6])
return 0
`)

// A pending job still in created state absorbs the send
var debounceScript = redis.NewScript(insertJobLua + `
local pending = redis.call('GET', KEYS[6])
if pending then
	local key = ARGV[7] .. pending
	if redis.call('HGET', key, 'state') == 'created' then
		redis.call('HSET', key, 'data', ARGV[6], 'start_after', ARGV[3])
		redis.call('ZADD', KEYS[2], ARGV[3], pending)
		return 0
	end
end
if insert_job() then
	redis.call('SET', KEYS[6], ARGV[1])
	return 1
end
return 0
`)

// claimScript moves up to limit due jobs from the queue zset to the active
// zset, higher priority first, then oldest first. Only the scan earliest due
// ids are inspected per call, so priority ordering holds within that window.
//
// KEYS: 1 queue zset, 2 active zset.
// ARGV: 1 now, 2 limit, 3 job key prefix, 4 default expiry in seconds, 5 scan.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[5]))
local due = {}
for _, id in ipairs(ids) do
	local key = ARGV[3] .. id
	local f = redis.call('HMGET', key, 'state', 'priority', 'created_on', 'expire_in_seconds')
	if f[1] == 'created' or f[1] == 'retry' then
		table.insert(due, {
			id = id,
			key = key,
			priority = tonumber(f[2]) or 0,
			created = tonumber(f[3]) or 0,
			expire = tonumber(f[4]) or 0,
		})
	else
		redis.call('ZREM', KEYS[1], id)
	end
end

table.sort(due, function(a, b)
	if a.priority ~= b.priority then
		return a.priority > b.priority
	end
	return a.created < b.created
end)

local claimed = {}
for i = 1, math.min(tonumber(ARGV[2]), #due) do
	local job = due[i]
	local expire = job.expire
	if expire <= 0 then
		expire = tonumber(ARGV[4])
	end
	redis.call('ZREM', KEYS[1], job.id)
	local deadline = string.format('%.0f', tonumber(ARGV[1]) + expire * 1000000)
	redis.call('ZADD', KEYS[2], deadline, job.id)
	redis.call('HSET', job.key, 'state', 'active', 'started_on', ARGV[1])
	table.insert(claimed, job.id)
end
return claimed
`)

// releaseScript deletes a singleton marker only while it still points at the job.
//
// KEYS: 1 singleton marker. ARGV: 1 job id.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
