package redisqueue

import (
	"strconv"
	"time"
)

// keys builds every Redis key of an engine under one prefix.
//
//	{prefix}:job:{id}                 hash with the job fields
//	{prefix}:queue:{name}             zset of claimable ids scored by start_after
//	{prefix}:active:{name}            zset of active ids scored by expiry deadline
//	{prefix}:jobs:{name}              zset of all ids scored by created_on
//	{prefix}:names                    set of job names that ever had a job
//	{prefix}:singleton:{name}:{key}   id of the in-flight job holding the key
//	{prefix}:throttle:{name}:{key}    window marker with a PX expiry
//	{prefix}:debounce:{name}:{key}    id of the pending debounced job
//	{prefix}:schedules                hash of schedule name to JSON
//	{prefix}:tick:{name}:{unix}       guard for one cron tick
type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return keys{prefix: prefix + ":"}
}

func (k keys) jobPrefix() string { return k.prefix + "job:" }

func (k keys) job(id string) string { return k.jobPrefix() + id }

func (k keys) queue(name string) string { return k.prefix + "queue:" + name }

func (k keys) active(name string) string { return k.prefix + "active:" + name }

func (k keys) jobs(name string) string { return k.prefix + "jobs:" + name }

func (k keys) names() string { return k.prefix + "names" }

func (k keys) singleton(name, key string) string {
	return k.prefix + "singleton:" + name + ":" + key
}

func (k keys) throttle(name, key string) string {
	return k.prefix + "throttle:" + name + ":" + key
}

func (k keys) debounce(name, key string) string {
	return k.prefix + "debounce:" + name + ":" + key
}

func (k keys) debouncePattern() string { return k.prefix + "debounce:*" }

func (k keys) schedules() string { return k.prefix + "schedules" }

func (k keys) tick(name string, tick time.Time) string {
	return k.prefix + "tick:" + name + ":" + strconv.FormatInt(tick.Unix(), 10)
}
