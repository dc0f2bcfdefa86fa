package redisqueue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Timestamps are stored as unix microseconds so Lua scripts can compare them.
// The same value doubles as sorted set score.

func micros(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func optionalMicros(t *time.Time) string {
	if t == nil {
		return ""
	}
	return micros(*t)
}

// jobFields flattens j into HSET field/value pairs
func jobFields(j *queue.Job) []any {
	var errMsg, hasErr string
	if j.Error != nil {
		errMsg, hasErr = *j.Error, "1"
	}

	return []any{
		"id", j.ID.String(),
		"name", j.Name,
		"data", string(j.Data),
		"state", string(j.State),
		"priority", strconv.Itoa(j.Priority),
		"retry_count", strconv.Itoa(j.RetryCount),
		"retry_limit", strconv.Itoa(j.RetryLimit),
		"retry_delay", strconv.Itoa(j.RetryDelay),
		"retry_backoff", strconv.FormatBool(j.RetryBackoff),
		"expire_in_seconds", strconv.Itoa(j.ExpireInSeconds),
		"singleton_key", j.SingletonKey,
		"singleton_on", optionalMicros(j.SingletonOn),
		"dead_letter", j.DeadLetter,
		"start_after", micros(j.StartAfter),
		"started_on", optionalMicros(j.StartedOn),
		"completed_on", optionalMicros(j.CompletedOn),
		"created_on", micros(j.CreatedOn),
		"error", errMsg,
		"has_error", hasErr,
	}
}

// parseJob is the inverse of jobFields
func parseJob(m map[string]string) (queue.Job, error) {
	if len(m) == 0 {
		return queue.Job{}, queue.ErrJobNotFound
	}

	p := fieldParser{m: m}
	j := queue.Job{
		Name:            m["name"],
		State:           queue.JobState(m["state"]),
		Priority:        p.int("priority"),
		RetryCount:      p.int("retry_count"),
		RetryLimit:      p.int("retry_limit"),
		RetryDelay:      p.int("retry_delay"),
		RetryBackoff:    m["retry_backoff"] == "true",
		ExpireInSeconds: p.int("expire_in_seconds"),
		SingletonKey:    m["singleton_key"],
		SingletonOn:     p.optionalTime("singleton_on"),
		DeadLetter:      m["dead_letter"],
		StartAfter:      p.time("start_after"),
		StartedOn:       p.optionalTime("started_on"),
		CompletedOn:     p.optionalTime("completed_on"),
		CreatedOn:       p.time("created_on"),
	}
	if data := m["data"]; data != "" {
		j.Data = json.RawMessage(data)
	}
	if m["has_error"] == "1" {
		errMsg := m["error"]
		j.Error = &errMsg
	}

	id, err := uuid.Parse(m["id"])
	if err != nil {
		p.err = fmt.Errorf("field id: %w", err)
	}
	j.ID = id

	if p.err != nil {
		return queue.Job{}, fmt.Errorf("decode job hash: %w", p.err)
	}
	return j, nil
}

// fieldParser keeps the first conversion error
type fieldParser struct {
	m   map[string]string
	err error
}

func (p *fieldParser) int(field string) int {
	v, ok := p.m[field]
	if !ok || v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %s: %w", field, err)
	}
	return n
}

func (p *fieldParser) time(field string) time.Time {
	if t := p.optionalTime(field); t != nil {
		return *t
	}
	return time.Time{}
}

func (p *fieldParser) optionalTime(field string) *time.Time {
	v, ok := p.m[field]
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("field %s: %w", field, err)
		}
		return nil
	}
	t := time.UnixMicro(n).UTC()
	return &t
}
