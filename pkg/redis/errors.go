package redis

import "errors"

var (
	// ErrFailedToParseRedisConnString is returned by Connect for a malformed REDIS_URL
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	// ErrRedisNotReady is returned when every connection attempt failed within ConnectTimeout
	ErrRedisNotReady      = errors.New("redis did not become ready within the given time period")
	ErrEmptyConnectionURL = errors.New("empty redis connection URL")
	ErrHealthcheckFailed  = errors.New("redis healthcheck failed")
)
