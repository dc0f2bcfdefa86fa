// Package redis connects go-redis/v9 clients for the Redis engine.
//
//	var cfg redis.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Connect retries PING until the server answers or ConnectTimeout passes.
// Healthcheck wraps PING for readiness probes.
package redis
