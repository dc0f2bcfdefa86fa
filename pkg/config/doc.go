// Package config loads env-tagged structs from the process environment using
// github.com/caarlos0/env/v11, with optional dotenv files read by
// github.com/joho/godotenv.
//
// Load parses each config type once and caches it for the process lifetime.
// Parse skips the cache and accepts a variable prefix, which is handy when one
// process needs two configs of the same type:
//
//	primary, err := config.Parse[pg.Config]("")
//	reporting, err := config.Parse[pg.Config]("REPORTING_")
//
// Reset clears the cache between tests.
package config
