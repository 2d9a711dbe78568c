package router

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/PropFox/internal/pkg/cache"
	"github.com/ManuelReschke/PropFox/internal/pkg/env"
)

// limiterDatabase keeps rate limit counters apart from the cache and job queue (DB 0).
const limiterDatabase = 1

// NewLimiterStorage returns Redis-backed storage for the API rate limiter so
// limits hold across instances.
func NewLimiterStorage() fiber.Storage {
	opts := cache.Options()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	if opts.Password != "" {
		password = opts.Password
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
