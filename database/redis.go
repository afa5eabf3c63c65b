package database

import (
	"context"
	"log"
	"time"

	config "github.com/kevinochieng254/giglink/configs"
	"github.com/redis/go-redis/v9"
)

// Redis backs every cross-process concern: presence, rate-limit windows,
// the conversation cache, and the event fanout channel.
var Redis *redis.Client

func ConnectRedis() {
	url := config.ConfigOr("REDIS_URL", "redis://localhost:6379/0")

	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("🔥 Invalid REDIS_URL: %v", err)
	}

	Redis = redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := Redis.Ping(ctx).Err(); err != nil {
		log.Fatalf("🔥 Failed to connect to Redis: %v", err)
	}

	log.Println("✅ Redis connected successfully")
}
