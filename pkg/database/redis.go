package database

import (
	"context"
	"strings"

	"netfuzz/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type RedisParams struct {
	fx.In

	Config *config.AppConfig
	Logger *zap.Logger
}

// NewRedisClient returns a nil client when neither a URL nor sentinels are configured.
func NewRedisClient(p RedisParams) (*redis.Client, error) {
	var client *redis.Client
	var err error

	switch {
	case p.Config.RedisUrl != "":
		client, err = newRedisClient(p.Config.RedisUrl)
	case p.Config.RedisSentinelHosts != "":
		client, err = newRedisFailoverClient(p.Config.RedisSentinelHosts, p.Config.RedisMasterName)
	default:
		p.Logger.Debug("no redis configured, stats mirror disabled")
		return nil, nil
	}
	if err != nil {
		p.Logger.Error("failed to create redis client", zap.Error(err))
		return nil, err
	}

	p.Logger.Debug("redis client created")
	return client, nil
}

func newRedisFailoverClient(redisSentinelHostsString, redisMasterName string) (*redis.Client, error) {
	redisSentinelHosts := strings.Split(redisSentinelHostsString, ",")

	client := redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:    redisMasterName,
		SentinelAddrs: redisSentinelHosts,
		DB:            0,
	})

	// Test the connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

func newRedisClient(redisUrl string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisUrl)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)

	// Test the connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return client, nil
}
