package app

import (
	"fmt"

	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/realtime/bus"
)

// wireBus picks Redis Pub/Sub when REDIS_ADDR is set so several API
// replicas share one event stream; otherwise events stay in process.
func wireBus(log *logger.Logger, cfg Config) (bus.Bus, error) {
	if cfg.RedisAddr == "" {
		log.Info("Wiring local realtime bus...")
		return bus.NewLocalBus(log), nil
	}
	log.Info("Wiring redis realtime bus...", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
	b, err := bus.NewRedisBus(log, bus.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Channel:  cfg.RedisChannel,
	})
	if err != nil {
		return nil, fmt.Errorf("init redis bus: %w", err)
	}
	return b, nil
}
