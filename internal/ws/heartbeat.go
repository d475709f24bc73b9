package ws

import (
	"time"

	"go.uber.org/zap"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// startHeartbeat periodically pings every connection and closes those that
// have gone stale (no frames within Interval + Timeout). It returns when the
// hub's done channel is closed.
func (h *Hub) startHeartbeat(config HeartbeatConfig) {
	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.checkConnections(config)
		}
	}
}

// checkConnections evicts connections without a successful read within
// Interval + Timeout and pings the rest. Browsers answer the protocol-level
// ping automatically.
func (h *Hub) checkConnections(config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range h.conns.All() {
		if idle := now.Sub(c.LastActive()); idle > deadline {
			h.logger.Info("heartbeat timeout",
				zap.String("conn_id", c.ID),
				zap.String("user_id", c.UserID),
				zap.Duration("idle", idle.Round(time.Second)),
			)
			h.removeConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			h.logger.Debug("heartbeat ping failed", zap.String("conn_id", c.ID), zap.Error(err))
			h.removeConnection(c)
		}
	}
}
