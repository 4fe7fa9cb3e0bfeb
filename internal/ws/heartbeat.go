package ws

import "time"

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

// startHeartbeat begins a background goroutine that periodically pings all
// connections and closes those that have gone stale (no frame read within
// Interval + Timeout). The goroutine exits when the server's done channel is
// closed.
func (s *Server) startHeartbeat(config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.checkConnections(config, time.Now())
			}
		}
	}()
}

// checkConnections removes connections idle for longer than Interval +
// Timeout and pings the rest. Browsers answer the protocol-level ping
// (opcode 0x9) automatically.
func (s *Server) checkConnections(config HeartbeatConfig, now time.Time) {
	deadline := config.Interval + config.Timeout

	for _, c := range s.conns.All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			s.log.Info().Str("session", c.ID).Dur("idle", idle.Round(time.Second)).Msg("heartbeat timeout")
			s.RemoveConnection(c)
			continue
		}
		c.Ping()
	}
}
