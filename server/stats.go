package server

import "time"

// startStatsReporter logs a counters snapshot every StatsInterval until Stop.
func (s *Server) startStatsReporter() {
	if s.cfg.StatsInterval <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		ticker := time.NewTicker(s.cfg.StatsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				fields := s.collector.Snapshot().Fields()
				fields["peers"] = s.registry.Len()
				s.logger.Info("relay stats", fields)
			}
		}
	}()
}
