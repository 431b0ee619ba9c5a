package memory

// DefaultScanInterval is the number of allocations between cycle scans.
const DefaultScanInterval = 10000

// Scanner runs Collect periodically. The object graph is confined to one
// goroutine, so instead of a timer the owner calls Tick at points where no
// borrow guards are outstanding, and a scan runs once enough allocations
// have happened since the previous one.
type Scanner struct {
	m        *Manager
	interval int
	enabled  bool

	mark       uint64 // Allocated count at the last scan
	sweepCount uint64
	lastStats  *CollectStats
}

// NewScanner returns a scanner over m. A non-positive interval disables
// periodic scans; CollectNow still works.
func NewScanner(m *Manager, interval int) *Scanner {
	return &Scanner{
		m:        m,
		interval: interval,
		enabled:  interval > 0,
	}
}

// Tick runs a scan if one is due and returns its stats, or nil.
func (s *Scanner) Tick() *CollectStats {
	if !s.enabled {
		return nil
	}
	if s.m.stats.Allocated-s.mark < uint64(s.interval) {
		return nil
	}
	return s.CollectNow()
}

// CollectNow scans immediately regardless of the interval.
func (s *Scanner) CollectNow() *CollectStats {
	stats := s.m.Collect()
	s.mark = s.m.stats.Allocated
	s.sweepCount++
	s.lastStats = stats
	return stats
}

// SetEnabled turns periodic scanning on or off.
func (s *Scanner) SetEnabled(enabled bool) {
	s.enabled = enabled && s.interval > 0
}

// IsEnabled reports whether Tick may scan.
func (s *Scanner) IsEnabled() bool {
	return s.enabled
}

// Interval returns the allocation interval.
func (s *Scanner) Interval() int {
	return s.interval
}

// SweepCount returns the number of scans performed.
func (s *Scanner) SweepCount() uint64 {
	return s.sweepCount
}

// LastStats returns the most recent scan's stats, or nil.
func (s *Scanner) LastStats() *CollectStats {
	return s.lastStats
}
