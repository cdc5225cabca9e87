package sensor

import "sync"

// StaticSource replays a fixed sequence of readings for sensor 0; once the
// sequence is exhausted the last reading repeats.
type StaticSource struct {
	mu       sync.Mutex
	readings []int64
	next     int
}

func NewStaticSource(readings ...int64) *StaticSource {
	return &StaticSource{readings: readings}
}

func (s *StaticSource) Sensors() []int {
	return []int{0}
}

func (s *StaticSource) ReadTemperature(id int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != 0 || len(s.readings) == 0 {
		return 0, ErrSensorMissing
	}

	value := s.readings[s.next]
	if s.next < len(s.readings)-1 {
		s.next++
	}
	return value, nil
}
