package logger

import (
	"strconv"
	"strings"
	"sync"
)

// sampler lets n out of every d calls through. A zero ratio lets everything through.
type sampler struct {
	mu   sync.Mutex
	n, d int
	tick int
}

func newSampler(n, d int) *sampler {
	s := &sampler{}
	s.Set(n, d)
	return s
}

func (s *sampler) Set(n, d int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick = 0
	if n <= 0 || d <= 0 {
		s.n, s.d = 0, 0
		return
	}
	s.n, s.d = min(n, d), d
}

func (s *sampler) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d == 0 {
		return true
	}
	s.tick = s.tick%s.d + 1
	return s.tick <= s.n
}

// parseRatio accepts "n/d" or a bare "d" meaning 1/d.
func parseRatio(spec string) (int, int) {
	if a, b, ok := strings.Cut(spec, "/"); ok {
		n, err1 := strconv.Atoi(strings.TrimSpace(a))
		d, err2 := strconv.Atoi(strings.TrimSpace(b))
		if err1 == nil && err2 == nil {
			return n, d
		}
		return 0, 0
	}
	if d, err := strconv.Atoi(spec); err == nil && d > 0 {
		return 1, d
	}
	return 0, 0
}
