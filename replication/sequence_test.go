package replication

import (
	"sync"
	"testing"
)

func TestObserve(t *testing.T) {
	cases := []struct {
		name     string
		start    uint64
		observed []uint64
		expected uint64
	}{
		{name: "fresh", start: 0, observed: []uint64{3}, expected: 3},
		{name: "stale ignored", start: 9, observed: []uint64{4}, expected: 9},
		{name: "out of order", start: 0, observed: []uint64{2, 7, 5}, expected: 7},
		{name: "nothing", start: 1, observed: nil, expected: 1},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := &Sequence{current: c.start}
			for _, id := range c.observed {
				s.Observe(id)
			}

			if got := s.Current(); got != c.expected {
				t.Errorf("Incorrect sequence, expected=%d got=%d", c.expected, got)
			}
		})
	}
}

func TestNextResumesAboveObserved(t *testing.T) {
	s := &Sequence{}
	s.Observe(5)

	if got := s.Next(); got != 6 {
		t.Errorf("Expected next id 6, got %d", got)
	}
}

func TestNextConcurrent(t *testing.T) {
	s := &Sequence{}
	wg := sync.WaitGroup{}

	var mu sync.Mutex
	seen := map[uint64]bool{}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := s.Next()

			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}

	wg.Wait()

	if len(seen) != 50 {
		t.Errorf("Expected 50 distinct ids, got %d", len(seen))
	}
	if s.Current() != 50 {
		t.Errorf("Expected current 50, got %d", s.Current())
	}
}
