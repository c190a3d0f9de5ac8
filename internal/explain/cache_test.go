package explain

import (
	"sync"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCacheBuildsOncePerDump(t *testing.T) {
	c := NewCache(nil, 0)
	var wg sync.WaitGroup
	got := make([]*Explainer, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = c.Get(sampleDump)
		}(i)
	}
	wg.Wait()
	for _, e := range got[1:] {
		if e != got[0] {
			t.Fatalf("expected a single shared explainer")
		}
	}
	stats := c.Stats()
	if stats.Builds != 1 || stats.Hits != 15 || stats.Entries != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCacheEvictsOldest(t *testing.T) {
	c := NewCache(nil, 2)
	first := c.Get(header + "a <= 1: X")
	c.Get(header + "b <= 1: X")
	c.Get(header + "c <= 1: X")
	if c.Stats().Entries != 2 {
		t.Fatalf("expected 2 entries got %d", c.Stats().Entries)
	}
	if again := c.Get(header + "a <= 1: X"); again == first {
		t.Fatalf("expected the oldest tree to be rebuilt")
	}

	c.Forget(header + "a <= 1: X")
	if c.Stats().Entries != 1 {
		t.Fatalf("expected 1 entry after forget got %d", c.Stats().Entries)
	}
}
