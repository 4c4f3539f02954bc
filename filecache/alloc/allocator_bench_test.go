package alloc

import (
	"math/rand"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
)

func newBenchAllocator(b *testing.B, capacity, align int) *Allocator {
	b.Helper()
	logger, _ := logtest.NewNullLogger()
	a, err := New(capacity, align, Options{Logger: logger})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = a.Shutdown() })
	return a
}

// BenchmarkAlloc_ExactReuse measures the steady state of a loader that
// frees each buffer before allocating the next.
func BenchmarkAlloc_ExactReuse(b *testing.B) {
	a := newBenchAllocator(b, 64*mib, 4*kib)

	b.ResetTimer()
	b.ReportAllocs()

	for rangeIdx := 0; rangeIdx < b.N; rangeIdx++ {
		off, err := a.Alloc(10 * kib)
		if err != nil {
			b.Fatal(err)
		}
		if err := a.Free(off, 10*kib); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkAlloc_RandomChurn keeps a working set of random sizes alive and
// replaces a random member on every iteration.
func BenchmarkAlloc_RandomChurn(b *testing.B) {
	a := newBenchAllocator(b, 64*mib, 4*kib)
	rng := rand.New(rand.NewSource(1))

	const workingSet = 256
	offs := make([]int, workingSet)
	sizes := make([]int, workingSet)
	for i := range offs {
		sizes[i] = 1 + rng.Intn(128*kib)
		off, err := a.Alloc(sizes[i])
		if err != nil {
			b.Fatal(err)
		}
		offs[i] = off
	}

	b.ResetTimer()
	b.ReportAllocs()

	for rangeIdx := 0; rangeIdx < b.N; rangeIdx++ {
		i := rng.Intn(workingSet)
		if err := a.Free(offs[i], sizes[i]); err != nil {
			b.Fatal(err)
		}
		sizes[i] = 1 + rng.Intn(128*kib)
		off, err := a.Alloc(sizes[i])
		if err != nil {
			b.Fatal(err)
		}
		offs[i] = off
	}
}
