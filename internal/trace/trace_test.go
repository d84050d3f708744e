package trace

import (
	"sync"
	"testing"
)

func TestTrackFileEventsUpdateSummary(t *testing.T) {
	tr := New()
	tr.TrackFileCreated("a.py", 100)
	tr.TrackFileModified("b.py", 50)
	tr.TrackFileDeleted("c.py")

	s := tr.Summarize()
	if s.FilesAffected != 3 {
		t.Fatalf("expected 3 files affected, got %d", s.FilesAffected)
	}
	if s.FilesCreated != 1 || s.FilesModified != 1 || s.FilesDeleted != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

func TestTrackModelInvocationAggregatesTokensByModelAndPurpose(t *testing.T) {
	tr := New()
	tr.TrackModelInvocation("tinyllama", 0, "classify", 10, true)
	tr.TrackModelInvocation("tinyllama", 0, "classify", 15, true)
	tr.TrackModelInvocation("tinyllama", 0, "plan", 20, true)
	tr.TrackModelInvocation("mistral", 2, "generate", 100, false)

	log := tr.DetailedLog()
	if log.TotalTokens != 145 {
		t.Fatalf("expected total 145 tokens, got %d", log.TotalTokens)
	}
	tiny, ok := log.ByModel["tinyllama"]
	if !ok {
		t.Fatal("expected tinyllama in breakdown")
	}
	if tiny.TotalTokens != 45 {
		t.Fatalf("expected tinyllama total 45, got %d", tiny.TotalTokens)
	}
	if tiny.ByPurpose["classify"] != 25 || tiny.ByPurpose["plan"] != 20 {
		t.Fatalf("unexpected purpose breakdown: %+v", tiny.ByPurpose)
	}
}

func TestResetClearsEverything(t *testing.T) {
	tr := New()
	tr.TrackFileCreated("a.py", 1)
	tr.TrackModelInvocation("m", 1, "x", 1, true)
	tr.Reset()

	s := tr.Summarize()
	if s.FilesAffected != 0 || s.ModelsUsed != 0 {
		t.Fatalf("expected a clean tracker after reset, got %+v", s)
	}
}

func TestStopTimerIsIdempotent(t *testing.T) {
	tr := New()
	tr.StopTimer()
	first := tr.Elapsed()
	tr.StopTimer()
	second := tr.Elapsed()
	if first != second {
		t.Fatalf("expected elapsed time to be frozen after the first StopTimer call, got %v then %v", first, second)
	}
}

func TestConcurrentTrackingIsSafe(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tr.TrackFileCreated("f", int64(n))
		}(i)
	}
	wg.Wait()

	if got := tr.Summarize().FilesCreated; got != 50 {
		t.Fatalf("expected 50 tracked creations, got %d", got)
	}
}
