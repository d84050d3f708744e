package session

import (
	"testing"
	"time"
)

func TestSaveThenListThenLoad(t *testing.T) {
	dir := t.TempDir()
	id := NewID(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	r := Open(id)
	r.Append(Event{Request: "create a script called x.py", Kind: "script-plan", Chosen: "tinyllama"})

	if err := Save(dir, r); err != nil {
		t.Fatal(err)
	}

	ids, err := List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("expected [%s], got %v", id, ids)
	}

	loaded, err := Load(dir, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Events) != 1 || loaded.Events[0].Chosen != "tinyllama" {
		t.Fatalf("unexpected loaded record: %+v", loaded)
	}
}

func TestListEmptyWhenNoSessionsDir(t *testing.T) {
	ids, err := List(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if ids != nil {
		t.Fatalf("expected nil, got %v", ids)
	}
}

func TestListSortsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	older := NewID(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := NewID(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	if err := Save(dir, Open(older)); err != nil {
		t.Fatal(err)
	}
	if err := Save(dir, Open(newer)); err != nil {
		t.Fatal(err)
	}
	ids, err := List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != newer || ids[1] != older {
		t.Fatalf("expected newest first, got %v", ids)
	}
}

func TestLoadUnknownSessionErrors(t *testing.T) {
	if _, err := Load(t.TempDir(), "nope"); err == nil {
		t.Fatal("expected an error for an unknown session id")
	}
}

func TestComputeStatsAggregatesAcrossSessions(t *testing.T) {
	dir := t.TempDir()
	a := Open(NewID(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	a.Append(Event{Chosen: "tinyllama"})
	a.Append(Event{Chosen: "mistral"})
	b := Open(NewID(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))
	b.Append(Event{Chosen: "tinyllama"})
	if err := Save(dir, a); err != nil {
		t.Fatal(err)
	}
	if err := Save(dir, b); err != nil {
		t.Fatal(err)
	}

	stats, err := ComputeStats(dir)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalSessions != 2 || stats.TotalEvents != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ByModel["tinyllama"] != 2 || stats.ByModel["mistral"] != 1 {
		t.Fatalf("unexpected per-model counts: %+v", stats.ByModel)
	}
}
