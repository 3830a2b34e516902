package server

import (
	"testing"
	"time"
)

func TestPruneFinishedRuns(t *testing.T) {
	now := time.Now()
	s := &Server{running: map[string]*runStatus{
		"stale-done":   {ID: "stale-done", Status: "done", FinishedAt: now.Add(-2 * finishedRetention)},
		"stale-failed": {ID: "stale-failed", Status: "failed", FinishedAt: now.Add(-2 * finishedRetention)},
		"fresh-done":   {ID: "fresh-done", Status: "done", FinishedAt: now.Add(-time.Minute)},
		"inflight":     {ID: "inflight", Status: "running", StartedAt: now.Add(-3 * finishedRetention)},
	}}

	s.pruneFinished(now)

	if _, ok := s.running["stale-done"]; ok {
		t.Fatalf("stale done entry survived pruning")
	}
	if _, ok := s.running["stale-failed"]; ok {
		t.Fatalf("stale failed entry survived pruning")
	}
	if _, ok := s.running["fresh-done"]; !ok {
		t.Fatalf("entry inside the retention window was pruned")
	}
	if _, ok := s.running["inflight"]; !ok {
		t.Fatalf("in-flight run must never be pruned, regardless of age")
	}
}
