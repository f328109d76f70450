package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OrcaBus/platform-integration-tests/internal/blob"
	"github.com/OrcaBus/platform-integration-tests/internal/bus"
	"github.com/OrcaBus/platform-integration-tests/internal/domain"
	"github.com/OrcaBus/platform-integration-tests/internal/registry"
	"github.com/OrcaBus/platform-integration-tests/internal/store/bolt"
)

var testStart = time.Date(2026, time.February, 10, 9, 0, 0, 0, time.UTC)

func testHarness(t *testing.T) (*Service, *registry.Registry) {
	t.Helper()
	st, err := bolt.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	reg := registry.New(st)

	archive, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := New(reg, archive, nil, logger).WithClock(func() time.Time { return testStart })
	return svc, reg
}

func seedRun(t *testing.T, reg *registry.Registry, runID string, expected int) {
	t.Helper()
	run := domain.Run{
		ID:            runID,
		Scenario:      "happy-path-01",
		Status:        domain.StatusRunning,
		ExpectedCount: expected,
		StartedAt:     testStart.Add(-time.Minute),
		TimeoutAt:     testStart.Add(5 * time.Minute),
		ExpiresAt:     testStart.Add(10 * time.Minute),
	}
	fixtures := []domain.Expectation{
		{
			ID: "exp-0000", RunID: runID, OrderIndex: 0,
			DetailType:      "stepA.started",
			MatchFields:     []string{"step"},
			ExpectedPayload: map[string]any{"step": "A", "action": "start"},
			Seq:             1,
		},
		{
			ID: "exp-0001", RunID: runID, OrderIndex: 1,
			DetailType:      "stepA.completed",
			MatchFields:     []string{"step", "result"},
			ExpectedPayload: map[string]any{"step": "A", "result": "success"},
			Seq:             2,
		},
	}[:expected]
	if err := reg.CreateRun(context.Background(), run, fixtures); err != nil {
		t.Fatalf("create run: %v", err)
	}
}

func envelope(id, runID, detailType string, payload map[string]any) bus.Envelope {
	detail := map[string]any{
		bus.DetailRunCorrelationID: runID,
		bus.DetailTestMode:         true,
		bus.DetailEventID:          id,
	}
	for k, v := range payload {
		detail[k] = v
	}
	return bus.Envelope{ID: id, Source: "orcabus.test", DetailType: detailType, Detail: detail}
}

func TestIngestSkipsEventsOutsideTestTraffic(t *testing.T) {
	svc, reg := testHarness(t)
	ctx := context.Background()
	seedRun(t, reg, "run-1", 2)

	noRunID := envelope("evt-1", "", "stepA.started", map[string]any{"step": "A"})
	if err := svc.Ingest(ctx, noRunID); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	notTest := envelope("evt-2", "run-1", "stepA.started", map[string]any{"step": "A"})
	notTest.Detail[bus.DetailTestMode] = false
	if err := svc.Ingest(ctx, notTest); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	unknownRun := envelope("evt-3", "run-x", "stepA.started", map[string]any{"step": "A"})
	if err := svc.Ingest(ctx, unknownRun); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	events, err := reg.ListEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no stored events, got %d", len(events))
	}
}

func TestIngestSkipsInactiveRun(t *testing.T) {
	svc, reg := testHarness(t)
	ctx := context.Background()
	seedRun(t, reg, "run-1", 1)
	if err := reg.MarkReady(ctx, "run-1"); err != nil {
		t.Fatalf("mark ready: %v", err)
	}

	env := envelope("evt-1", "run-1", "stepA.started", map[string]any{"step": "A", "action": "start"})
	if err := svc.Ingest(ctx, env); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	events, _ := reg.ListEvents(ctx, "run-1")
	if len(events) != 0 {
		t.Fatalf("expected inactive run to drop events, got %d", len(events))
	}
}

func TestIngestTimesOutOverdueRunBeforeFiltering(t *testing.T) {
	svc, reg := testHarness(t)
	ctx := context.Background()
	seedRun(t, reg, "run-1", 1)

	svc.WithClock(func() time.Time { return testStart.Add(time.Hour) })
	env := envelope("evt-1", "run-1", "stepA.started", map[string]any{"step": "A", "action": "start"})
	if err := svc.Ingest(ctx, env); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	run, err := reg.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != domain.StatusTimeout {
		t.Fatalf("expected run timed out on late delivery, got %s", run.Status)
	}
	events, _ := reg.ListEvents(ctx, "run-1")
	if len(events) != 0 {
		t.Fatalf("expected late event dropped, got %d stored", len(events))
	}
}

func TestIngestStoresMatchesAndArchives(t *testing.T) {
	svc, reg := testHarness(t)
	ctx := context.Background()
	seedRun(t, reg, "run-1", 2)

	env := envelope("evt-1", "run-1", "stepA.started", map[string]any{"step": "A", "action": "start"})
	if err := svc.Ingest(ctx, env); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	events, err := reg.ListEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(events))
	}
	ev := events[0]
	if ev.MatchedExpectationID != "exp-0000" || ev.Secondary {
		t.Fatalf("expected primary match on exp-0000: %+v", ev)
	}
	if ev.ArchiveKey == "" {
		t.Fatalf("expected archive location recorded")
	}
	if ev.PayloadHash == "" {
		t.Fatalf("expected payload hash recorded")
	}
	if _, ok := ev.Payload[bus.DetailRunCorrelationID]; ok {
		t.Fatalf("expected metadata stripped from stored payload")
	}

	fixtures, _ := reg.ListExpectations(ctx, "run-1")
	if fixtures[0].PrimaryEventID != "evt-1" {
		t.Fatalf("expected claim recorded, got %+v", fixtures[0])
	}
	run, _ := reg.GetRun(ctx, "run-1")
	if run.ObservedCount != 1 || run.Status != domain.StatusRunning {
		t.Fatalf("expected count 1 and still running, got %+v", run)
	}
}

func TestIngestDuplicateDeliveryCountsOnce(t *testing.T) {
	svc, reg := testHarness(t)
	ctx := context.Background()
	seedRun(t, reg, "run-1", 2)

	env := envelope("evt-1", "run-1", "stepA.started", map[string]any{"step": "A", "action": "start"})
	for i := 0; i < 3; i++ {
		if err := svc.Ingest(ctx, env); err != nil {
			t.Fatalf("ingest attempt %d: %v", i, err)
		}
	}

	events, _ := reg.ListEvents(ctx, "run-1")
	if len(events) != 1 {
		t.Fatalf("expected one stored event, got %d", len(events))
	}
	run, _ := reg.GetRun(ctx, "run-1")
	if run.ObservedCount != 1 {
		t.Fatalf("expected observed count 1 after redeliveries, got %d", run.ObservedCount)
	}
}

func TestIngestSecondMatcherBecomesSecondary(t *testing.T) {
	svc, reg := testHarness(t)
	ctx := context.Background()
	seedRun(t, reg, "run-1", 2)

	first := envelope("evt-1", "run-1", "stepA.started", map[string]any{"step": "A", "action": "start"})
	second := envelope("evt-2", "run-1", "stepA.started", map[string]any{"step": "A", "action": "start"})
	if err := svc.Ingest(ctx, first); err != nil {
		t.Fatalf("ingest first: %v", err)
	}
	if err := svc.Ingest(ctx, second); err != nil {
		t.Fatalf("ingest second: %v", err)
	}

	events, _ := reg.ListEvents(ctx, "run-1")
	if len(events) != 2 {
		t.Fatalf("expected 2 stored events, got %d", len(events))
	}
	bySecondary := map[bool]int{}
	for _, ev := range events {
		if ev.MatchedExpectationID != "exp-0000" {
			t.Fatalf("expected both events on exp-0000, got %+v", ev)
		}
		bySecondary[ev.Secondary]++
	}
	if bySecondary[false] != 1 || bySecondary[true] != 1 {
		t.Fatalf("expected one primary and one secondary, got %v", bySecondary)
	}
	run, _ := reg.GetRun(ctx, "run-1")
	if run.ObservedCount != 1 {
		t.Fatalf("expected counter bumped once, got %d", run.ObservedCount)
	}
}

func TestIngestMarksReadyOnLastExpectation(t *testing.T) {
	svc, reg := testHarness(t)
	ctx := context.Background()
	seedRun(t, reg, "run-1", 2)

	if err := svc.Ingest(ctx, envelope("evt-1", "run-1", "stepA.started", map[string]any{"step": "A", "action": "start"})); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := svc.Ingest(ctx, envelope("evt-2", "run-1", "stepA.completed", map[string]any{"step": "A", "result": "success"})); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	run, err := reg.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != domain.StatusReady || run.ObservedCount != 2 {
		t.Fatalf("expected ready with count 2, got %+v", run)
	}
}

func TestIngestUnmatchedEventIsStoredForAudit(t *testing.T) {
	svc, reg := testHarness(t)
	ctx := context.Background()
	seedRun(t, reg, "run-1", 2)

	env := envelope("evt-9", "run-1", "rogue.event", map[string]any{"noise": true})
	if err := svc.Ingest(ctx, env); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	events, _ := reg.ListEvents(ctx, "run-1")
	if len(events) != 1 {
		t.Fatalf("expected unmatched event stored, got %d", len(events))
	}
	if events[0].MatchedExpectationID != "" {
		t.Fatalf("expected no expectation assignment, got %+v", events[0])
	}
	run, _ := reg.GetRun(ctx, "run-1")
	if run.ObservedCount != 0 {
		t.Fatalf("expected counter untouched by unmatched event, got %d", run.ObservedCount)
	}
}
