package passport

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/rs/zerolog"
)

func TestService_Patient(t *testing.T) {
	svc := newTestService(t, seededSource(), nil)

	p, err := svc.Patient(context.Background(), happyGUID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Jane Doe" || p.Sex != "F" || p.PostCode == nil || *p.PostCode != "AB1 2CD" {
		t.Errorf("unexpected patient %+v", p)
	}
}

func TestService_Records_NotFoundFetchesNothingElse(t *testing.T) {
	src := seededSource()
	svc := newTestService(t, src, nil)
	ctx := context.Background()

	if _, err := svc.Appointments(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Appointments: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Medications(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Medications: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Events(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Events: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Patient(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Patient: expected ErrNotFound, got %v", err)
	}
	for _, call := range src.calls {
		if call != "patient" {
			t.Errorf("unexpected fetch %q for unknown patient", call)
		}
	}
}

func TestService_Records_NewestFirst(t *testing.T) {
	svc := newTestService(t, seededSource(), nil)
	ctx := context.Background()

	appts, err := svc.Appointments(ctx, richGUID)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.IsSortedFunc(appts, func(a, b Appointment) int { return compareDesc(a.StartDateTime, b.StartDateTime) }) {
		t.Errorf("appointments not newest first: %+v", appts)
	}

	meds, err := svc.Medications(ctx, richGUID)
	if err != nil {
		t.Fatal(err)
	}
	if meds[1].StartDate != "2023-06-01T09:00:00" || meds[1].Status != defaultDrugStatus {
		t.Errorf("expected issued-date fallback and default status, got %+v", meds[1])
	}

	events, err := svc.Events(ctx, richGUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 5 || events[2].Term != "Same time A" || events[3].Term != "Same time B" {
		t.Errorf("expected stable newest-first events, got %+v", events)
	}
}

func TestService_Records_ReleaseOnEveryPath(t *testing.T) {
	src := seededSource()
	src.failOn = "events"
	p := &countingProvider{src: src}
	svc := NewService(p, newTestValidator(t), nil, zerolog.Nop())
	ctx := context.Background()

	_, _ = svc.Patient(ctx, happyGUID)
	_, _ = svc.Appointments(ctx, "nobody")
	if _, err := svc.Events(ctx, richGUID); err == nil {
		t.Error("expected fetch failure to surface")
	}

	if p.acquired != 3 || p.released != 3 {
		t.Errorf("expected 3 acquire/release pairs, got %d/%d", p.acquired, p.released)
	}
}

func compareDesc(a, b string) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}
