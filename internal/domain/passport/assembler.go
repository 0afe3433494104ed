package passport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrNotFound is returned when no patient row matches the identifier.
var ErrNotFound = errors.New("patient not found")

// Assemble builds the passport for patientGUID from src. When the patient
// row is absent it returns ErrNotFound without fetching anything else.
// Each sequence is stably sorted by its timestamp, newest first, so equal
// timestamps keep source order.
func Assemble(ctx context.Context, src RowSource, patientGUID string) (*Bundle, error) {
	pr, err := src.FetchPatient(ctx, patientGUID)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		return nil, ErrNotFound
	}

	medRows, err := src.FetchMedications(ctx, patientGUID)
	if err != nil {
		return nil, err
	}
	apptRows, err := src.FetchAppointments(ctx, patientGUID)
	if err != nil {
		return nil, err
	}
	eventRows, err := src.FetchEvents(ctx, patientGUID)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		Patient:       patientFromRow(pr),
		Medications:   make([]Medication, 0, len(medRows)),
		Appointments:  make([]Appointment, 0, len(apptRows)),
		Events:        make([]ClinicalEvent, 0, len(eventRows)),
		Allergies:     []ClinicalEvent{},
		Immunisations: []ClinicalEvent{},
	}

	for _, r := range medRows {
		b.Medications = append(b.Medications, medicationFromRow(r))
	}
	for _, r := range apptRows {
		b.Appointments = append(b.Appointments, appointmentFromRow(r))
	}
	for _, r := range eventRows {
		b.Events = append(b.Events, eventFromRow(r))
	}

	sortMedications(b.Medications)
	sortAppointments(b.Appointments)
	sortEvents(b.Events)

	for _, e := range b.Events {
		switch e.EventType {
		case EventTypeAllergy:
			b.Allergies = append(b.Allergies, e)
		case EventTypeImmunisation:
			b.Immunisations = append(b.Immunisations, e)
		}
	}

	return b, nil
}

// sortMedications and its siblings order newest first; equal timestamps
// keep source order.
func sortMedications(ms []Medication) {
	slices.SortStableFunc(ms, func(x, y Medication) int {
		return strings.Compare(y.StartDate, x.StartDate)
	})
}

func sortAppointments(as []Appointment) {
	slices.SortStableFunc(as, func(x, y Appointment) int {
		return strings.Compare(y.StartDateTime, x.StartDateTime)
	})
}

func sortEvents(es []ClinicalEvent) {
	slices.SortStableFunc(es, func(x, y ClinicalEvent) int {
		return strings.Compare(y.EffectiveDateTime, x.EffectiveDateTime)
	})
}

// assembleFrom acquires a row source from provider, assembles the bundle
// and releases the source on every path.
func assembleFrom(ctx context.Context, provider SourceProvider, patientGUID string) (*Bundle, error) {
	src, release, err := provider.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("open row source: %w", err)
	}
	defer release()
	return Assemble(ctx, src, patientGUID)
}
