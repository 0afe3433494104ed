package passport

import (
	"context"
	"fmt"
)

// withPatient acquires a row source, checks the patient exists and runs fn
// with it. The source is released on every path.
func (s *Service) withPatient(ctx context.Context, patientGUID string, fn func(src RowSource, row *PatientRow) error) error {
	src, release, err := s.provider.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("open row source: %w", err)
	}
	defer release()

	row, err := src.FetchPatient(ctx, patientGUID)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrNotFound
	}
	return fn(src, row)
}

// Patient returns the demographic part of the passport.
func (s *Service) Patient(ctx context.Context, patientGUID string) (*Patient, error) {
	var p Patient
	err := s.withPatient(ctx, patientGUID, func(_ RowSource, row *PatientRow) error {
		p = patientFromRow(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Appointments lists the patient's appointments, newest first.
func (s *Service) Appointments(ctx context.Context, patientGUID string) ([]Appointment, error) {
	var out []Appointment
	err := s.withPatient(ctx, patientGUID, func(src RowSource, _ *PatientRow) error {
		rows, err := src.FetchAppointments(ctx, patientGUID)
		if err != nil {
			return err
		}
		out = make([]Appointment, 0, len(rows))
		for _, r := range rows {
			out = append(out, appointmentFromRow(r))
		}
		sortAppointments(out)
		return nil
	})
	return out, err
}

// Medications lists the patient's medications, newest first.
func (s *Service) Medications(ctx context.Context, patientGUID string) ([]Medication, error) {
	var out []Medication
	err := s.withPatient(ctx, patientGUID, func(src RowSource, _ *PatientRow) error {
		rows, err := src.FetchMedications(ctx, patientGUID)
		if err != nil {
			return err
		}
		out = make([]Medication, 0, len(rows))
		for _, r := range rows {
			out = append(out, medicationFromRow(r))
		}
		sortMedications(out)
		return nil
	})
	return out, err
}

// Events lists all of the patient's clinical events, newest first.
func (s *Service) Events(ctx context.Context, patientGUID string) ([]ClinicalEvent, error) {
	var out []ClinicalEvent
	err := s.withPatient(ctx, patientGUID, func(src RowSource, _ *PatientRow) error {
		rows, err := src.FetchEvents(ctx, patientGUID)
		if err != nil {
			return err
		}
		out = make([]ClinicalEvent, 0, len(rows))
		for _, r := range rows {
			out = append(out, eventFromRow(r))
		}
		sortEvents(out)
		return nil
	})
	return out, err
}
