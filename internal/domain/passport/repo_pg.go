package passport

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmp/passport/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// =========== Postgres provider ===========

type pgProvider struct{ pool *pgxpool.Pool }

// NewPGProvider returns a SourceProvider over a pgx pool. A connection
// already bound to the request context is reused and left for its owner to
// release; otherwise one is acquired from the pool.
func NewPGProvider(pool *pgxpool.Pool) SourceProvider {
	return &pgProvider{pool: pool}
}

func (p *pgProvider) Acquire(ctx context.Context) (RowSource, func(), error) {
	if c := db.ConnFromContext(ctx); c != nil {
		return NewPGRowSource(c), func() {}, nil
	}
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire connection: %w", err)
	}
	return NewPGRowSource(conn), conn.Release, nil
}

// =========== Postgres row source ===========

type pgRowSource struct{ q queryable }

func NewPGRowSource(q queryable) RowSource {
	return &pgRowSource{q: q}
}

func (r *pgRowSource) FetchPatient(ctx context.Context, patientGUID string) (*PatientRow, error) {
	var p PatientRow
	err := r.q.QueryRow(ctx, `
		SELECT patient_guid, forenames, surname, date_of_birth, sex, post_code
		FROM patients
		WHERE patient_guid = $1`, patientGUID).
		Scan(&p.PatientGUID, &p.Forenames, &p.Surname, &p.DateOfBirth, &p.Sex, &p.PostCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch patient: %w", err)
	}
	return &p, nil
}

func (r *pgRowSource) FetchMedications(ctx context.Context, patientGUID string) ([]MedicationRow, error) {
	rows, err := r.q.Query(ctx, `
		SELECT medication_guid, term, dosage, effective_date_time, issued_date,
			drug_status, status, prescription_type
		FROM medications
		WHERE patient_guid = $1
		ORDER BY COALESCE(effective_date_time, issued_date, '') DESC`, patientGUID)
	if err != nil {
		return nil, fmt.Errorf("fetch medications: %w", err)
	}
	defer rows.Close()

	var items []MedicationRow
	for rows.Next() {
		var m MedicationRow
		if err := rows.Scan(&m.MedicationGUID, &m.Term, &m.Dosage, &m.EffectiveDateTime, &m.IssuedDate,
			&m.DrugStatus, &m.Status, &m.PrescriptionType); err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *pgRowSource) FetchAppointments(ctx context.Context, patientGUID string) ([]AppointmentRow, error) {
	rows, err := r.q.Query(ctx, `
		SELECT appointment_guid, start_date_time, end_date_time, current_status, session_location
		FROM appointments
		WHERE patient_guid = $1
		ORDER BY start_date_time DESC`, patientGUID)
	if err != nil {
		return nil, fmt.Errorf("fetch appointments: %w", err)
	}
	defer rows.Close()

	var items []AppointmentRow
	for rows.Next() {
		var a AppointmentRow
		if err := rows.Scan(&a.AppointmentGUID, &a.StartDateTime, &a.EndDateTime,
			&a.CurrentStatus, &a.SessionLocation); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *pgRowSource) FetchEvents(ctx context.Context, patientGUID string) ([]EventRow, error) {
	rows, err := r.q.Query(ctx, `
		SELECT event_guid, event_type, term, read_code, snomed_ct_code, effective_date_time
		FROM events
		WHERE patient_guid = $1
		ORDER BY effective_date_time DESC`, patientGUID)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	defer rows.Close()

	var items []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.EventGUID, &e.EventType, &e.Term, &e.ReadCode,
			&e.SnomedCTCode, &e.EffectiveDateTime); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
