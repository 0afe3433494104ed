package passport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// The SQLite layout is the one produced by the CSV loader: CamelCase column
// names and a single table per entity.

type sqlQueryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =========== database/sql provider ===========

type sqlProvider struct{ db *sql.DB }

// NewSQLProvider returns a SourceProvider that pins one *sql.Conn per
// acquisition and closes it on release.
func NewSQLProvider(db *sql.DB) SourceProvider {
	return &sqlProvider{db: db}
}

func (p *sqlProvider) Acquire(ctx context.Context) (RowSource, func(), error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire connection: %w", err)
	}
	return NewSQLRowSource(conn), func() { _ = conn.Close() }, nil
}

// =========== database/sql row source ===========

type sqlRowSource struct{ q sqlQueryable }

func NewSQLRowSource(q sqlQueryable) RowSource {
	return &sqlRowSource{q: q}
}

func (r *sqlRowSource) FetchPatient(ctx context.Context, patientGUID string) (*PatientRow, error) {
	var p PatientRow
	var forenames, surname, dob, sex, postCode sql.NullString
	err := r.q.QueryRowContext(ctx, `
		SELECT PatientGuid, Forenames, Surname, DateOfBirth, Sex, PostCode
		FROM patients
		WHERE PatientGuid = ?`, patientGUID).
		Scan(&p.PatientGUID, &forenames, &surname, &dob, &sex, &postCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch patient: %w", err)
	}
	p.Forenames = nullString(forenames)
	p.Surname = nullString(surname)
	p.DateOfBirth = nullString(dob)
	p.Sex = nullString(sex)
	p.PostCode = nullString(postCode)
	return &p, nil
}

func (r *sqlRowSource) FetchMedications(ctx context.Context, patientGUID string) ([]MedicationRow, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT MedicationGuid, Term, Dosage, EffectiveDateTime, DrugStatus, PrescriptionType
		FROM medications
		WHERE PatientGuid = ?
		ORDER BY EffectiveDateTime DESC`, patientGUID)
	if err != nil {
		return nil, fmt.Errorf("fetch medications: %w", err)
	}
	defer rows.Close()

	var items []MedicationRow
	for rows.Next() {
		var m MedicationRow
		var dosage, effective sql.NullString
		var drugStatus, prescType sql.NullInt64
		if err := rows.Scan(&m.MedicationGUID, &m.Term, &dosage, &effective, &drugStatus, &prescType); err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		m.Dosage = nullString(dosage)
		m.EffectiveDateTime = nullString(effective)
		m.DrugStatus = nullInt(drugStatus)
		m.PrescriptionType = nullInt(prescType)
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *sqlRowSource) FetchAppointments(ctx context.Context, patientGUID string) ([]AppointmentRow, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT AppointmentGuid, StartDateTime, EndDateTime, CurrentStatus, SessionLocation
		FROM appointments
		WHERE PatientGuid = ?
		ORDER BY StartDateTime DESC`, patientGUID)
	if err != nil {
		return nil, fmt.Errorf("fetch appointments: %w", err)
	}
	defer rows.Close()

	var items []AppointmentRow
	for rows.Next() {
		var a AppointmentRow
		var status sql.NullInt64
		var location sql.NullString
		if err := rows.Scan(&a.AppointmentGUID, &a.StartDateTime, &a.EndDateTime, &status, &location); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		a.CurrentStatus = nullInt(status)
		a.SessionLocation = nullString(location)
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *sqlRowSource) FetchEvents(ctx context.Context, patientGUID string) ([]EventRow, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT EventGuid, EventType, Term, ReadCode, SnomedCTCode, EffectiveDateTime
		FROM events
		WHERE PatientGuid = ?
		ORDER BY EffectiveDateTime DESC`, patientGUID)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	defer rows.Close()

	var items []EventRow
	for rows.Next() {
		var e EventRow
		var readCode, snomed sql.NullString
		if err := rows.Scan(&e.EventGUID, &e.EventType, &e.Term, &readCode, &snomed, &e.EffectiveDateTime); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.ReadCode = nullString(readCode)
		e.SnomedCTCode = nullString(snomed)
		items = append(items, e)
	}
	return items, rows.Err()
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}
