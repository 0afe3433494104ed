package passport

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, RowSource) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewSQLRowSource(db)
}

var (
	patientCols     = []string{"PatientGuid", "Forenames", "Surname", "DateOfBirth", "Sex", "PostCode"}
	medicationCols  = []string{"MedicationGuid", "Term", "Dosage", "EffectiveDateTime", "DrugStatus", "PrescriptionType"}
	appointmentCols = []string{"AppointmentGuid", "StartDateTime", "EndDateTime", "CurrentStatus", "SessionLocation"}
	eventCols       = []string{"EventGuid", "EventType", "Term", "ReadCode", "SnomedCTCode", "EffectiveDateTime"}
)

func TestSQLRowSource_FetchPatient(t *testing.T) {
	db, mock, src := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT PatientGuid, Forenames, Surname, DateOfBirth, Sex, PostCode\s+FROM patients`).
		WithArgs(happyGUID).
		WillReturnRows(sqlmock.NewRows(patientCols).
			AddRow(happyGUID, "Jane", "Doe", "1990-05-12", "F", nil))

	p, err := src.FetchPatient(context.Background(), happyGUID)

	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, happyGUID, p.PatientGUID)
	assert.Equal(t, "Jane", *p.Forenames)
	assert.Equal(t, "F", *p.Sex)
	assert.Nil(t, p.PostCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRowSource_FetchPatient_NotFound(t *testing.T) {
	db, mock, src := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM patients`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(patientCols))

	p, err := src.FetchPatient(context.Background(), "missing")

	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRowSource_FetchPatient_Error(t *testing.T) {
	db, mock, src := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM patients`).
		WithArgs(happyGUID).
		WillReturnError(errors.New("database is locked"))

	_, err := src.FetchPatient(context.Background(), happyGUID)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch patient")
	assert.Contains(t, err.Error(), "database is locked")
}

func TestSQLRowSource_FetchMedications(t *testing.T) {
	db, mock, src := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT MedicationGuid, Term, Dosage, EffectiveDateTime, DrugStatus, PrescriptionType\s+FROM medications`).
		WithArgs(happyGUID).
		WillReturnRows(sqlmock.NewRows(medicationCols).
			AddRow("m1", "Paracetamol", "1 tablet", "2024-01-01T00:00:00", int64(2), int64(1)).
			AddRow("m2", "Ibuprofen", nil, nil, nil, nil))

	meds, err := src.FetchMedications(context.Background(), happyGUID)

	require.NoError(t, err)
	require.Len(t, meds, 2)
	assert.Equal(t, "1 tablet", *meds[0].Dosage)
	assert.Equal(t, 2, *meds[0].DrugStatus)
	assert.Equal(t, 1, *meds[0].PrescriptionType)
	assert.Nil(t, meds[1].Dosage)
	assert.Nil(t, meds[1].EffectiveDateTime)
	assert.Nil(t, meds[1].DrugStatus)

	// NULL status falls back to the default once mapped.
	assert.Equal(t, defaultDrugStatus, medicationFromRow(meds[1]).Status)
	assert.Equal(t, "", medicationFromRow(meds[1]).StartDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRowSource_FetchMedications_ScanError(t *testing.T) {
	db, mock, src := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM medications`).
		WithArgs(happyGUID).
		WillReturnRows(sqlmock.NewRows(medicationCols).
			AddRow("m1", "Paracetamol", nil, nil, "not-a-number", nil))

	_, err := src.FetchMedications(context.Background(), happyGUID)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan medication")
}

func TestSQLRowSource_FetchAppointments(t *testing.T) {
	db, mock, src := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT AppointmentGuid, StartDateTime, EndDateTime, CurrentStatus, SessionLocation\s+FROM appointments`).
		WithArgs(happyGUID).
		WillReturnRows(sqlmock.NewRows(appointmentCols).
			AddRow("a1", "2024-02-01T10:00:00", "2024-02-01T10:15:00", int64(1), "Surgery 1").
			AddRow("a2", "2023-02-01T10:00:00", "2023-02-01T10:15:00", nil, nil))

	appts, err := src.FetchAppointments(context.Background(), happyGUID)

	require.NoError(t, err)
	require.Len(t, appts, 2)
	assert.Equal(t, 1, *appts[0].CurrentStatus)
	assert.Equal(t, "Surgery 1", *appts[0].SessionLocation)
	assert.Nil(t, appts[1].CurrentStatus)
	assert.Nil(t, appts[1].SessionLocation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRowSource_FetchEvents(t *testing.T) {
	db, mock, src := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT EventGuid, EventType, Term, ReadCode, SnomedCTCode, EffectiveDateTime\s+FROM events`).
		WithArgs(happyGUID).
		WillReturnRows(sqlmock.NewRows(eventCols).
			AddRow("e1", int64(11), "Penicillin allergy", "14L4.", nil, "2015-07-01T00:00:00"))

	events, err := src.FetchEvents(context.Background(), happyGUID)

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeAllergy, events[0].EventType)
	assert.Equal(t, "14L4.", *events[0].ReadCode)
	assert.Nil(t, events[0].SnomedCTCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLProvider_AssembleEndToEnd(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM patients`).WithArgs(happyGUID).
		WillReturnRows(sqlmock.NewRows(patientCols).
			AddRow(happyGUID, " Jane", "Doe ", "1990-05-12", "F", "AB1 2CD"))
	mock.ExpectQuery(`FROM medications`).WithArgs(happyGUID).
		WillReturnRows(sqlmock.NewRows(medicationCols).
			AddRow("m1", "Paracetamol", nil, "2024-01-01T00:00:00", int64(1), int64(1)))
	mock.ExpectQuery(`FROM appointments`).WithArgs(happyGUID).
		WillReturnRows(sqlmock.NewRows(appointmentCols).
			AddRow("a1", "2024-02-01T10:00:00", "2024-02-01T10:15:00", nil, nil))
	mock.ExpectQuery(`FROM events`).WithArgs(happyGUID).
		WillReturnRows(sqlmock.NewRows(eventCols).
			AddRow("e1", int64(13), "Flu vaccine", nil, "86198006", "2023-10-10T11:00:00").
			AddRow("e2", int64(11), "Penicillin allergy", "14L4.", nil, "2015-07-01T00:00:00"))

	b, err := assembleFrom(context.Background(), NewSQLProvider(db), happyGUID)

	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", b.Name)
	assert.Len(t, b.Medications, 1)
	assert.Equal(t, "2024-02-01T10:00:00", b.Appointments[0].StartDateTime)
	assert.Len(t, b.Allergies, 1)
	assert.Len(t, b.Immunisations, 1)
	assert.Equal(t, "e1", b.Events[0].EventGUID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLProvider_NotFoundStopsAfterPatient(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM patients`).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(patientCols))

	_, err = assembleFrom(context.Background(), NewSQLProvider(db), "missing")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
