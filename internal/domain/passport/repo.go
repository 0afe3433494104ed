package passport

import "context"

// RowSource reads the flat rows a passport is assembled from. FetchPatient
// returns (nil, nil) when no patient has the given identifier. The list
// fetches are already filtered to the patient.
type RowSource interface {
	FetchPatient(ctx context.Context, patientGUID string) (*PatientRow, error)
	FetchMedications(ctx context.Context, patientGUID string) ([]MedicationRow, error)
	FetchAppointments(ctx context.Context, patientGUID string) ([]AppointmentRow, error)
	FetchEvents(ctx context.Context, patientGUID string) ([]EventRow, error)
}

// SourceProvider hands out a RowSource bound to one acquired connection.
// The returned release func must be called exactly once.
type SourceProvider interface {
	Acquire(ctx context.Context) (RowSource, func(), error)
}

// StaticProvider serves a RowSource that needs no acquisition, such as an
// in-memory fixture.
type StaticProvider struct {
	Source RowSource
}

func (p StaticProvider) Acquire(_ context.Context) (RowSource, func(), error) {
	return p.Source, func() {}, nil
}
