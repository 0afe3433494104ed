package passport

import (
	"context"
	"errors"
	"sync"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

// -- Mock row source --

type mockSource struct {
	mu           sync.Mutex
	patients     map[string]*PatientRow
	medications  map[string][]MedicationRow
	appointments map[string][]AppointmentRow
	events       map[string][]EventRow
	calls        []string
	failOn       string
}

func newMockSource() *mockSource {
	return &mockSource{
		patients:     make(map[string]*PatientRow),
		medications:  make(map[string][]MedicationRow),
		appointments: make(map[string][]AppointmentRow),
		events:       make(map[string][]EventRow),
	}
}

func (m *mockSource) record(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
	if m.failOn == name {
		return errors.New(name + " failed")
	}
	return nil
}

func (m *mockSource) FetchPatient(_ context.Context, guid string) (*PatientRow, error) {
	if err := m.record("patient"); err != nil {
		return nil, err
	}
	p, ok := m.patients[guid]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockSource) FetchMedications(_ context.Context, guid string) ([]MedicationRow, error) {
	if err := m.record("medications"); err != nil {
		return nil, err
	}
	return append([]MedicationRow(nil), m.medications[guid]...), nil
}

func (m *mockSource) FetchAppointments(_ context.Context, guid string) ([]AppointmentRow, error) {
	if err := m.record("appointments"); err != nil {
		return nil, err
	}
	return append([]AppointmentRow(nil), m.appointments[guid]...), nil
}

func (m *mockSource) FetchEvents(_ context.Context, guid string) ([]EventRow, error) {
	if err := m.record("events"); err != nil {
		return nil, err
	}
	return append([]EventRow(nil), m.events[guid]...), nil
}

// -- Counting provider --

type countingProvider struct {
	src      RowSource
	acquired int
	released int
	err      error
}

func (p *countingProvider) Acquire(_ context.Context) (RowSource, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	p.acquired++
	return p.src, func() { p.released++ }, nil
}

// -- Fixtures --

const (
	happyGUID = "11111111-1111-1111-1111-111111111111"
	richGUID  = "22222222-2222-2222-2222-222222222222"
)

// seededSource holds two patients: the minimal happy-path patient and a
// patient with enough rows to exercise sorting and event partitioning.
func seededSource() *mockSource {
	m := newMockSource()

	m.patients[happyGUID] = &PatientRow{
		PatientGUID: happyGUID,
		Forenames:   strPtr("Jane"),
		Surname:     strPtr("Doe"),
		DateOfBirth: strPtr("1990-05-12"),
		Sex:         strPtr("F"),
		PostCode:    strPtr("AB1 2CD"),
	}
	m.medications[happyGUID] = []MedicationRow{{
		MedicationGUID:    "aaaaaaaa-0000-0000-0000-000000000001",
		Term:              "Paracetamol 500mg tablets",
		Dosage:            strPtr("1-2 four times a day"),
		EffectiveDateTime: strPtr("2024-01-01T00:00:00"),
		DrugStatus:        intPtr(1),
		PrescriptionType:  intPtr(1),
	}}
	m.appointments[happyGUID] = []AppointmentRow{{
		AppointmentGUID: "bbbbbbbb-0000-0000-0000-000000000001",
		StartDateTime:   "2024-02-01T10:00:00",
		EndDateTime:     "2024-02-01T10:15:00",
		CurrentStatus:   intPtr(1),
		SessionLocation: strPtr("Surgery 1"),
	}}

	m.patients[richGUID] = &PatientRow{
		PatientGUID: richGUID,
		Forenames:   strPtr("  Sam "),
		Surname:     strPtr(" Smith  "),
		DateOfBirth: strPtr("1975-11-30"),
		Sex:         strPtr("M"),
	}
	m.medications[richGUID] = []MedicationRow{
		{MedicationGUID: "aaaaaaaa-0000-0000-0000-000000000010", Term: "Old", EffectiveDateTime: strPtr("2019-03-01T09:00:00"), Status: intPtr(2), PrescriptionType: intPtr(2)},
		{MedicationGUID: "aaaaaaaa-0000-0000-0000-000000000011", Term: "Issued only", IssuedDate: strPtr("2023-06-01T09:00:00"), PrescriptionType: intPtr(1)},
		{MedicationGUID: "aaaaaaaa-0000-0000-0000-000000000012", Term: "Newest", EffectiveDateTime: strPtr("2024-06-01T09:00:00"), DrugStatus: intPtr(3), Status: intPtr(2), PrescriptionType: intPtr(4)},
	}
	m.appointments[richGUID] = []AppointmentRow{
		{AppointmentGUID: "bbbbbbbb-0000-0000-0000-000000000010", StartDateTime: "2022-01-01T08:00:00", EndDateTime: "2022-01-01T08:10:00"},
		{AppointmentGUID: "bbbbbbbb-0000-0000-0000-000000000011", StartDateTime: "2024-01-01T08:00:00", EndDateTime: "2024-01-01T08:10:00"},
		{AppointmentGUID: "bbbbbbbb-0000-0000-0000-000000000012", StartDateTime: "2023-01-01T08:00:00", EndDateTime: "2023-01-01T08:10:00"},
	}
	m.events[richGUID] = []EventRow{
		{EventGUID: "cccccccc-0000-0000-0000-000000000001", EventType: 1, Term: "Consultation", EffectiveDateTime: "2024-03-01T09:00:00"},
		{EventGUID: "cccccccc-0000-0000-0000-000000000002", EventType: EventTypeAllergy, Term: "Penicillin allergy", ReadCode: strPtr("14L4."), EffectiveDateTime: "2015-07-01T00:00:00"},
		{EventGUID: "cccccccc-0000-0000-0000-000000000003", EventType: EventTypeImmunisation, Term: "Influenza vaccine", SnomedCTCode: strPtr("86198006"), EffectiveDateTime: "2023-10-10T11:00:00"},
		{EventGUID: "cccccccc-0000-0000-0000-000000000004", EventType: 1, Term: "Same time A", EffectiveDateTime: "2020-01-01T00:00:00"},
		{EventGUID: "cccccccc-0000-0000-0000-000000000005", EventType: 1, Term: "Same time B", EffectiveDateTime: "2020-01-01T00:00:00"},
	}
	return m
}

func defaultLookups() Lookups {
	return Lookups{
		LookupSex:              NewLookupSet("F", "M", "U", "I"),
		LookupPrescriptionType: NewLookupSet(1, 2, 3, 4),
		LookupDrugStatus:       NewLookupSet(1, 2, 3),
		LookupEventType:        NewLookupSet(1, 2, 5, 11, 13),
	}
}

// validExchange returns a decoded exchange document that passes both
// validation phases under defaultLookups.
func validExchange() map[string]any {
	return map[string]any{
		"patient": map[string]any{
			"PatientGuid": happyGUID,
			"DateOfBirth": "1990-05-12",
			"Sex":         "F",
		},
		"appointments": []any{
			map[string]any{
				"AppointmentGuid": "bbbbbbbb-0000-0000-0000-000000000001",
				"StartDateTime":   "2024-02-01T10:00:00",
				"EndDateTime":     "2024-02-01T10:15:00",
			},
		},
		"medications": []any{
			map[string]any{
				"MedicationGuid":    "aaaaaaaa-0000-0000-0000-000000000001",
				"EffectiveDateTime": "2024-01-01T00:00:00",
				"PrescriptionType":  float64(1),
				"DrugStatus":        float64(1),
			},
			map[string]any{
				"MedicationGuid":    "aaaaaaaa-0000-0000-0000-000000000002",
				"EffectiveDateTime": "2023-01-01T00:00:00",
				"PrescriptionType":  float64(2),
				"DrugStatus":        float64(2),
			},
		},
		"events": []any{
			map[string]any{
				"EventGuid":         "cccccccc-0000-0000-0000-000000000001",
				"EventType":         float64(11),
				"EffectiveDateTime": "2015-07-01T00:00:00",
			},
		},
	}
}

func section(doc map[string]any, key string, i int) map[string]any {
	return doc[key].([]any)[i].(map[string]any)
}
