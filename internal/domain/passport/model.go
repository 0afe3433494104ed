package passport

import "strings"

// Event type codes that select the derived allergy and immunisation views.
const (
	EventTypeAllergy      = 11
	EventTypeImmunisation = 13
)

// defaultDrugStatus is used when a medication row carries no status at all.
const defaultDrugStatus = 1

// -- Source rows --

// PatientRow is the patients table row.
type PatientRow struct {
	PatientGUID string
	Forenames   *string
	Surname     *string
	DateOfBirth *string
	Sex         *string
	PostCode    *string
}

// MedicationRow is the medications table row. The effective timestamp and
// status each have more than one possible source column.
type MedicationRow struct {
	MedicationGUID    string
	Term              string
	Dosage            *string
	EffectiveDateTime *string
	IssuedDate        *string
	DrugStatus        *int
	Status            *int
	PrescriptionType  *int
}

// AppointmentRow is the appointments table row.
type AppointmentRow struct {
	AppointmentGUID string
	StartDateTime   string
	EndDateTime     string
	CurrentStatus   *int
	SessionLocation *string
}

// EventRow is the events table row.
type EventRow struct {
	EventGUID         string
	EventType         int
	Term              string
	ReadCode          *string
	SnomedCTCode      *string
	EffectiveDateTime string
}

// -- Bundle --

// Patient holds the demographic part of a passport. Its fields are
// flattened into the top level of the bundle document.
type Patient struct {
	PatientGUID string  `json:"PatientGuid"`
	Name        string  `json:"Name"`
	DOB         string  `json:"DOB"`
	Sex         string  `json:"Sex"`
	PostCode    *string `json:"PostCode"`
}

type Medication struct {
	MedicationGUID   string  `json:"MedicationGuid"`
	Term             string  `json:"Term"`
	Dosage           *string `json:"Dosage"`
	StartDate        string  `json:"StartDate"`
	Status           int     `json:"Status"`
	PrescriptionType *int    `json:"PrescriptionType"`
}

type Appointment struct {
	AppointmentGUID string  `json:"AppointmentGuid"`
	StartDateTime   string  `json:"StartDateTime"`
	EndDateTime     string  `json:"EndDateTime"`
	Status          *int    `json:"Status"`
	Location        *string `json:"Location"`
}

type ClinicalEvent struct {
	EventGUID         string  `json:"EventGuid"`
	EventType         int     `json:"EventType"`
	Term              string  `json:"Term"`
	ReadCode          *string `json:"ReadCode"`
	SnomedCTCode      *string `json:"SnomedCTCode"`
	EffectiveDateTime string  `json:"EffectiveDateTime"`
}

// Bundle is the Digital Medical Passport for one patient. Allergies and
// Immunisations are subsets of Events selected by event type.
type Bundle struct {
	Patient
	Medications   []Medication    `json:"Medications"`
	Appointments  []Appointment   `json:"Appointments"`
	Events        []ClinicalEvent `json:"Events"`
	Allergies     []ClinicalEvent `json:"Allergies"`
	Immunisations []ClinicalEvent `json:"Immunisations"`
}

// -- Row mapping --

func patientFromRow(r *PatientRow) Patient {
	return Patient{
		PatientGUID: r.PatientGUID,
		Name:        displayName(deref(r.Forenames), deref(r.Surname)),
		DOB:         deref(r.DateOfBirth),
		Sex:         deref(r.Sex),
		PostCode:    r.PostCode,
	}
}

func medicationFromRow(r MedicationRow) Medication {
	status := defaultDrugStatus
	switch {
	case r.DrugStatus != nil:
		status = *r.DrugStatus
	case r.Status != nil:
		status = *r.Status
	}
	return Medication{
		MedicationGUID:   r.MedicationGUID,
		Term:             r.Term,
		Dosage:           r.Dosage,
		StartDate:        firstNonEmpty(r.EffectiveDateTime, r.IssuedDate),
		Status:           status,
		PrescriptionType: r.PrescriptionType,
	}
}

func appointmentFromRow(r AppointmentRow) Appointment {
	return Appointment{
		AppointmentGUID: r.AppointmentGUID,
		StartDateTime:   r.StartDateTime,
		EndDateTime:     r.EndDateTime,
		Status:          r.CurrentStatus,
		Location:        r.SessionLocation,
	}
}

func eventFromRow(r EventRow) ClinicalEvent {
	return ClinicalEvent{
		EventGUID:         r.EventGUID,
		EventType:         r.EventType,
		Term:              r.Term,
		ReadCode:          r.ReadCode,
		SnomedCTCode:      r.SnomedCTCode,
		EffectiveDateTime: r.EffectiveDateTime,
	}
}

// displayName joins the trimmed name parts with one space. Two empty parts
// give "", not " ".
func displayName(given, family string) string {
	return strings.TrimSpace(strings.TrimSpace(given) + " " + strings.TrimSpace(family))
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
