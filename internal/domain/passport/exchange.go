package passport

// Exchange is the import document shape: lower-case top-level sections
// and per-entity field names as the validator expects them. It differs from
// the Bundle document on purpose; the two are used at different boundaries.
type Exchange struct {
	Patient      ExchangePatient       `json:"patient"`
	Appointments []ExchangeAppointment `json:"appointments"`
	Medications  []ExchangeMedication  `json:"medications"`
	Events       []ExchangeEvent       `json:"events"`
}

type ExchangePatient struct {
	PatientGUID string  `json:"PatientGuid"`
	Name        string  `json:"Name"`
	DateOfBirth string  `json:"DateOfBirth"`
	Sex         string  `json:"Sex"`
	PostCode    *string `json:"PostCode,omitempty"`
}

type ExchangeAppointment struct {
	AppointmentGUID string  `json:"AppointmentGuid"`
	StartDateTime   string  `json:"StartDateTime"`
	EndDateTime     string  `json:"EndDateTime"`
	Status          *int    `json:"Status,omitempty"`
	Location        *string `json:"Location,omitempty"`
}

type ExchangeMedication struct {
	MedicationGUID    string  `json:"MedicationGuid"`
	Term              string  `json:"Term"`
	Dosage            *string `json:"Dosage,omitempty"`
	EffectiveDateTime string  `json:"EffectiveDateTime"`
	PrescriptionType  *int    `json:"PrescriptionType"`
	DrugStatus        int     `json:"DrugStatus"`
}

type ExchangeEvent struct {
	EventGUID         string  `json:"EventGuid"`
	EventType         int     `json:"EventType"`
	Term              string  `json:"Term"`
	ReadCode          *string `json:"ReadCode,omitempty"`
	SnomedCTCode      *string `json:"SnomedCTCode,omitempty"`
	EffectiveDateTime string  `json:"EffectiveDateTime"`
}

// ToExchange converts an assembled bundle into the import document shape
// so it can be sent to another system's importer. The derived allergy and
// immunisation views are not carried; the receiver sees them as events.
func ToExchange(b *Bundle) *Exchange {
	x := &Exchange{
		Patient: ExchangePatient{
			PatientGUID: b.PatientGUID,
			Name:        b.Name,
			DateOfBirth: b.DOB,
			Sex:         b.Sex,
			PostCode:    b.PostCode,
		},
		Appointments: make([]ExchangeAppointment, 0, len(b.Appointments)),
		Medications:  make([]ExchangeMedication, 0, len(b.Medications)),
		Events:       make([]ExchangeEvent, 0, len(b.Events)),
	}

	for _, a := range b.Appointments {
		x.Appointments = append(x.Appointments, ExchangeAppointment{
			AppointmentGUID: a.AppointmentGUID,
			StartDateTime:   a.StartDateTime,
			EndDateTime:     a.EndDateTime,
			Status:          a.Status,
			Location:        a.Location,
		})
	}
	for _, m := range b.Medications {
		x.Medications = append(x.Medications, ExchangeMedication{
			MedicationGUID:    m.MedicationGUID,
			Term:              m.Term,
			Dosage:            m.Dosage,
			EffectiveDateTime: m.StartDate,
			PrescriptionType:  m.PrescriptionType,
			DrugStatus:        m.Status,
		})
	}
	for _, e := range b.Events {
		x.Events = append(x.Events, ExchangeEvent{
			EventGUID:         e.EventGUID,
			EventType:         e.EventType,
			Term:              e.Term,
			ReadCode:          e.ReadCode,
			SnomedCTCode:      e.SnomedCTCode,
			EffectiveDateTime: e.EffectiveDateTime,
		})
	}
	return x
}
