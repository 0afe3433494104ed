package passport

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-playground/validator/v10"
)

//go:embed schema/dmp_v1.json
var schemaDocument []byte

// Validation stages.
const (
	StageStructural = "structural"
	StageSemantic   = "semantic"
)

// Field rule tags registered on the field validator.
const (
	tagGUID           = "dmp_guid"
	tagDateTime       = "dmp_datetime"
	tagDateOrDateTime = "dmp_date_or_datetime"
)

// guidPattern accepts any hex digit in each dash-delimited run; version and
// variant bits are not checked.
var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// dateTimeLayouts covers a T or space separator, a clock of hours,
// minutes or seconds (fractions are accepted after seconds) and a zone of
// none, Z, ±hh:mm, ±hhmm or ±hh.
var dateTimeLayouts = func() []string {
	var out []string
	for _, sep := range []string{"T", " "} {
		for _, clock := range []string{"15:04:05", "15:04", "15"} {
			for _, zone := range []string{"", "Z07:00", "Z0700", "Z07"} {
				out = append(out, "2006-01-02"+sep+clock+zone)
			}
		}
	}
	return out
}()

// Report is the outcome of validating one payload. An empty Errors slice
// means the payload is valid; Stage names the phase that rejected it.
type Report struct {
	Stage  string
	Errors []string
}

func (r Report) Valid() bool { return len(r.Errors) == 0 }

// Validator checks exchange documents in two phases. The structural phase
// runs the embedded schema; the semantic phase only runs when the
// structural phase found nothing.
type Validator struct {
	schema *openapi3.Schema
	fields *validator.Validate
}

// ExchangeSchema returns a fresh copy of the exchange document schema.
func ExchangeSchema() (*openapi3.Schema, error) {
	schema := &openapi3.Schema{}
	if err := json.Unmarshal(schemaDocument, schema); err != nil {
		return nil, fmt.Errorf("load dmp schema: %w", err)
	}
	return schema, nil
}

func NewValidator() (*Validator, error) {
	schema, err := ExchangeSchema()
	if err != nil {
		return nil, err
	}

	fields := validator.New()
	_ = fields.RegisterValidation(tagGUID, func(fl validator.FieldLevel) bool {
		return guidPattern.MatchString(fl.Field().String())
	})
	_ = fields.RegisterValidation(tagDateTime, func(fl validator.FieldLevel) bool {
		return isDateTime(fl.Field().String())
	})
	_ = fields.RegisterValidation(tagDateOrDateTime, func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if datePattern.MatchString(s) {
			_, err := time.Parse("2006-01-02", s)
			return err == nil
		}
		return isDateTime(s)
	})

	return &Validator{schema: schema, fields: fields}, nil
}

func isDateTime(s string) bool {
	for _, layout := range dateTimeLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// Validate returns the ordered error descriptions for payload. payload is
// a decoded JSON value (map[string]any, []any, float64, string, bool, nil).
func (v *Validator) Validate(payload any, lookups Lookups) []string {
	return v.Check(payload, lookups).Errors
}

// Check runs both phases and reports which one rejected the payload.
func (v *Validator) Check(payload any, lookups Lookups) Report {
	if errs := v.structural(payload); len(errs) > 0 {
		return Report{Stage: StageStructural, Errors: errs}
	}
	if errs := v.semantic(payload, lookups); len(errs) > 0 {
		return Report{Stage: StageSemantic, Errors: errs}
	}
	return Report{}
}

// =========== Structural phase ===========

type schemaIssue struct {
	path   []string
	reason string
}

func (v *Validator) structural(payload any) []string {
	err := v.schema.VisitJSON(payload, openapi3.MultiErrors())
	if err == nil {
		return nil
	}

	var issues []schemaIssue
	collectSchemaIssues(err, &issues)

	slices.SortStableFunc(issues, func(a, b schemaIssue) int {
		return comparePaths(a.path, b.path)
	})

	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = fmt.Sprintf("schema: %s: %s", renderPath(is.path), is.reason)
	}
	return out
}

func collectSchemaIssues(err error, issues *[]schemaIssue) {
	switch e := err.(type) {
	case openapi3.MultiError:
		for _, inner := range e {
			collectSchemaIssues(inner, issues)
		}
	case *openapi3.SchemaError:
		*issues = append(*issues, schemaIssue{path: e.JSONPointer(), reason: e.Reason})
	default:
		*issues = append(*issues, schemaIssue{reason: err.Error()})
	}
}

// comparePaths orders paths segment by segment; two numeric segments compare
// as numbers so items[2] sorts before items[10].
func comparePaths(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		ai, aErr := strconv.Atoi(a[i])
		bi, bErr := strconv.Atoi(b[i])
		if aErr == nil && bErr == nil {
			if ai != bi {
				if ai < bi {
					return -1
				}
				return 1
			}
			continue
		}
		if c := strings.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// renderPath turns ["appointments","0","StartDateTime"] into
// appointments[0].StartDateTime. The empty path is "(root)".
func renderPath(segments []string) string {
	if len(segments) == 0 {
		return "(root)"
	}
	var sb strings.Builder
	for i, s := range segments {
		if _, err := strconv.Atoi(s); err == nil {
			sb.WriteString("[" + s + "]")
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(s)
	}
	return sb.String()
}

// =========== Semantic phase ===========

type semanticCheck struct {
	errs    []string
	fields  *validator.Validate
	lookups Lookups
}

func (v *Validator) semantic(payload any, lookups Lookups) []string {
	root, _ := payload.(map[string]any)
	sc := &semanticCheck{fields: v.fields, lookups: lookups}

	p, _ := root["patient"].(map[string]any)
	sc.guid(p["PatientGuid"], "patient.PatientGuid")
	sc.timestamp(p["DateOfBirth"], "patient.DateOfBirth", tagDateOrDateTime)
	sc.lookup(p["Sex"], "patient.Sex", LookupSex)

	for i, item := range asList(root["appointments"]) {
		a, _ := item.(map[string]any)
		prefix := fmt.Sprintf("appointments[%d].", i)
		sc.guid(a["AppointmentGuid"], prefix+"AppointmentGuid")
		sc.timestamp(a["StartDateTime"], prefix+"StartDateTime", tagDateTime)
		sc.timestamp(a["EndDateTime"], prefix+"EndDateTime", tagDateTime)
	}

	for i, item := range asList(root["medications"]) {
		m, _ := item.(map[string]any)
		prefix := fmt.Sprintf("medications[%d].", i)
		sc.guid(m["MedicationGuid"], prefix+"MedicationGuid")
		sc.timestamp(m["EffectiveDateTime"], prefix+"EffectiveDateTime", tagDateTime)
		sc.lookup(m["PrescriptionType"], prefix+"PrescriptionType", LookupPrescriptionType)
		sc.lookup(m["DrugStatus"], prefix+"DrugStatus", LookupDrugStatus)
	}

	for i, item := range asList(root["events"]) {
		e, _ := item.(map[string]any)
		prefix := fmt.Sprintf("events[%d].", i)
		sc.guid(e["EventGuid"], prefix+"EventGuid")
		sc.timestamp(e["EffectiveDateTime"], prefix+"EffectiveDateTime", tagDateTime)
		sc.lookup(e["EventType"], prefix+"EventType", LookupEventType)
	}

	return sc.errs
}

func (sc *semanticCheck) guid(val any, field string) {
	s, ok := val.(string)
	if !ok || sc.fields.Var(s, tagGUID) != nil {
		sc.errs = append(sc.errs, field+": invalid GUID")
	}
}

func (sc *semanticCheck) timestamp(val any, field, tag string) {
	s, ok := val.(string)
	if !ok {
		sc.errs = append(sc.errs, field+": must be string")
		return
	}
	if sc.fields.Var(s, tag) != nil {
		sc.errs = append(sc.errs, fmt.Sprintf("%s: invalid ISO date/datetime '%s'", field, s))
	}
}

func (sc *semanticCheck) lookup(val any, field, name string) {
	set, ok := sc.lookups[name]
	if !ok {
		return
	}
	if !set.Contains(val) {
		sc.errs = append(sc.errs, fmt.Sprintf("%s: '%s' is not in %s", field, displayValue(val), set))
	}
}

func displayValue(v any) string {
	if lv, ok := normalizeLookup(v); ok {
		return lv.String()
	}
	if v == nil {
		return "null"
	}
	return fmt.Sprint(v)
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}
