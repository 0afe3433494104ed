package passport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dmp/passport/internal/platform/blobstore"
	"github.com/dmp/passport/internal/platform/markup"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatXML  = "xml"
)

// RootElement is the XML root of a serialized passport.
const RootElement = "DigitalMedicalPassport"

const (
	contentTypeJSON = "application/json"
	contentTypeXML  = "application/xml"
)

var errNoStore = errors.New("no export store configured")

type ExportOptions struct {
	Format  string
	Persist bool
}

type ExportResult struct {
	PatientGUID string
	Format      string
	ContentType string
	Body        []byte
	// Location is where the export was persisted; empty when not persisted.
	Location string
}

type ImportResult struct {
	PatientGUID string
}

type Service struct {
	provider  SourceProvider
	validator *Validator
	store     blobstore.Store
	logger    zerolog.Logger
}

// NewService wires the orchestrator. store may be nil when exports are never
// persisted.
func NewService(provider SourceProvider, validator *Validator, store blobstore.Store, logger zerolog.Logger) *Service {
	return &Service{provider: provider, validator: validator, store: store, logger: logger}
}

// Bundle assembles the passport for patientGUID without serializing it.
func (s *Service) Bundle(ctx context.Context, patientGUID string) (*Bundle, error) {
	return assembleFrom(ctx, s.provider, patientGUID)
}

// Export assembles and serializes the passport for patientGUID, optionally
// persisting it as <guid>.json or <guid>.xml.
func (s *Service) Export(ctx context.Context, patientGUID string, opts ExportOptions) (*ExportResult, error) {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatXML {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, opts.Format)
	}

	bundle, err := assembleFrom(ctx, s.provider, patientGUID)
	if err != nil {
		return nil, err
	}

	res := &ExportResult{PatientGUID: patientGUID, Format: format}
	switch format {
	case FormatJSON:
		res.ContentType = contentTypeJSON
		res.Body, err = EncodeJSON(bundle)
	case FormatXML:
		res.ContentType = contentTypeXML
		res.Body, err = EncodeXML(bundle)
	}
	if err != nil {
		return nil, err
	}

	if opts.Persist {
		if s.store == nil {
			return nil, errNoStore
		}
		loc, err := s.store.Put(ctx, patientGUID+"."+format, res.ContentType, res.Body)
		if err != nil {
			return nil, fmt.Errorf("persist export: %w", err)
		}
		res.Location = loc
	}

	s.logger.Info().
		Str("patient_guid", patientGUID).
		Str("format", format).
		Int("bytes", len(res.Body)).
		Str("location", res.Location).
		Msg("passport exported")
	return res, nil
}

// EncodeJSON renders a bundle as 2-space indented UTF-8 JSON without HTML
// escaping and without a trailing newline.
func EncodeJSON(b *Bundle) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// EncodeXML renders a bundle under the DigitalMedicalPassport root, keeping
// the JSON document's key order.
func EncodeXML(b *Bundle) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	tree, err := markup.FromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	out, err := markup.Marshal(RootElement, tree)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if err := markup.WellFormed(out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return out, nil
}

// Exchange assembles the passport for patientGUID in the import document
// shape and checks it with the import validator. A passport the receiving
// importer would reject comes back as *ValidationError.
func (s *Service) Exchange(ctx context.Context, patientGUID string, lookups Lookups) (*Exchange, error) {
	bundle, err := assembleFrom(ctx, s.provider, patientGUID)
	if err != nil {
		return nil, err
	}

	x := ToExchange(bundle)
	raw, err := json.Marshal(x)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	if report := s.validator.Check(doc, lookups); !report.Valid() {
		s.logger.Warn().
			Str("patient_guid", patientGUID).
			Str("stage", report.Stage).
			Int("errors", len(report.Errors)).
			Msg("passport does not form a valid exchange document")
		return nil, &ValidationError{Stage: report.Stage, Errors: report.Errors}
	}
	return x, nil
}

// Import validates an exchange document against lookups and returns the
// patient identifier it carries. Nothing is written anywhere.
func (s *Service) Import(ctx context.Context, payload []byte, lookups Lookups) (*ImportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		s.logger.Warn().Err(err).Msg("import rejected: undecodable payload")
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	report := s.validator.Check(doc, lookups)
	if !report.Valid() {
		s.logger.Info().
			Str("stage", report.Stage).
			Int("errors", len(report.Errors)).
			Msg("import rejected")
		return nil, &ValidationError{Stage: report.Stage, Errors: report.Errors}
	}

	root := doc.(map[string]any)
	patient := root["patient"].(map[string]any)
	guid := patient["PatientGuid"].(string)

	s.logger.Info().Str("patient_guid", guid).Msg("import accepted")
	return &ImportResult{PatientGUID: guid}, nil
}
