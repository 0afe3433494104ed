package openapi

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
)

// Generator builds the OpenAPI 3.0 description of the passport API.
type Generator struct {
	version  string
	baseURL  string
	exchange *openapi3.Schema
}

// NewGenerator creates a generator. exchange is the schema import payloads
// are checked against; it is published as the Exchange component.
func NewGenerator(version, baseURL string, exchange *openapi3.Schema) *Generator {
	return &Generator{version: version, baseURL: baseURL, exchange: exchange}
}

// components holds the published schemas; ref returns a $ref to one of
// them with its value attached so the document validates without a loader.
type components openapi3.Schemas

func (c components) ref(name string) *openapi3.SchemaRef {
	var value *openapi3.Schema
	if s := c[name]; s != nil {
		value = s.Value
	}
	return openapi3.NewSchemaRef("#/components/schemas/"+name, value)
}

// GenerateSpec produces the OpenAPI document.
func (g *Generator) GenerateSpec() *openapi3.T {
	schemas := buildComponentSchemas(g.exchange)
	c := components(schemas)

	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Digital Medical Passport API",
			Version:     g.version,
			Description: "Read patient records, export passports as JSON or XML and validate inbound exchange documents.",
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: schemas,
		},
	}
	if g.baseURL != "" {
		doc.Servers = openapi3.Servers{{URL: g.baseURL}}
	}

	doc.Paths.Set("/api/v1/patients/{id}", &openapi3.PathItem{
		Get: readOperation(c, "getPatient", "Get a patient's demographics", c.ref("Patient")),
	})
	for _, r := range []struct{ path, id, summary string }{
		{"appointments", "listAppointments", "List a patient's appointments, newest first"},
		{"medications", "listMedications", "List a patient's medications, newest first"},
		{"events", "listEvents", "List a patient's clinical events, newest first"},
	} {
		list := openapi3.NewArraySchema().WithItems(openapi3.NewObjectSchema()).NewRef()
		doc.Paths.Set("/api/v1/patients/{id}/"+r.path, &openapi3.PathItem{
			Get: readOperation(c, r.id, r.summary, list),
		})
	}
	doc.Paths.Set("/api/v1/patients/{id}/dmp", &openapi3.PathItem{Get: exportOperation(c)})
	doc.Paths.Set("/api/v1/dmp/import", &openapi3.PathItem{Post: importOperation(c)})
	return doc
}

func exportOperation(c components) *openapi3.Operation {
	format := openapi3.NewQueryParameter("format").
		WithDescription("Serialization format. Defaults to json.").
		WithSchema(openapi3.NewStringSchema().WithEnum("json", "xml"))
	save := openapi3.NewQueryParameter("save").
		WithDescription("Persist the export when 1, true or yes. The location is returned in Content-Location.").
		WithSchema(openapi3.NewStringSchema())

	ok := openapi3.NewResponse().
		WithDescription("Passport bundle").
		WithContent(openapi3.Content{
			"application/json": openapi3.NewMediaType().WithSchemaRef(c.ref("Bundle")),
			"application/xml":  openapi3.NewMediaType().WithSchema(openapi3.NewStringSchema()),
		})
	ok.Headers = openapi3.Headers{
		"Content-Location": &openapi3.HeaderRef{Value: &openapi3.Header{Parameter: openapi3.Parameter{
			Description: "Where the export was persisted, when save was requested",
			Schema:      openapi3.NewStringSchema().NewRef(),
		}}},
	}

	return &openapi3.Operation{
		Summary:     "Export a patient's passport",
		OperationID: "exportPassport",
		Tags:        []string{"passport"},
		Parameters: openapi3.Parameters{
			{Value: openapi3.NewPathParameter("id").WithDescription("Patient GUID").WithSchema(openapi3.NewStringSchema())},
			{Value: format},
			{Value: save},
		},
		Responses: openapi3.NewResponses(
			openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: ok}),
			openapi3.WithStatus(http.StatusBadRequest, errorResponse(c, "Unsupported format")),
			openapi3.WithStatus(http.StatusNotFound, errorResponse(c, "Patient not found")),
		),
	}
}

func readOperation(c components, operationID, summary string, body *openapi3.SchemaRef) *openapi3.Operation {
	ok := openapi3.NewResponse().
		WithDescription(summary).
		WithContent(openapi3.NewContentWithJSONSchemaRef(body))
	return &openapi3.Operation{
		Summary:     summary,
		OperationID: operationID,
		Tags:        []string{"patients"},
		Parameters: openapi3.Parameters{
			{Value: openapi3.NewPathParameter("id").WithDescription("Patient GUID").WithSchema(openapi3.NewStringSchema())},
		},
		Responses: openapi3.NewResponses(
			openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: ok}),
			openapi3.WithStatus(http.StatusNotFound, errorResponse(c, "Patient not found")),
		),
	}
}

func importOperation(c components) *openapi3.Operation {
	receipt := openapi3.NewResponse().
		WithDescription("Document accepted").
		WithContent(openapi3.NewContentWithJSONSchemaRef(c.ref("ImportReceipt")))
	rejected := openapi3.NewResponse().
		WithDescription("Document failed validation").
		WithContent(openapi3.NewContentWithJSONSchemaRef(c.ref("Rejection")))

	return &openapi3.Operation{
		Summary:     "Validate an inbound passport exchange document",
		OperationID: "importPassport",
		Tags:        []string{"passport"},
		RequestBody: &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
			WithRequired(true).
			WithJSONSchemaRef(c.ref("Exchange"))},
		Responses: openapi3.NewResponses(
			openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: receipt}),
			openapi3.WithStatus(http.StatusBadRequest, errorResponse(c, "Invalid JSON")),
			openapi3.WithStatus(http.StatusRequestEntityTooLarge, errorResponse(c, "Request body too large")),
			openapi3.WithStatus(http.StatusUnprocessableEntity, &openapi3.ResponseRef{Value: rejected}),
		),
	}
}

func errorResponse(c components, description string) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{Value: openapi3.NewResponse().
		WithDescription(description).
		WithContent(openapi3.NewContentWithJSONSchemaRef(c.ref("Error")))}
}

func buildComponentSchemas(exchange *openapi3.Schema) openapi3.Schemas {
	if exchange == nil {
		exchange = openapi3.NewObjectSchema()
	}

	stringArray := openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())

	return openapi3.Schemas{
		"Exchange": exchange.NewRef(),
		"Bundle":   buildBundleSchema().NewRef(),
		"Patient": openapi3.NewObjectSchema().
			WithProperty("PatientGuid", openapi3.NewStringSchema()).
			WithProperty("Name", openapi3.NewStringSchema()).
			WithProperty("DOB", openapi3.NewStringSchema()).
			WithProperty("Sex", openapi3.NewStringSchema()).
			WithProperty("PostCode", openapi3.NewStringSchema().WithNullable()).
			WithRequired([]string{"PatientGuid", "Name"}).NewRef(),
		"Error": openapi3.NewObjectSchema().
			WithProperty("error", openapi3.NewStringSchema()).
			WithRequired([]string{"error"}).NewRef(),
		"Rejection": openapi3.NewObjectSchema().
			WithProperty("error", openapi3.NewStringSchema()).
			WithProperty("stage", openapi3.NewStringSchema().WithEnum("structural", "semantic")).
			WithProperty("details", stringArray).
			WithRequired([]string{"error", "stage", "details"}).NewRef(),
		"ImportReceipt": openapi3.NewObjectSchema().
			WithProperty("message", openapi3.NewStringSchema()).
			WithProperty("patientGuid", openapi3.NewStringSchema()).NewRef(),
	}
}

func buildBundleSchema() *openapi3.Schema {
	list := openapi3.NewArraySchema().WithItems(openapi3.NewObjectSchema())
	return openapi3.NewObjectSchema().
		WithProperty("PatientGuid", openapi3.NewStringSchema()).
		WithProperty("Name", openapi3.NewStringSchema()).
		WithProperty("DOB", openapi3.NewStringSchema().WithNullable()).
		WithProperty("Sex", openapi3.NewStringSchema().WithNullable()).
		WithProperty("PostCode", openapi3.NewStringSchema().WithNullable()).
		WithProperty("Medications", list).
		WithProperty("Appointments", list).
		WithProperty("Events", list).
		WithProperty("Allergies", list).
		WithProperty("Immunisations", list).
		WithRequired([]string{"PatientGuid", "Name", "Medications", "Appointments", "Events", "Allergies", "Immunisations"})
}

// ── Swagger UI ──────────────────────────────────────────────────────────

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Digital Medical Passport API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [SwaggerUIBundle.presets.apis],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes registers the OpenAPI endpoints. The document is built
// once.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	spec := g.GenerateSpec()
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, spec)
	})
	apiGroup.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
