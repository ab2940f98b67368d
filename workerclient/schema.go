package workerclient

import "github.com/xeipuuv/gojsonschema"

// statusResponseSchema constrains the one worker response shape a
// misbehaving or mismatched-version worker is most likely to corrupt:
// the /status poll, whose "status" field the dispatchers switch on
// directly. Grounded on the teacher's handlers/json_schema.go
// (schema-text-as-string-constant, compiled once at program start).
const statusResponseSchemaDefinition = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"type": "string", "enum": ["pending", "queued", "running", "completed", "failed", "cancelled"]},
    "fps": {"type": "number"},
    "speed": {"type": "number"},
    "out_time_ms": {"type": "number"},
    "frame": {"type": "number"},
    "progress": {"type": "number"},
    "error": {"type": "string"}
  }
}`

var statusResponseSchema = compileSchema(statusResponseSchemaDefinition)

func compileSchema(text string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
	if err != nil {
		// fix schema text
		panic(err)
	}
	return schema
}

// validateStatusResponse is the optional strict-decode path: a worker
// response that merely fails json.Unmarshal into StatusResponse (a field
// of the wrong type) already surfaces as a ProtocolViolationError; this
// additionally catches a response with no "status" field, or one that
// decodes fine but carries a status value outside the known state
// machine, e.g. a newer worker
// version that introduced a status this cartridge doesn't know yet.
func validateStatusResponse(body []byte) error {
	result, err := statusResponseSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return err
	}
	if !result.Valid() {
		return resultErrors(result.Errors())
	}
	return nil
}

type schemaErrors []gojsonschema.ResultError

func (e schemaErrors) Error() string {
	if len(e) == 0 {
		return "schema validation failed"
	}
	return e[0].String()
}

func resultErrors(errs []gojsonschema.ResultError) error {
	return schemaErrors(errs)
}
