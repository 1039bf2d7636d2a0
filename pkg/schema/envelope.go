package schema

// Envelope is the uniform result shape: {success: bool, ...}. Failures
// additionally carry error, code and optional hint, suggestion and details.
type Envelope map[string]any

// Success builds a successful envelope from the given fields.
func Success(fields map[string]any) Envelope {
	env := Envelope{"success": true}
	for k, v := range fields {
		env[k] = v
	}
	return env
}

// Failure builds a failure envelope from any error.
func Failure(err error) Envelope {
	ge := AsGraphError(err)
	env := Envelope{
		"success": false,
		"error":   ge.Message,
		"code":    ge.Code,
	}
	if ge.Hint != "" {
		env["hint"] = ge.Hint
	}
	if ge.Suggestion != "" {
		env["suggestion"] = ge.Suggestion
	}
	if len(ge.Details) > 0 {
		env["details"] = ge.Details
	}
	return env
}

// With adds fields to the envelope and returns it.
func (e Envelope) With(fields map[string]any) Envelope {
	for k, v := range fields {
		e[k] = v
	}
	return e
}

// OK reports the success flag.
func (e Envelope) OK() bool {
	ok, _ := e["success"].(bool)
	return ok
}
