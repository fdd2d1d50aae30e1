package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const startSchema = `{
  "type": "object",
  "required": ["owner_reference"],
  "properties": {
    "owner_reference": {"type": "string", "minLength": 1},
    "quiz_id": {"type": "string"}
  }
}`

const sessionSchema = `{
  "type": "object",
  "required": ["owner_reference"],
  "properties": {
    "owner_reference": {"type": "string", "minLength": 1}
  }
}`

const answerSchema = `{
  "type": "object",
  "required": ["item_id", "selected_option_index"],
  "properties": {
    "attempt_id": {"type": "string", "minLength": 1},
    "item_id": {"type": "string", "minLength": 1},
    "selected_option_index": {"type": "integer", "minimum": 0}
  }
}`

// ErrInvalidRequest is returned for bodies that fail schema validation.
var ErrInvalidRequest = errors.New("invalid request")

type schemas struct {
	session *gojsonschema.Schema
	start   *gojsonschema.Schema
	answer  *gojsonschema.Schema
}

func compileSchemas() (schemas, error) {
	session, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(sessionSchema))
	if err != nil {
		return schemas{}, fmt.Errorf("compile session schema: %w", err)
	}
	start, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(startSchema))
	if err != nil {
		return schemas{}, fmt.Errorf("compile start schema: %w", err)
	}
	answer, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(answerSchema))
	if err != nil {
		return schemas{}, fmt.Errorf("compile answer schema: %w", err)
	}
	return schemas{session: session, start: start, answer: answer}, nil
}

// validate checks a raw JSON document against s and folds every violation
// into one ErrInvalidRequest.
func validate(s *gojsonschema.Schema, body []byte) error {
	res, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

// decode reads the body, validates it against s and unmarshals it into v.
func decode(w http.ResponseWriter, r *http.Request, s *gojsonschema.Schema, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return decodeBytes(s, body, v)
}

func decodeBytes(s *gojsonschema.Schema, body []byte, v any) error {
	if err := validate(s, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}
