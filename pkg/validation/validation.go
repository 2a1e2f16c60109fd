// Package validation validates the X-PAYMENT header and a resource server's
// Extra payment-requirements schema, both structurally (base64/JSON shape)
// and, for Extra, against a caller-supplied JSON schema.
package validation

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/x402-foundation/x402-core"
)

var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// DecodePaymentHeader validates the X-PAYMENT header's base64 and JSON shape
// before decoding it, so a malformed header produces a descriptive error
// rather than a bare unmarshal failure.
func DecodePaymentHeader(header string) (x402.PaymentPayload, error) {
	if header == "" {
		return x402.PaymentPayload{}, fmt.Errorf("payment header is empty")
	}
	if !base64Regex.MatchString(header) {
		return x402.PaymentPayload{}, fmt.Errorf("invalid payment header: not valid base64")
	}

	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid payment header: base64 decode failed: %w", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(decoded, &raw); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid payment header: not valid JSON: %w", err)
	}
	if err := requireFields(raw, "x402Version", "scheme", "network", "payload"); err != nil {
		return x402.PaymentPayload{}, err
	}

	var payload x402.PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to parse payment payload: %w", err)
	}
	return payload, nil
}

func requireFields(raw map[string]interface{}, fields ...string) error {
	for _, f := range fields {
		if _, ok := raw[f]; !ok {
			return fmt.Errorf("missing required field: %s", f)
		}
	}
	return nil
}

// Result is the outcome of validating a document against a JSON schema.
type Result struct {
	Valid  bool
	Errors []string
}

// ValidateExtra validates payment requirements' Extra field against a
// resource server-supplied JSON schema (e.g. an OutputSchema describing
// what the paid resource returns).
func ValidateExtra(schema, extra json.RawMessage) Result {
	if len(schema) == 0 {
		return Result{Valid: true}
	}
	schemaLoader := gojsonschema.NewBytesLoader(schema)
	documentLoader := gojsonschema.NewBytesLoader(extra)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return Result{Valid: false, Errors: []string{fmt.Sprintf("schema validation failed: %v", err)}}
	}
	if result.Valid() {
		return Result{Valid: true}
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return Result{Valid: false, Errors: errs}
}
