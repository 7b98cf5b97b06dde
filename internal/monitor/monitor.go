// Package monitor checks request bodies against the JSON schemas of the
// payment API contract before they are bound and validated.
package monitor

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Names of the embedded contracts.
const (
	ContractPayment = "payment"
	ContractCapture = "capture"
	ContractCancel  = "cancel"
	ContractRefund  = "refund"
)

// ContractMonitor validates incoming requests against a JSON schema.
type ContractMonitor struct {
	name   string
	schema *gojsonschema.Schema
}

// NewContractMonitor compiles schema into a monitor named name.
func NewContractMonitor(name string, schema []byte) (*ContractMonitor, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("error loading or compiling schema %s: %w", name, err)
	}
	return &ContractMonitor{name: name, schema: compiled}, nil
}

// LoadContracts compiles every embedded contract, keyed by name.
func LoadContracts() (map[string]*ContractMonitor, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	out := make(map[string]*ContractMonitor, len(entries))
	for _, e := range entries {
		raw, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		cm, err := NewContractMonitor(name, raw)
		if err != nil {
			return nil, err
		}
		out[name] = cm
	}
	return out, nil
}

// Name returns the contract name.
func (cm *ContractMonitor) Name() string {
	return cm.name
}

// Validate validates the given request body against the loaded JSON schema.
// It returns true if valid, or false and a list of validation errors if invalid.
func (cm *ContractMonitor) Validate(requestBody []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(requestBody))
	if err != nil {
		return false, nil, fmt.Errorf("error during validation: %w", err)
	}

	if result.Valid() {
		return true, nil, nil
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, desc.String())
	}
	return false, errors, nil
}

// FormatErrors formats a slice of validation error strings into a single string.
func FormatErrors(validationErrors []string) string {
	if len(validationErrors) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(validationErrors, "; ")
}

// Middleware rejects requests whose body does not satisfy cm with 400 and
// leaves the body readable for the next handler.
func (cm *ContractMonitor) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "unreadable request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		valid, errs, err := cm.Validate(body)
		if err != nil {
			// Not JSON at all.
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "request body must be a JSON object"})
			return
		}
		if !valid {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": FormatErrors(errs), "errors": errs})
			return
		}
		c.Next()
	}
}
