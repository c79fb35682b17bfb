// Package openapi loads the port-agency backend's OpenAPI document and
// resolves operationIds to concrete HTTP method and path, so collection and
// entity endpoints can be configured by operation rather than by URL.
package openapi

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/portdesk/model"
)

// Operation holds a resolved OpenAPI operation.
type Operation struct {
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
}

// Index is an in-memory index of backend operations keyed by operationId.
type Index struct {
	operations map[string]Operation
	serverURL  string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{operations: make(map[string]Operation)}
}

// Load parses and validates the OpenAPI document at specPath and indexes
// every operation that declares an operationId.
func (idx *Index) Load(ctx context.Context, specPath string) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return fmt.Errorf("openapi: loading %s: %w", specPath, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return fmt.Errorf("openapi: validating %s: %w", specPath, err)
	}

	if len(doc.Servers) > 0 {
		idx.serverURL = doc.Servers[0].URL
	}

	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}

			// Merge path-level and operation-level parameters.
			params := make([]*openapi3.Parameter, 0)
			for _, ref := range pathItem.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}

			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				reqBody = op.RequestBody.Value
			}

			if _, dup := idx.operations[op.OperationID]; dup {
				return fmt.Errorf("openapi: duplicate operationId %q in %s", op.OperationID, specPath)
			}
			idx.operations[op.OperationID] = Operation{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
				Parameters:   params,
				RequestBody:  reqBody,
			}
		}
	}

	return nil
}

// ServerURL returns the first server URL declared by the document, if any.
func (idx *Index) ServerURL() string {
	return idx.serverURL
}

// Operation returns the indexed operation for operationID.
func (idx *Index) Operation(operationID string) (Operation, bool) {
	op, ok := idx.operations[operationID]
	return op, ok
}

// Len returns the number of indexed operations.
func (idx *Index) Len() int {
	return len(idx.operations)
}

// OperationIDs returns all indexed operation IDs, sorted.
func (idx *Index) OperationIDs() []string {
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve returns the method and concrete path for operationID, with
// "{name}" placeholders replaced by path-escaped values from params. Every
// placeholder must be supplied.
func (idx *Index) Resolve(operationID string, params map[string]string) (method, path string, err error) {
	op, ok := idx.operations[operationID]
	if !ok {
		return "", "", fmt.Errorf("openapi: operation %q not found", operationID)
	}
	path, err = ExpandPath(op.PathTemplate, params)
	if err != nil {
		return "", "", fmt.Errorf("openapi: %s: %w", operationID, err)
	}
	return op.Method, path, nil
}

// ExpandPath replaces "{name}" placeholders in template with path-escaped
// values from params.
func ExpandPath(template string, params map[string]string) (string, error) {
	var b strings.Builder
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("unterminated placeholder in %q", template)
		}
		name := rest[open+1 : open+end]
		value, ok := params[name]
		if !ok || value == "" {
			return "", fmt.Errorf("missing path parameter %q for %q", name, template)
		}
		b.WriteString(rest[:open])
		b.WriteString(url.PathEscape(value))
		rest = rest[open+end+1:]
	}
}

// ValidateRequest checks body against the required properties of the
// operation's JSON request schema. It returns nil when the operation is
// unknown or declares no JSON body schema.
func (idx *Index) ValidateRequest(operationID string, body map[string]any) []model.FieldError {
	op, ok := idx.operations[operationID]
	if !ok || op.RequestBody == nil {
		return nil
	}

	ct := op.RequestBody.Content.Get("application/json")
	if ct == nil || ct.Schema == nil || ct.Schema.Value == nil {
		return nil
	}

	var errs []model.FieldError
	for _, req := range ct.Schema.Value.Required {
		v, exists := body[req]
		if s, isString := v.(string); !exists || v == nil || (isString && strings.TrimSpace(s) == "") {
			errs = append(errs, model.FieldError{
				Field:   req,
				Code:    "REQUIRED",
				Message: fmt.Sprintf("%s is required", req),
			})
		}
	}
	return errs
}
