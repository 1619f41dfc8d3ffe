// Serves the JSON Schema of the record types.

package handlers

import (
	"context"
	"reflect"

	"github.com/invopop/jsonschema"

	"github.com/neizzzy/garage/internal/record"
	"github.com/neizzzy/garage/internal/server/dto"
)

var schemaTypes = map[string]reflect.Type{
	"users": reflect.TypeFor[record.User](),
	"cars":  reflect.TypeFor[record.Car](),
}

// SchemaHandler serves record schemas.
type SchemaHandler struct{}

// GetSchema returns the JSON Schema of the records of a collection.
func (h *SchemaHandler) GetSchema(_ context.Context, req *dto.SchemaRequest) (*jsonschema.Schema, error) {
	t, ok := schemaTypes[req.Collection]
	if !ok {
		return nil, dto.NotFound("collection")
	}
	// Inline properties (no $ref).
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	return r.ReflectFromType(t), nil
}
