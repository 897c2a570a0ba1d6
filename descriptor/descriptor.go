// Package descriptor derives the wire-level schema of a service interface.
//
// A ServiceDescriptor lists every exported method of an interface as a
// Procedure with a numeric id, its parameter type names and its return type
// name. The server builds one at startup and answers system.describe with it;
// clients fetch it during their handshake and use it to resolve calls to ids
// and to decode results.
package descriptor

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// Parameter is one positional parameter of a procedure.
type Parameter struct {
	Position int    `json:"id"`
	Type     string `json:"type"`
}

// Procedure is one callable method.
type Procedure struct {
	ID         int         `json:"id"`
	Name       string      `json:"name"`
	Parameters []Parameter `json:"parameters"`
	ReturnType string      `json:"returnType"`

	// Populated only by Reflect, never by a decoded descriptor.
	paramTypes []reflect.Type
	withCtx    bool
	result     resultShape
}

// Arity is the number of wire parameters.
func (p *Procedure) Arity() int {
	return len(p.Parameters)
}

// ParamTypes returns the Go types of the wire parameters, in order. It is nil
// for procedures decoded from the wire.
func (p *Procedure) ParamTypes() []reflect.Type {
	return p.paramTypes
}

// WantsContext reports whether the Go method takes a leading context.Context.
func (p *Procedure) WantsContext() bool {
	return p.withCtx
}

// ReturnsError reports whether the Go method's last result is an error.
func (p *Procedure) ReturnsError() bool {
	return p.result.withErr
}

// ReturnsValue reports whether the Go method's first result carries the value.
func (p *Procedure) ReturnsValue() bool {
	return p.result.withValue
}

// Async reports whether the Go method returns an awaitable wrapper.
func (p *Procedure) Async() bool {
	return p.result.async
}

func (p *Procedure) String() string {
	return fmt.Sprintf("%d:%s/%d", p.ID, p.Name, p.Arity())
}

// ServiceDescriptor is the reflected schema of one interface. It is read-only
// once built.
type ServiceDescriptor struct {
	ClassName  string       `json:"className"`
	Procedures []*Procedure `json:"procedures"`
}

// ByID returns the procedure with the given id.
func (d *ServiceDescriptor) ByID(id int) (*Procedure, bool) {
	for _, p := range d.Procedures {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// ErrProcedureNotFound is returned by Match when no procedure accepts the call.
var ErrProcedureNotFound = errors.New("procedure not found")

// Match returns the first procedure, in enumeration order, whose name and arity
// match and whose declared parameter types accept every argument.
func (d *ServiceDescriptor) Match(name string, args []any, table *TypeTable) (*Procedure, error) {
	for _, p := range d.Procedures {
		if p.Name != name || p.Arity() != len(args) {
			continue
		}
		if castsAll(p, args, table) {
			return p, nil
		}
	}
	return nil, errors.Wrapf(ErrProcedureNotFound, "%s/%d", name, len(args))
}

func castsAll(p *Procedure, args []any, table *TypeTable) bool {
	for i, param := range p.Parameters {
		if !table.Castable(args[i], param.Type) {
			return false
		}
	}
	return true
}
