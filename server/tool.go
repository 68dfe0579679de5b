package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/felixgeelhaar/mcpmux/protocol"
	"github.com/felixgeelhaar/mcpmux/schema"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Tool is a callable function exposed through tools/call.
type Tool struct {
	name        string
	description string
	inputType   reflect.Type
	inputSchema *schema.Schema
	handler     reflect.Value
	hasContext  bool
}

// Name returns the tool name.
func (t *Tool) Name() string { return t.name }

// ToolBuilder provides a fluent API for building tools.
type ToolBuilder struct {
	tool   *Tool
	server *Server
	err    error
}

// Description sets the tool description.
func (b *ToolBuilder) Description(desc string) *ToolBuilder {
	if b.err == nil {
		b.tool.description = desc
	}
	return b
}

// Handler sets the handler and registers the tool. The handler must be one of
//
//	func(input T) (R, error)
//	func(ctx context.Context, input T) (R, error)
//
// The input schema is generated from T.
func (b *ToolBuilder) Handler(fn any) *ToolBuilder {
	if b.err != nil {
		return b
	}
	if err := b.bind(fn); err != nil {
		b.err = fmt.Errorf("tool %q: %w", b.tool.name, err)
		return b
	}
	b.server.registerTool(b.tool)
	return b
}

// Err returns the first error encountered while building the tool.
func (b *ToolBuilder) Err() error {
	return b.err
}

func (b *ToolBuilder) bind(fn any) error {
	if fn == nil {
		return errors.New("handler is nil")
	}
	fnType := reflect.TypeOf(fn)
	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("handler must be a function, got %s", fnType.Kind())
	}

	inputIdx := 0
	switch fnType.NumIn() {
	case 1:
	case 2:
		if !fnType.In(0).Implements(contextType) {
			return errors.New("first parameter must be context.Context when using 2 parameters")
		}
		b.tool.hasContext = true
		inputIdx = 1
	default:
		return fmt.Errorf("handler must have 1 or 2 parameters, got %d", fnType.NumIn())
	}

	if fnType.NumOut() != 2 {
		return fmt.Errorf("handler must return (result, error), got %d return values", fnType.NumOut())
	}
	if !fnType.Out(1).Implements(errorType) {
		return errors.New("second return value must be error")
	}

	inputType := fnType.In(inputIdx)
	s, err := schema.GenerateFromType(inputType)
	if err != nil {
		return fmt.Errorf("generate input schema: %w", err)
	}

	b.tool.inputType = inputType
	b.tool.inputSchema = s
	b.tool.handler = reflect.ValueOf(fn)
	return nil
}

// Execute decodes input into the handler's argument type and calls it.
// Decoding failures are reported as invalid params.
func (t *Tool) Execute(ctx context.Context, input json.RawMessage) (any, error) {
	isPtr := t.inputType.Kind() == reflect.Ptr
	base := t.inputType
	if isPtr {
		base = base.Elem()
	}

	arg := reflect.New(base)
	if len(input) > 0 && string(input) != "null" {
		if err := json.Unmarshal(input, arg.Interface()); err != nil {
			return nil, protocol.NewInvalidParams(fmt.Sprintf("failed to parse input: %v", err))
		}
	}
	if !isPtr {
		arg = arg.Elem()
	}

	args := make([]reflect.Value, 0, 2)
	if t.hasContext {
		args = append(args, reflect.ValueOf(ctx))
	}
	args = append(args, arg)

	out := t.handler.Call(args)
	if errVal := out[1].Interface(); errVal != nil {
		return nil, errVal.(error)
	}
	return out[0].Interface(), nil
}
