package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/AltairaLabs/robolive/protocol"
)

type registered struct {
	decl    Declaration
	handler Handler
}

// Registry maps tool names to declarations and handlers.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]*registered
	order     []string
	validator *SchemaValidator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]*registered),
		validator: NewSchemaValidator(),
	}
}

// Register adds a tool. Live tools need a handler; static tools answer with
// decl.StaticResult and ignore handler.
func (r *Registry) Register(decl Declaration, handler Handler) error {
	if decl.Name == "" {
		return ErrToolNameRequired
	}
	if decl.Mode == "" {
		decl.Mode = ModeLive
	}
	switch decl.Mode {
	case ModeLive:
		if handler == nil {
			return fmt.Errorf("%w: %s", ErrHandlerRequired, decl.Name)
		}
	case ModeStatic:
		handler = staticHandler(decl.StaticResult)
	default:
		return fmt.Errorf("%w: %s has mode %q", ErrInvalidToolMode, decl.Name, decl.Mode)
	}
	if len(decl.Parameters) > 0 {
		if err := r.validator.CheckSchema(decl.Parameters); err != nil {
			return fmt.Errorf("tool %s: invalid parameter schema: %w", decl.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[decl.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, decl.Name)
	}
	r.tools[decl.Name] = &registered{decl: decl, handler: handler}
	r.order = append(r.order, decl.Name)
	return nil
}

// RegisterFunc registers a live tool backed by fn.
func (r *Registry) RegisterFunc(decl Declaration, fn HandlerFunc) error {
	return r.Register(decl, fn)
}

// Lookup returns the declaration and handler for name.
func (r *Registry) Lookup(name string) (*Declaration, Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	decl := t.decl
	return &decl, t.handler, nil
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Declarations returns the wire declarations for the setup frame.
func (r *Registry) Declarations() []protocol.FunctionDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		d := r.tools[name].decl
		out = append(out, protocol.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}

// Validator returns the registry's schema validator.
func (r *Registry) Validator() *SchemaValidator {
	return r.validator
}

func staticHandler(result json.RawMessage) Handler {
	return HandlerFunc(func(context.Context, Invocation) (any, error) {
		if len(result) == 0 {
			return map[string]any{}, nil
		}
		return result, nil
	})
}

// fileSpec is the YAML layout of a tools file.
type fileSpec struct {
	Tools []toolSpec `yaml:"tools"`
}

type toolSpec struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
	Mode        string         `yaml:"mode"`
	Result      any            `yaml:"result"`
}

// LoadDeclarations parses a YAML tools document.
//
//	tools:
//	  - name: arm_status
//	    description: Report the arm's joint state.
//	    mode: static
//	    parameters: {type: OBJECT, properties: {}}
//	    result: {state: idle}
func LoadDeclarations(r io.Reader) ([]Declaration, error) {
	var spec fileSpec
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse tools file: %w", err)
	}

	decls := make([]Declaration, 0, len(spec.Tools))
	for i, t := range spec.Tools {
		decl := Declaration{Name: t.Name, Description: t.Description, Mode: t.Mode}
		if t.Name == "" {
			return nil, fmt.Errorf("tool %d: %w", i, ErrToolNameRequired)
		}
		if t.Parameters != nil {
			raw, err := json.Marshal(t.Parameters)
			if err != nil {
				return nil, fmt.Errorf("tool %s: parameters: %w", t.Name, err)
			}
			decl.Parameters = raw
		}
		if t.Result != nil {
			raw, err := json.Marshal(t.Result)
			if err != nil {
				return nil, fmt.Errorf("tool %s: result: %w", t.Name, err)
			}
			decl.StaticResult = raw
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

// LoadFile registers every tool in the YAML file at path. Live tools named
// in the file must have a handler in handlers.
func (r *Registry) LoadFile(path string, handlers map[string]Handler) error {
	f, err := os.Open(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return fmt.Errorf("failed to open tools file: %w", err)
	}
	defer f.Close()

	decls, err := LoadDeclarations(f)
	if err != nil {
		return err
	}
	for _, decl := range decls {
		if err := r.Register(decl, handlers[decl.Name]); err != nil {
			return err
		}
	}
	return nil
}
