package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-bucket-events/pkg/deferred"
)

var (
	// ErrDeclaration is returned when the engine refuses a declaration.
	ErrDeclaration = errors.New("engine: declaration rejected")
	// ErrDependencyFailed marks a resource that was skipped because its parent
	// or one of its dependencies failed to be realised.
	ErrDependencyFailed = errors.New("engine: dependency failed")
	// ErrNoProvisioner is returned when a resource kind has no registered provisioner.
	ErrNoProvisioner = errors.New("engine: no provisioner for resource kind")
)

// Properties is the input bag for a resource. Values may be plain data, nested
// maps and slices, or deferred outputs of other resources.
type Properties map[string]any

// Declarer is the resource-declaration primitive that higher-level helpers use.
type Declarer interface {
	Declare(kind, name string, props Properties, opts ...ResourceOption) (*Resource, error)
}

// Resource is a handle to a declared resource. Its identity is the pointer:
// two resources with the same name in different stacks are distinct.
type Resource struct {
	kind      string
	name      string
	props     Properties
	parent    *Resource
	dependsOn []*Resource
	owner     *Stack

	id *deferred.Promise[string]

	mu       sync.Mutex
	outputs  map[string]*deferred.Promise[any]
	resolved map[string]any
	failure  error
}

func newResource(owner *Stack, kind, name string, props Properties, o resourceOptions) *Resource {
	return &Resource{
		kind:      kind,
		name:      name,
		props:     props,
		parent:    o.parent,
		dependsOn: o.dependsOn,
		owner:     owner,
		id:        deferred.NewPromise[string](),
		outputs:   make(map[string]*deferred.Promise[any]),
	}
}

// Kind returns the resource type tag.
func (r *Resource) Kind() string { return r.kind }

// Name returns the logical name.
func (r *Resource) Name() string { return r.name }

// URN returns "kind/name", used in logs and error messages.
func (r *Resource) URN() string { return fmt.Sprintf("%s/%s", r.kind, r.name) }

// Properties returns the declared inputs. The map must not be modified.
func (r *Resource) Properties() Properties { return r.props }

// Parent returns the parent resource, or nil.
func (r *Resource) Parent() *Resource { return r.parent }

// DependsOn returns the explicit dependencies in declaration order.
func (r *Resource) DependsOn() []*Resource {
	out := make([]*Resource, len(r.dependsOn))
	copy(out, r.dependsOn)
	return out
}

// ID resolves to the provider-assigned identifier once the resource is realised.
func (r *Resource) ID() deferred.Output[string] {
	return r.id.Output()
}

// Output returns a named provider output, resolved once the resource is realised.
func (r *Resource) Output(key string) deferred.Output[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != nil {
		v, ok := r.resolved[key]
		if !ok {
			return deferred.Failed[any](fmt.Errorf("resource %s has no output %q", r.URN(), key))
		}
		return deferred.Known(v)
	}
	if r.failure != nil {
		return deferred.Failed[any](r.failure)
	}
	p, ok := r.outputs[key]
	if !ok {
		p = deferred.NewPromise[any]()
		r.outputs[key] = p
	}
	return p.Output()
}

// StringOutput is Output narrowed to a string value.
func (r *Resource) StringOutput(key string) deferred.Output[string] {
	return deferred.Map(r.Output(key), func(v any) string {
		s, _ := v.(string)
		return s
	})
}

// resolve settles the ID and every requested output.
func (r *Resource) resolve(outputs map[string]any) error {
	id, _ := outputs["id"].(string)
	if id == "" {
		err := fmt.Errorf("provisioner for %s returned no id", r.URN())
		r.reject(err)
		return err
	}

	r.mu.Lock()
	r.resolved = outputs
	pending := r.outputs
	r.outputs = nil
	r.mu.Unlock()

	r.id.Resolve(id)
	for key, p := range pending {
		if v, ok := outputs[key]; ok {
			p.Resolve(v)
		} else {
			p.Reject(fmt.Errorf("resource %s has no output %q", r.URN(), key))
		}
	}
	return nil
}

func (r *Resource) reject(err error) {
	r.mu.Lock()
	r.failure = err
	pending := r.outputs
	r.outputs = nil
	r.mu.Unlock()

	r.id.Reject(err)
	for _, p := range pending {
		p.Reject(err)
	}
}

// ResourceOption configures a declaration.
type ResourceOption func(*resourceOptions)

type resourceOptions struct {
	parent    *Resource
	dependsOn []*Resource
}

// WithParent nests the resource under parent. The parent is realised first.
func WithParent(parent *Resource) ResourceOption {
	return func(o *resourceOptions) {
		o.parent = parent
	}
}

// DependsOn adds explicit dependencies. Nil entries are ignored.
func DependsOn(deps ...*Resource) ResourceOption {
	return func(o *resourceOptions) {
		for _, d := range deps {
			if d != nil {
				o.dependsOn = append(o.dependsOn, d)
			}
		}
	}
}
