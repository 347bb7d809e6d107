package capability

import (
	"sort"

	"github.com/lsp-cli/lspd/src/lspd/entity"
	"github.com/lsp-cli/lspd/src/lspd/internal/errors"
)

// Request is a typed capability request. Every capability request carries a
// Locate that routes it to a workspace.
type Request interface {
	Locate() entity.Locate
}

// Validator is implemented by requests with field constraints beyond a
// well-formed body.
type Validator interface {
	Validate() error
}

// Descriptor binds a capability name to its request schema and handler.
type Descriptor struct {
	Name       string
	NewRequest func() Request
	Handle     Handler
}

// Registry is the immutable capability table. It is built once at startup,
// sealed, and then only read; no registration happens at request time.
type Registry struct {
	sealed bool
	byName map[string]Descriptor
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// Register adds a descriptor. It fails on duplicates and after Seal.
func (r *Registry) Register(d Descriptor) error {
	if r.sealed {
		return errors.New("registry is sealed")
	}
	if d.Name == "" || d.NewRequest == nil || d.Handle == nil {
		return errors.New("descriptor requires a name, request constructor, and handler")
	}
	if _, ok := r.byName[d.Name]; ok {
		return errors.New("duplicate capability " + d.Name)
	}
	r.byName[d.Name] = d
	return nil
}

// Seal freezes the registry; subsequent Register calls fail.
func (r *Registry) Seal() {
	r.sealed = true
}

// Get returns the descriptor for a capability name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names lists registered capabilities in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
