package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Registry holds the governed tables and their dependency order.
// Insertion order is a topological sort of the foreign key graph; deletion order is its reverse.
type Registry struct {
	tables    map[string]*Table
	declared  []string
	insertion []*Table
}

// NewRegistry validates the descriptors and computes the dependency order
func NewRegistry(tables ...*Table) (*Registry, error) {
	var errs ValidationErrors
	r := &Registry{
		tables: make(map[string]*Table, len(tables)),
	}

	for _, t := range tables {
		if t == nil {
			continue
		}
		if t.Name == "" {
			errs.Add("name", "table name is required", nil)
			continue
		}
		if _, exists := r.tables[t.Name]; exists {
			errs.Add("name", "duplicate table", t.Name)
			continue
		}
		if len(t.Columns) == 0 {
			errs.Add(t.Name, "table has no columns", nil)
		}
		if len(t.Key) == 0 {
			errs.Add(t.Name, "table has no key", nil)
		}
		for _, k := range t.Key {
			if _, ok := t.Column(k); !ok {
				errs.Add(t.Name, "key field is not a column", k)
			}
		}
		if t.SelfRef != "" {
			if _, ok := t.Column(t.SelfRef); !ok {
				errs.Add(t.Name, "self reference field is not a column", t.SelfRef)
			}
		}
		r.tables[t.Name] = t
		r.declared = append(r.declared, t.Name)
	}

	for _, name := range r.declared {
		for _, dep := range r.tables[name].Dependencies() {
			if _, ok := r.tables[dep]; !ok {
				errs.Add(name, "references ungoverned table", dep)
			}
		}
	}

	if errs.HasErrors() {
		return nil, errs
	}

	order, err := r.sort()
	if err != nil {
		return nil, err
	}
	r.insertion = order

	return r, nil
}

// sort runs Kahn's algorithm, breaking ties by declaration order so the result is stable
func (r *Registry) sort() ([]*Table, error) {
	position := make(map[string]int, len(r.declared))
	for i, name := range r.declared {
		position[name] = i
	}

	indegree := make(map[string]int, len(r.declared))
	dependents := make(map[string][]string, len(r.declared))
	for _, name := range r.declared {
		deps := r.tables[name].Dependencies()
		indegree[name] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for _, name := range r.declared {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]*Table, 0, len(r.declared))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
		name := ready[0]
		ready = ready[1:]
		order = append(order, r.tables[name])

		for _, child := range dependents[name] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	if len(order) != len(r.declared) {
		var cyclic []string
		for _, name := range r.declared {
			if indegree[name] > 0 {
				cyclic = append(cyclic, name)
			}
		}
		return nil, fmt.Errorf("foreign key cycle between tables: %s", strings.Join(cyclic, ", "))
	}

	return order, nil
}

// InsertionOrder returns tables parents-first
func (r *Registry) InsertionOrder() []*Table {
	out := make([]*Table, len(r.insertion))
	copy(out, r.insertion)
	return out
}

// DeletionOrder returns tables children-first
func (r *Registry) DeletionOrder() []*Table {
	out := make([]*Table, len(r.insertion))
	for i, t := range r.insertion {
		out[len(r.insertion)-1-i] = t
	}
	return out
}

// Lookup returns the descriptor of a governed table
func (r *Registry) Lookup(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Names returns governed table names in declaration order
func (r *Registry) Names() []string {
	out := make([]string, len(r.declared))
	copy(out, r.declared)
	return out
}

// Len returns the number of governed tables
func (r *Registry) Len() int {
	return len(r.declared)
}

// ReadGroups partitions the tables by size class, smallest first.
// Tables inside a group keep insertion order.
func (r *Registry) ReadGroups() [][]*Table {
	bySize := make(map[SizeClass][]*Table)
	var classes []SizeClass
	for _, t := range r.insertion {
		if _, ok := bySize[t.Size]; !ok {
			classes = append(classes, t.Size)
		}
		bySize[t.Size] = append(bySize[t.Size], t)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	groups := make([][]*Table, 0, len(classes))
	for _, c := range classes {
		groups = append(groups, bySize[c])
	}
	return groups
}

// ValidationError describes one invalid descriptor property
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects descriptor validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add appends a validation error
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{Field: field, Message: message, Value: value})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
