// Package registry loads role presets that pre-fill session start requests.
package registry

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Role is a named preset for starting sessions.
type Role struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Patterns    []string `yaml:"patterns" json:"patterns"`
}

type rolesFile struct {
	Roles []Role `yaml:"roles"`
}

// Registry holds the loaded role presets.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]Role
	order []string
}

// defaultRoles ship with the server so the dashboard always has presets.
var defaultRoles = []Role{
	{Name: "dev", Description: "General development agent", Patterns: []string{"**/*"}},
	{Name: "reviewer", Description: "Reads code and comments, no edits expected", Patterns: []string{"**/*"}},
	{Name: "docs", Description: "Documentation-focused agent", Patterns: []string{"**/*.md"}},
}

// New creates a registry with the built-in presets.
func New() *Registry {
	r := &Registry{roles: make(map[string]Role)}
	for _, role := range defaultRoles {
		r.add(role)
	}
	return r
}

// LoadFile merges presets from a YAML file over the built-ins. Roles with
// matching names replace the defaults.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read roles file: %w", err)
	}

	var parsed rolesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse roles file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range parsed.Roles {
		if role.Name == "" {
			return fmt.Errorf("roles file contains a role without a name")
		}
		r.add(role)
	}
	return nil
}

// Get returns a role preset by name.
func (r *Registry) Get(name string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[name]
	return role, ok
}

// List returns all presets in definition order.
func (r *Registry) List() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Role, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.roles[name])
	}
	return out
}

func (r *Registry) add(role Role) {
	if _, exists := r.roles[role.Name]; !exists {
		r.order = append(r.order, role.Name)
	}
	r.roles[role.Name] = role
}
