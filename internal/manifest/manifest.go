// Package manifest decodes the language-agnostic actor manifest. Manifest
// loading from disk and reference resolution against external stores are
// boundary concerns; this package only defines the decoded shape and
// validates it.
package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/weisyn/theater/internal/permission"
)

// HandlerEntry is one entry of the manifest's `handler` list. Fields is the
// handler-kind-specific configuration, left undecoded here since each kind
// owns its own schema; the core only needs Type to pick a registered
// Handler template and to order satisfied-set negotiation.
type HandlerEntry struct {
	Type   string         `yaml:"type"`
	Fields map[string]any `yaml:",inline"`
}

// PolicyEntry decodes one handler kind's permission_policy table entry.
type PolicyEntry struct {
	Kind  string `yaml:"kind"` // inherit|none|restrict
	Value *struct {
		Filesystem  *permission.Filesystem  `yaml:"filesystem,omitempty"`
		HTTPClient  *permission.HTTPClient  `yaml:"http_client,omitempty"`
		Environment *permission.Environment `yaml:"environment,omitempty"`
		Process     *permission.Process     `yaml:"process,omitempty"`
		Random      *permission.Random      `yaml:"random,omitempty"`
		Timing      *permission.Timing      `yaml:"timing,omitempty"`
	} `yaml:"value,omitempty"`
}

func (p PolicyEntry) toDirective(extract func(*permission.Set)) permission.Directive {
	var kind permission.Kind
	switch p.Kind {
	case "none":
		kind = permission.KindNone
	case "restrict":
		kind = permission.KindRestrict
	default:
		kind = permission.KindInherit
	}
	d := permission.Directive{Kind: kind}
	if kind == permission.KindRestrict && p.Value != nil {
		s := &permission.Set{}
		extract(s)
		d.Requested = s
	}
	return d
}

// PermissionPolicyTable is the manifest's `permission_policy` table.
type PermissionPolicyTable struct {
	Filesystem  PolicyEntry `yaml:"filesystem"`
	HTTPClient  PolicyEntry `yaml:"http_client"`
	Environment PolicyEntry `yaml:"environment"`
	Process     PolicyEntry `yaml:"process"`
	Random      PolicyEntry `yaml:"random"`
	Timing      PolicyEntry `yaml:"timing"`
	Runtime     PolicyEntry `yaml:"runtime"`
}

// ToPolicy converts the decoded table into a permission.Policy.
func (t PermissionPolicyTable) ToPolicy() permission.Policy {
	return permission.Policy{
		Filesystem: t.Filesystem.toDirective(func(s *permission.Set) { s.Filesystem = t.Filesystem.Value.Filesystem }),
		HTTPClient: t.HTTPClient.toDirective(func(s *permission.Set) { s.HTTPClient = t.HTTPClient.Value.HTTPClient }),
		Environment: t.Environment.toDirective(func(s *permission.Set) {
			s.Environment = t.Environment.Value.Environment
		}),
		Process: t.Process.toDirective(func(s *permission.Set) { s.Process = t.Process.Value.Process }),
		Random:  t.Random.toDirective(func(s *permission.Set) { s.Random = t.Random.Value.Random }),
		Timing:  t.Timing.toDirective(func(s *permission.Set) { s.Timing = t.Timing.Value.Timing }),
		Runtime: permission.Directive{Kind: permission.KindInherit},
	}
}

// Manifest declares one actor.
type Manifest struct {
	Name             string                `yaml:"name"`
	Version          string                `yaml:"version"`
	Component        string                `yaml:"component"` // resolvable reference
	Description      string                `yaml:"description"`
	LongDescription  string                `yaml:"long_description"`
	SaveChain        bool                  `yaml:"save_chain"`
	PermissionPolicy PermissionPolicyTable `yaml:"permission_policy"`
	InitState        string                `yaml:"init_state"` // resolvable reference, optional
	Handlers         []HandlerEntry        `yaml:"handler"`
	RestartOnFailure bool                  `yaml:"restart_on_failure"`
}

// Parse decodes and validates a manifest document.
func Parse(doc []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the required fields are present and every handler entry
// names a non-empty type.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest: missing name")
	}
	if m.Component == "" {
		return fmt.Errorf("manifest: missing component reference")
	}
	for i, h := range m.Handlers {
		if h.Type == "" {
			return fmt.Errorf("manifest: handler[%d]: missing type", i)
		}
	}
	return nil
}
