package rbac

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lubepos/lubepos/internal/shared"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

// RolePolicy lists what a role may do.
type RolePolicy struct {
	Commands []string `yaml:"commands"`
	Tabs     []string `yaml:"tabs"`
	OwnScope bool     `yaml:"own_scope"`
}

type policyFile struct {
	Roles map[shared.Role]RolePolicy `yaml:"roles"`
}

// Policy maps roles to allowed commands and UI tabs.
type Policy struct {
	roles map[shared.Role]RolePolicy
}

// LoadPolicy parses a YAML policy document.
func LoadPolicy(data []byte) (*Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("rbac: parse policy: %w", err)
	}
	if len(file.Roles) == 0 {
		return nil, fmt.Errorf("rbac: policy defines no roles")
	}
	roles := make(map[shared.Role]RolePolicy, len(file.Roles))
	for role, rp := range file.Roles {
		if !role.Valid() {
			return nil, fmt.Errorf("rbac: unknown role %q", role)
		}
		for i, cmd := range rp.Commands {
			rp.Commands[i] = strings.ToLower(strings.TrimSpace(cmd))
		}
		roles[role] = rp
	}
	return &Policy{roles: roles}, nil
}

// DefaultPolicy returns the embedded policy.
func DefaultPolicy() (*Policy, error) {
	return LoadPolicy(defaultPolicyYAML)
}

// MustDefaultPolicy returns the embedded policy and panics when it is malformed.
func MustDefaultPolicy() *Policy {
	p, err := DefaultPolicy()
	if err != nil {
		panic(err)
	}
	return p
}

// Allowed reports whether role may run command.
func (p *Policy) Allowed(role shared.Role, command string) bool {
	rp, ok := p.roles[role]
	if !ok {
		return false
	}
	command = strings.ToLower(command)
	for _, granted := range rp.Commands {
		if granted == "*" || granted == command {
			return true
		}
		if prefix, ok := strings.CutSuffix(granted, ".*"); ok && strings.HasPrefix(command, prefix+".") {
			return true
		}
	}
	return false
}

// Authorize checks the context actor against command.
func (p *Policy) Authorize(ctx context.Context, command string) error {
	actor, err := shared.RequireActor(ctx)
	if err != nil {
		return err
	}
	if !p.Allowed(actor.Role, command) {
		return fmt.Errorf("%w: role %s may not run %s", shared.ErrPermissionDenied, actor.Role, command)
	}
	return nil
}

// ScopeUser limits reads for own-scope roles to the actor's user id.
func (p *Policy) ScopeUser(ctx context.Context, requested int64) (int64, error) {
	actor, err := shared.RequireActor(ctx)
	if err != nil {
		return 0, err
	}
	if !p.roles[actor.Role].OwnScope {
		return requested, nil
	}
	if requested != 0 && requested != actor.UserID {
		return 0, fmt.Errorf("%w: %s may only read own records", shared.ErrPermissionDenied, actor.Role)
	}
	return actor.UserID, nil
}

// AllowedTabs returns the presentation tabs visible to role.
func (p *Policy) AllowedTabs(role shared.Role) []string {
	return append([]string(nil), p.roles[role].Tabs...)
}
