package sandbox

import (
	"path"
	"strings"

	"runcell/internal/vm"
	"runcell/pkg/errors"
)

// forbidden lists permissions no request may ever be granted. A Prefix
// entry covers every target starting with Target.
var forbidden = []struct {
	vm.Permission
	Prefix bool
}{
	{Permission: vm.Permission{Type: vm.PermRuntime, Target: "createClassLoader"}},
	{Permission: vm.Permission{Type: vm.PermRuntime, Target: "setSecurityManager"}},
	{Permission: vm.Permission{Type: vm.PermRuntime, Target: "exitVM."}, Prefix: true},
	{Permission: vm.Permission{Type: vm.PermRuntime, Target: "setIO"}},
	{Permission: vm.Permission{Type: vm.PermRuntime, Target: "modifyThread"}},
	{Permission: vm.Permission{Type: vm.PermRuntime, Target: "modifyThreadGroup"}},
	{Permission: vm.Permission{Type: vm.PermRuntime, Target: "shutdownHooks"}},
	{Permission: vm.Permission{Type: vm.PermRuntime, Target: "setDefaultUncaughtExceptionHandler"}},
	{Permission: vm.Permission{Type: "security", Target: "setPolicy"}},
}

// Policy is the immutable capability policy of one run.
type Policy struct {
	grants          []vm.Permission
	unsafe          []string
	maxExtraThreads int
	maxOutputLines  int
}

// NewPolicy validates grants against the forbidden list. Error is always
// added to the unsafe exceptions.
func NewPolicy(grants []vm.Permission, unsafe []string, maxExtraThreads, maxOutputLines int) (*Policy, error) {
	for _, g := range grants {
		if g.Type == "" || g.Target == "" {
			return nil, errors.New(errors.InvalidRunRequest).WithMessagef("permission %q needs a type and a target", g.String())
		}
		for _, f := range forbidden {
			probe := f.Target
			if f.Prefix {
				probe += "0"
			}
			if g.Type == f.Type && (targetMatches(g.Target, probe) || (f.Prefix && strings.HasPrefix(g.Target, f.Target))) {
				return nil, errors.New(errors.UnsafePermission).
					WithMessagef("permission %s can never be granted", g.String()).
					WithDetail("permission", g)
			}
		}
	}
	seen := map[string]bool{"Error": true}
	u := []string{"Error"}
	for _, name := range unsafe {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		u = append(u, name)
	}
	return &Policy{
		grants:          append([]vm.Permission(nil), grants...),
		unsafe:          u,
		maxExtraThreads: maxExtraThreads,
		maxOutputLines:  maxOutputLines,
	}, nil
}

// Allows reports whether some grant implies p.
func (p *Policy) Allows(req vm.Permission) bool {
	for _, g := range p.grants {
		if g.Type == req.Type && targetMatches(g.Target, req.Target) && actionsMatch(g.Action, req.Action) {
			return true
		}
	}
	return false
}

// Unsafe returns the unsafe exception type names, Error first.
func (p *Policy) Unsafe() []string {
	return append([]string(nil), p.unsafe...)
}

func (p *Policy) MaxExtraThreads() int { return p.maxExtraThreads }
func (p *Policy) MaxOutputLines() int  { return p.maxOutputLines }

// targetMatches: "*" matches anything, a trailing "*" matches by prefix,
// otherwise glob then exact comparison.
func targetMatches(grant, target string) bool {
	if grant == "*" || grant == target {
		return true
	}
	if strings.HasSuffix(grant, "*") && !strings.ContainsAny(grant[:len(grant)-1], "*?[") {
		return strings.HasPrefix(target, grant[:len(grant)-1])
	}
	ok, err := path.Match(grant, target)
	return err == nil && ok
}

// actionsMatch: every requested action must be granted. An empty or "*"
// grant covers all actions.
func actionsMatch(grant, requested string) bool {
	if grant == "" || grant == "*" || requested == "" {
		return true
	}
	granted := make(map[string]bool)
	for _, a := range strings.Split(grant, ",") {
		granted[strings.TrimSpace(a)] = true
	}
	for _, a := range strings.Split(requested, ",") {
		if !granted[strings.TrimSpace(a)] {
			return false
		}
	}
	return true
}
