package artifact

import (
	"sort"
	"time"
)

// CompiledArtifact is the immutable result of a successful compile. It
// holds no run state and may be shared by any number of concurrent runs.
type CompiledArtifact struct {
	key         string
	compiler    string
	classes     map[string][]byte
	diagnostics []Diagnostic
	createdAt   time.Time
	size        int
}

// NewCompiledArtifact copies out into a new artifact.
func NewCompiledArtifact(key, compiler string, out *CompileOutput, createdAt time.Time) *CompiledArtifact {
	a := &CompiledArtifact{
		key:         key,
		compiler:    compiler,
		classes:     make(map[string][]byte, len(out.Classes)),
		diagnostics: append([]Diagnostic(nil), out.Diagnostics...),
		createdAt:   createdAt,
	}
	for name, data := range out.Classes {
		a.classes[name] = append([]byte(nil), data...)
		a.size += len(name) + len(data)
	}
	for _, d := range a.diagnostics {
		a.size += len(d.Message) + len(d.Location.Source)
	}
	return a
}

func (a *CompiledArtifact) Key() string               { return a.key }
func (a *CompiledArtifact) Compiler() string          { return a.compiler }
func (a *CompiledArtifact) CreatedAt() time.Time      { return a.createdAt }
func (a *CompiledArtifact) Size() int                 { return a.size }
func (a *CompiledArtifact) Diagnostics() []Diagnostic { return append([]Diagnostic(nil), a.diagnostics...) }

// ClassNames returns the defined class names in sorted order.
func (a *CompiledArtifact) ClassNames() []string {
	names := make([]string, 0, len(a.classes))
	for name := range a.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Class returns a copy of the bytecode for name.
func (a *CompiledArtifact) Class(name string) ([]byte, bool) {
	data, ok := a.classes[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Classes returns a copy of the full class map.
func (a *CompiledArtifact) Classes() map[string][]byte {
	out := make(map[string][]byte, len(a.classes))
	for name, data := range a.classes {
		out[name] = append([]byte(nil), data...)
	}
	return out
}
