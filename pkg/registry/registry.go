// Package registry holds the immutable DatasetRegistry: the ordered
// set of DatasetDefinitions the rest of the core resolves filenames
// and collections against. Grounded on the teacher's plain-struct,
// behavior-light types.go — a registry is data, not a service.
package registry

import (
	"fmt"
	"regexp"
	"time"

	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/errs"
)

// Registry is an immutable, ordered collection of dataset definitions.
type Registry struct {
	defs    []domain.DatasetDefinition
	byName  map[string]domain.DatasetDefinition
	matcher map[string]*regexp.Regexp
}

// New validates and builds a Registry from the given definitions. The
// returned Registry is safe for concurrent read-only use for its
// entire lifetime.
func New(defs []domain.DatasetDefinition) (*Registry, error) {
	byName := make(map[string]domain.DatasetDefinition, len(defs))
	matcher := make(map[string]*regexp.Regexp, len(defs))

	for _, d := range defs {
		if d.Name == "" {
			return nil, errs.New(errs.InputInvalid, "dataset definition missing name")
		}
		if _, dup := byName[d.Name]; dup {
			return nil, errs.Newf(errs.InputInvalid, "duplicate dataset name %q", d.Name)
		}
		if len(d.PrimaryKeyColumns) == 0 {
			return nil, errs.Newf(errs.InputInvalid, "dataset %q has no primary key columns", d.Name)
		}

		re, err := filenamePattern(d)
		if err != nil {
			return nil, errs.Wrap(errs.InputInvalid, err, fmt.Sprintf("dataset %q has an invalid file prefix", d.Name))
		}

		byName[d.Name] = d
		matcher[d.Name] = re
	}

	out := make([]domain.DatasetDefinition, len(defs))
	copy(out, defs)

	return &Registry{defs: out, byName: byName, matcher: matcher}, nil
}

// filenamePattern builds the regex "^<prefix-with-{0}-stripped><14 digits><suffix>$"
// for one definition's FilePrefix, per §4.2.
func filenamePattern(d domain.DatasetDefinition) (*regexp.Regexp, error) {
	idx := indexOfPlaceholder(d.FilePrefix)
	if idx < 0 {
		return nil, fmt.Errorf("file prefix %q has no {0} placeholder", d.FilePrefix)
	}
	prefix := regexp.QuoteMeta(d.FilePrefix[:idx])
	suffix := regexp.QuoteMeta(d.FilePrefix[idx+len("{0}"):])
	return regexp.Compile("^" + prefix + `(\d{14})` + suffix + "$")
}

func indexOfPlaceholder(s string) int {
	const placeholder = "{0}"
	for i := 0; i+len(placeholder) <= len(s); i++ {
		if s[i:i+len(placeholder)] == placeholder {
			return i
		}
	}
	return -1
}

// All returns the full ordered sequence of definitions.
func (r *Registry) All() []domain.DatasetDefinition {
	out := make([]domain.DatasetDefinition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (domain.DatasetDefinition, error) {
	d, ok := r.byName[name]
	if !ok {
		return domain.DatasetDefinition{}, errs.Newf(errs.NotFound, "no dataset definition named %q", name)
	}
	return d, nil
}

// Match reports which definition (if any) a bare filename (no
// directory component, with extension such as ".csv.enc" or ".csv"
// stripped by the caller down to "<prefix><14 digits>") belongs to,
// and the timestamp it embeds.
func (r *Registry) Match(filenameWithoutExt string) (domain.DatasetDefinition, time.Time, bool) {
	for _, d := range r.defs {
		re := r.matcher[d.Name]
		m := re.FindStringSubmatch(filenameWithoutExt)
		if m == nil {
			continue
		}
		ts, err := time.Parse(d.DatePattern, m[1])
		if err != nil {
			continue
		}
		return d, ts.UTC(), true
	}
	return domain.DatasetDefinition{}, time.Time{}, false
}
