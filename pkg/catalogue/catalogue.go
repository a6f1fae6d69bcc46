// Package catalogue resolves, for a date range and a set of dataset
// definitions, the matching object keys present under an ObjectStore
// prefix — §4.3. Grounded on the teacher's reconciler scan-then-filter
// shape (pkg/reconciler/reconciler.go), applied here to object
// listings rather than node/container lists: list everything once,
// then filter and group in memory rather than issuing one query per
// definition.
package catalogue

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/objectstore"
	"github.com/litp/platform/pkg/registry"
)

// Match pairs a matched object with the definition and embedded
// timestamp the registry resolved it to.
type Match struct {
	Definition domain.DatasetDefinition
	Timestamp  time.Time
	Object     domain.ObjectRef
}

// Catalogue resolves dataset files present under a store's prefix.
type Catalogue struct {
	store    objectstore.Reader
	registry *registry.Registry
}

// New builds a Catalogue over store, resolving filenames against reg.
func New(store objectstore.Reader, reg *registry.Registry) *Catalogue {
	return &Catalogue{store: store, registry: reg}
}

// Range is an inclusive, UTC calendar-day date range.
type Range struct {
	From time.Time
	To   time.Time
}

// Today returns [today, today] in UTC.
func Today() Range {
	now := time.Now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Range{From: day, To: day}
}

// LastN returns [today-n+1, today] in UTC. n must be >= 1.
func LastN(n int) Range {
	today := Today().From
	if n < 1 {
		n = 1
	}
	return Range{From: today.AddDate(0, 0, -(n - 1)), To: today}
}

// contains reports whether ts's UTC calendar day falls within r, inclusive.
func (r Range) contains(ts time.Time) bool {
	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(r.From) && !day.After(r.To)
}

// Resolve lists every object under prefix, matches each against the
// registry, and returns those whose embedded timestamp falls within r,
// grouped by dataset name and ordered by LastModified descending
// (ties broken by key ascending).
func (c *Catalogue) Resolve(ctx context.Context, prefix string, r Range) (map[string][]Match, error) {
	objects, err := c.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	byDataset := make(map[string][]Match)
	for _, obj := range objects {
		base := strings.TrimSuffix(path.Base(obj.Key), path.Ext(obj.Key))
		// Strip a further ".csv" when the key is "<name>.csv.enc".
		base = strings.TrimSuffix(base, ".csv")

		def, ts, ok := c.registry.Match(base)
		if !ok {
			continue
		}
		if !r.contains(ts) {
			continue
		}
		byDataset[def.Name] = append(byDataset[def.Name], Match{Definition: def, Timestamp: ts, Object: obj})
	}

	for name := range byDataset {
		matches := byDataset[name]
		sort.Slice(matches, func(i, j int) bool {
			if !matches[i].Object.LastModified.Equal(matches[j].Object.LastModified) {
				return matches[i].Object.LastModified.After(matches[j].Object.LastModified)
			}
			return matches[i].Object.Key < matches[j].Object.Key
		})
		byDataset[name] = matches
	}

	return byDataset, nil
}

// ResolveDataset is a convenience wrapper over Resolve scoped to one
// already-resolved definition's matches.
func (c *Catalogue) ResolveDataset(ctx context.Context, prefix, datasetName string, r Range) ([]Match, error) {
	all, err := c.Resolve(ctx, prefix, r)
	if err != nil {
		return nil, err
	}
	return all[datasetName], nil
}
