package orchestrator

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dominikbraun/graph"
	"github.com/samber/lo"

	"github.com/johndauphine/sqlite-server-migrate/internal/logging"
	"github.com/johndauphine/sqlite-server-migrate/internal/source"
)

// filterTables applies include/exclude glob patterns, case-insensitively.
func filterTables(tables, include, exclude []string) []string {
	// If no filters configured, return all tables
	if len(include) == 0 && len(exclude) == 0 {
		return tables
	}

	matchAny := func(patterns []string, name string) bool {
		return lo.SomeBy(patterns, func(pattern string) bool {
			match, _ := filepath.Match(strings.ToLower(pattern), name)
			return match
		})
	}

	var filtered, skipped []string
	for _, t := range tables {
		tableName := strings.ToLower(t)

		// Check include patterns (if specified, table must match at least one)
		if len(include) > 0 && !matchAny(include, tableName) {
			skipped = append(skipped, t)
			continue
		}
		// Check exclude patterns (table must not match any)
		if matchAny(exclude, tableName) {
			skipped = append(skipped, t)
			continue
		}
		filtered = append(filtered, t)
	}

	if len(skipped) > 0 {
		logging.Info("Skipped %d tables by filter: %v", len(skipped), skipped)
	}
	return filtered
}

// orderTables sorts tables so that every referenced table precedes the
// tables referencing it. Ties and unrelated tables keep name order.
// References to tables outside the set, self references and edges that
// would close a cycle are ignored.
func orderTables(tables []*source.Table) ([]*source.Table, error) {
	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	byName := lo.KeyBy(tables, func(t *source.Table) string { return t.Name })

	for _, t := range tables {
		if err := g.AddVertex(t.Name); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
			return nil, fmt.Errorf("adding %s to dependency graph: %w", t.Name, err)
		}
	}
	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			if _, ok := byName[fk.RefTable]; !ok || fk.RefTable == t.Name {
				continue
			}
			err := g.AddEdge(fk.RefTable, t.Name)
			switch {
			case err == nil, errors.Is(err, graph.ErrEdgeAlreadyExists):
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				logging.Warn("Foreign key cycle: ignoring %s -> %s for ordering", t.Name, fk.RefTable)
			default:
				return nil, fmt.Errorf("adding dependency %s -> %s: %w", t.Name, fk.RefTable, err)
			}
		}
	}

	order, err := graph.StableTopologicalSort(g, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, fmt.Errorf("ordering tables: %w", err)
	}
	return lo.Map(order, func(name string, _ int) *source.Table { return byName[name] }), nil
}
