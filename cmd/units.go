package cmd

import "github.com/trly/msirepo/internal/unit"

// parseTypes resolves --type values. An empty list selects every type.
func parseTypes(names []string) ([]unit.Type, error) {
	types := make([]unit.Type, 0, len(names))
	for _, n := range names {
		t, err := unit.ParseType(n)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}
