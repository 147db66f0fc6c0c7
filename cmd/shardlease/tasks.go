package main

import (
	"fmt"
	"strconv"
	"strings"
)

type taskSpec struct {
	name       string
	partitions int
}

// parseTasks parses name=partitions pairs. A bare name defaults to 62
// partitions, one per symbol of the default alphabet.
func parseTasks(raw []string) ([]taskSpec, error) {
	specs := make([]taskSpec, 0, len(raw))
	for _, r := range raw {
		name, count, found := strings.Cut(strings.TrimSpace(r), "=")
		if name == "" {
			return nil, fmt.Errorf("task %q: empty name", r)
		}
		spec := taskSpec{name: name, partitions: 62}
		if found {
			n, err := strconv.Atoi(count)
			if err != nil {
				return nil, fmt.Errorf("task %q: partitions: %w", r, err)
			}
			spec.partitions = n
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
