package flow

import (
	"fmt"
	"regexp"
	"strconv"
)

var numericSuffix = regexp.MustCompile(`^(.*?)(\d+)$`)

// FixDuplicateIDs restores node-id uniqueness in a node set loaded from a
// shared or remote source. The first occurrence of an id keeps it; later
// occurrences are rewritten to a fresh id drawn from a counter seeded by
// the highest numeric suffix among all conforming ids (so node-7 yields
// node-8 next). Edges referencing a rewritten id are not touched here;
// they become dangling and are cleaned up by PruneDanglingEdges.
//
// The returned duplicate list holds the ids that were found more than
// once, for logging. The function is idempotent: a second pass over its
// own output rewrites nothing.
func FixDuplicateIDs(nodes []Node) ([]Node, []string) {
	seen := make(map[string]struct{}, len(nodes))
	next := maxNumericSuffix(nodes) + 1

	var duplicated []string
	fixed := make([]Node, len(nodes))
	for i, n := range nodes {
		if _, dup := seen[n.ID]; dup {
			duplicated = append(duplicated, n.ID)
			n = n.Clone()
			for {
				candidate := fmt.Sprintf("node-%d", next)
				next++
				if _, taken := seen[candidate]; !taken {
					n.ID = candidate
					break
				}
			}
		}
		seen[n.ID] = struct{}{}
		fixed[i] = n
	}
	return fixed, duplicated
}

func maxNumericSuffix(nodes []Node) int {
	max := 0
	for _, n := range nodes {
		m := numericSuffix.FindStringSubmatch(n.ID)
		if m == nil {
			continue
		}
		if v, err := strconv.Atoi(m[2]); err == nil && v > max {
			max = v
		}
	}
	return max
}
