package flowgen

// Deduplicate keeps the first candidate for each identity, in first-seen
// order, and drops candidates without one. Applying it twice gives the
// same result as applying it once.
func Deduplicate(items []HydratedCandidate) []HydratedCandidate {
	seen := make(map[string]struct{}, len(items))
	out := make([]HydratedCandidate, 0, len(items))
	for _, item := range items {
		if item.Identity == "" {
			continue
		}
		if _, dup := seen[item.Identity]; dup {
			continue
		}
		seen[item.Identity] = struct{}{}
		out = append(out, item)
	}
	return out
}

// toNodes projects hydrated candidates onto the node shape used for
// synthesis, with content still raw.
func toNodes(items []HydratedCandidate) []Node {
	nodes := make([]Node, 0, len(items))
	for _, item := range items {
		nodes = append(nodes, Node{
			FileID:   item.Identity,
			Filename: item.Candidate.Filename,
			Content:  item.RawContent,
		})
	}
	return nodes
}
