package discovery

import "sort"

// Pair is one image present on both sides. ID is shared; Reference and
// Candidate are absolute file paths.
type Pair struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
	Candidate string `json:"candidate"`
}

// Match intersects two ID sets by exact string equality. The result is sorted
// by ID and IDs present on one side only are dropped.
func Match(referencePrefix string, candidatePrefix string, reference []string, candidate []string) []Pair {
	candidates := make(map[string]struct{}, len(candidate))
	for _, id := range candidate {
		candidates[id] = struct{}{}
	}

	referenceRoot := Abs(referencePrefix)
	candidateRoot := Abs(candidatePrefix)

	seen := make(map[string]struct{}, len(reference))
	pairs := make([]Pair, 0, min(len(reference), len(candidate)))
	for _, id := range reference {
		if _, ok := candidates[id]; !ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		pairs = append(pairs, Pair{
			ID:        id,
			Reference: referenceRoot + id,
			Candidate: candidateRoot + id,
		})
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].ID < pairs[j].ID
	})
	return pairs
}

// Unmatched returns the sorted IDs that only one side has.
func Unmatched(reference []string, candidate []string) (referenceOnly []string, candidateOnly []string) {
	return difference(reference, candidate), difference(candidate, reference)
}

func difference(a []string, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, id := range b {
		in[id] = struct{}{}
	}

	var out []string
	for _, id := range a {
		if _, ok := in[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
