package pathfind

// ReconstructPath walks prev back from target and returns [source ... target].
// ok is false when the walk hits a missing predecessor or loops before
// reaching source. target == source always succeeds with [source]; use
// Result.PathTo when source eligibility matters.
func ReconstructPath(prev map[string]string, source, target string) ([]string, bool) {
	path := []string{target}
	seen := map[string]bool{target: true}

	for cur := target; cur != source; {
		p, ok := prev[cur]
		if !ok || p == "" || seen[p] {
			return nil, false
		}
		seen[p] = true
		path = append(path, p)
		cur = p
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, true
}

// PathTo reconstructs the shortest path to target. A failed or excluded
// source reaches nothing, not even itself.
func (r *Result) PathTo(target string) ([]string, bool) {
	if r == nil || !r.Reachable(target) {
		return nil, false
	}
	return ReconstructPath(r.Prev, r.Source, target)
}
