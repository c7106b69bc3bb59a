package news

// titlePreClusterThreshold is the title-only similarity cutoff for Phase 0
// pre-clustering (spec §4.C6).
const titlePreClusterThreshold = 0.70

// PreClusterGroup is a transient, unpersisted grouping of article indices
// sharing similar titles. The news orchestrator's redundancy filter keeps
// one article per group and drops the rest before assignment; no group
// information reaches the assignment engine.
type PreClusterGroup struct {
	ID      int
	Indices []int
}

// TitlePreClusterer is C4: groups a batch by title-only Jaccard similarity
// so near-duplicate titles can be collapsed before cluster assignment. It
// never persists anything.
type TitlePreClusterer struct{}

// NewTitlePreClusterer builds a stateless pre-clusterer.
func NewTitlePreClusterer() *TitlePreClusterer {
	return &TitlePreClusterer{}
}

// Group partitions articles into PreClusterGroups by title token Jaccard
// similarity ≥ titlePreClusterThreshold, using union-find so transitively
// similar titles land in the same group.
func (p *TitlePreClusterer) Group(articles []Article) []PreClusterGroup {
	n := len(articles)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	tokens := make([][]string, n)
	for i, a := range articles {
		tokens[i] = tokenize(a.Title)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if jaccardTokens(tokens[i], tokens[j]) >= titlePreClusterThreshold {
				union(i, j)
			}
		}
	}

	groups := map[int][]int{}
	for i := 0; i < n; i++ {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	out := make([]PreClusterGroup, 0, len(groups))
	id := 0
	for _, idxs := range groups {
		out = append(out, PreClusterGroup{ID: id, Indices: idxs})
		id++
	}
	return out
}
