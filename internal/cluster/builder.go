// Package cluster groups insights into connected components of the
// "shares at least one keyword" graph and derives cluster labels and
// sentiment figures.
package cluster

import (
	"math"
	"sort"
	"strings"

	"insightpipe/internal/domain"
)

const labelKeywords = 3

// LabelSeparator joins the top keywords of a cluster label.
const LabelSeparator = ", "

type Result struct {
	Clusters []domain.Cluster
	// Excluded holds ids of insights with no usable keyword.
	Excluded []string
}

// Build clusters the insights. Output is deterministic for a fixed input:
// clusters are ordered by their first member's input position and members
// keep input order. Singletons are included.
func Build(insights []domain.Insight) Result {
	uf := newUnionFind(len(insights))
	keywords := make([][]string, len(insights))
	owner := make(map[string]int)
	var result Result

	for i, insight := range insights {
		kws, err := NormalizeKeywords(insight.Keywords)
		if err != nil {
			result.Excluded = append(result.Excluded, insight.ID)
			continue
		}
		keywords[i] = kws
		uf.add(i)
		for _, kw := range kws {
			if first, ok := owner[kw]; ok {
				uf.union(first, i)
			} else {
				owner[kw] = i
			}
		}
	}

	index := make(map[int]int)
	var groups [][]int
	for i := range insights {
		if keywords[i] == nil {
			continue
		}
		root := uf.find(i)
		g, ok := index[root]
		if !ok {
			g = len(groups)
			index[root] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}

	result.Clusters = make([]domain.Cluster, 0, len(groups))
	for _, members := range groups {
		result.Clusters = append(result.Clusters, newCluster(insights, keywords, members))
	}
	return result
}

func newCluster(insights []domain.Insight, keywords [][]string, members []int) domain.Cluster {
	c := domain.Cluster{
		Members: make([]domain.Insight, 0, len(members)),
		Size:    len(members),
	}
	negative := 0
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	var order []string
	for _, idx := range members {
		c.Members = append(c.Members, insights[idx])
		if insights[idx].Sentiment.IsNegative() {
			negative++
		}
		for _, kw := range keywords[idx] {
			if _, ok := firstSeen[kw]; !ok {
				firstSeen[kw] = len(order)
				order = append(order, kw)
			}
			counts[kw]++
		}
	}
	c.NegativePercentage = NegativePercentage(negative, c.Size)
	c.Label = Label(order, counts)
	return c
}

// NegativePercentage rounds negative/size to the nearest whole percent,
// halves away from zero.
func NegativePercentage(negative, size int) int {
	if size <= 0 {
		return 0
	}
	return int(math.Round(float64(negative) * 100 / float64(size)))
}

// Label joins the most frequent keywords. order is first-seen order and
// breaks frequency ties.
func Label(order []string, counts map[string]int) string {
	ranked := make([]string, len(order))
	copy(ranked, order)
	sort.SliceStable(ranked, func(a, b int) bool {
		return counts[ranked[a]] > counts[ranked[b]]
	})
	if len(ranked) > labelKeywords {
		ranked = ranked[:labelKeywords]
	}
	return strings.Join(ranked, LabelSeparator)
}

// NormalizeKeywords lower-cases and trims keywords, dropping blanks and
// repeats within the same insight.
func NormalizeKeywords(raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, kw := range raw {
		kw = strings.ToLower(strings.Join(strings.Fields(kw), " "))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	if len(out) == 0 {
		return nil, domain.ErrEmptyKeywordSet
	}
	return out, nil
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	return &unionFind{parent: make([]int, n), rank: make([]int, n)}
}

func (u *unionFind) add(i int) {
	u.parent[i] = i
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
