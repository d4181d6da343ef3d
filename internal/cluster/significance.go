package cluster

import "insightpipe/internal/domain"

const (
	MinSignificantSize    = 5
	MinNegativePercentage = 50
)

func IsSignificant(c domain.Cluster) bool {
	return c.Size >= MinSignificantSize && c.NegativePercentage >= MinNegativePercentage
}

// Significant keeps the clusters worth a recommendation, in order.
func Significant(clusters []domain.Cluster) []domain.Cluster {
	var out []domain.Cluster
	for _, c := range clusters {
		if IsSignificant(c) {
			out = append(out, c)
		}
	}
	return out
}
