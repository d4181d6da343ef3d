package cluster

import (
	"testing"

	"insightpipe/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestIsSignificantBoundaries(t *testing.T) {
	tests := []struct {
		size, negative int
		want           bool
	}{
		{5, 50, true},
		{4, 100, false},
		{5, 49, false},
		{6, 83, true},
		{100, 50, true},
		{1, 100, false},
		{0, 0, false},
	}
	for _, tt := range tests {
		c := domain.Cluster{Size: tt.size, NegativePercentage: tt.negative}
		assert.Equal(t, tt.want, IsSignificant(c), "size=%d negative=%d", tt.size, tt.negative)
	}
}

func TestSignificantKeepsOrder(t *testing.T) {
	clusters := []domain.Cluster{
		{Label: "a", Size: 10, NegativePercentage: 90},
		{Label: "b", Size: 2, NegativePercentage: 90},
		{Label: "c", Size: 5, NegativePercentage: 50},
		{Label: "d", Size: 9, NegativePercentage: 10},
	}
	got := Significant(clusters)
	if assert.Len(t, got, 2) {
		assert.Equal(t, "a", got[0].Label)
		assert.Equal(t, "c", got[1].Label)
	}
	assert.Empty(t, Significant(nil))
}
