package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkCountsAndCoverage(t *testing.T) {
	for _, tc := range []struct{ n, size int }{
		{0, 500}, {1, 500}, {499, 500}, {500, 500}, {501, 500}, {1000, 500}, {1001, 500}, {7, 3}, {20, 20}, {45, 20},
	} {
		items := make([]int, tc.n)
		for i := range items {
			items[i] = i
		}
		chunks := Chunk(items, tc.size)

		assert.Len(t, chunks, (tc.n+tc.size-1)/tc.size, "n=%d size=%d", tc.n, tc.size)
		var flat []int
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), tc.size)
			assert.NotEmpty(t, c)
			flat = append(flat, c...)
		}
		if tc.n == 0 {
			assert.Empty(t, flat)
			continue
		}
		assert.Equal(t, items, flat)
	}
}

func TestChunkNonPositiveSize(t *testing.T) {
	assert.Equal(t, [][]string{{"a", "b"}}, Chunk([]string{"a", "b"}, 0))
}
