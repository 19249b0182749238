package generator

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNovelty(t *testing.T) {
	require.Equal(t, 1.0, Novelty("anything", nil))
	require.Equal(t, 0.0, Novelty("same text", []string{"same text"}))
	require.Equal(t, 1.0, Novelty("abc", []string{"xyz"}))

	partial := Novelty("hello world", []string{"hello there"})
	require.Greater(t, partial, 0.0)
	require.Less(t, partial, 1.0)
}

func TestNovelty_PicksClosestEarlier(t *testing.T) {
	far := Novelty("# Tide tables", []string{"completely unrelated"})
	near := Novelty("# Tide tables", []string{"completely unrelated", "# Tide table"})
	require.Less(t, near, far)
}

func TestNovelty_Bounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		content := rapid.String().Draw(t, "content")
		earlier := rapid.SliceOfN(rapid.String(), 1, 4).Draw(t, "earlier")

		n := Novelty(content, earlier)
		require.GreaterOrEqual(t, n, 0.0)
		require.LessOrEqual(t, n, 1.0)
	})
}
