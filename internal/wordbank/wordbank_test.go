package wordbank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePairs() []Pair {
	return []Pair{
		{CivilianWord: "苹果", UndercoverWord: "梨", Similarity: 0.7, Difficulty: Easy, Category: "fruit"},
		{CivilianWord: "咖啡", UndercoverWord: "茶", Similarity: 0.5, Difficulty: Medium, Category: "drink"},
		{CivilianWord: "钢琴", UndercoverWord: "吉他", Similarity: 0.3, Difficulty: Hard, Category: "instrument"},
	}
}

func TestDrawRandomNeverEqual(t *testing.T) {
	b := NewFromPairs(samplePairs())
	for i := 0; i < 50; i++ {
		p, err := b.DrawRandom()
		require.NoError(t, err)
		assert.NotEqual(t, p.CivilianWord, p.UndercoverWord)
	}
}

func TestDrawFromCategory(t *testing.T) {
	b := NewFromPairs(samplePairs())
	p, err := b.DrawFromCategory("drink")
	require.NoError(t, err)
	assert.Equal(t, "咖啡", p.CivilianWord)
}

func TestDrawFromCategoryNoMatch(t *testing.T) {
	b := NewFromPairs(samplePairs())
	_, err := b.DrawFromCategory("nonexistent")
	require.Error(t, err)
}

func TestDrawByDifficulty(t *testing.T) {
	b := NewFromPairs(samplePairs())
	p, err := b.DrawByDifficulty(Hard)
	require.NoError(t, err)
	assert.Equal(t, Hard, p.Difficulty)
}

func TestDrawByMinSimilarity(t *testing.T) {
	b := NewFromPairs(samplePairs())
	p, err := b.DrawByMinSimilarity(0.6)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.Similarity, 0.6)
}

func TestNewFromPairsDoesNotValidateEqualPairs(t *testing.T) {
	b := NewFromPairs([]Pair{
		{CivilianWord: "same", UndercoverWord: "same"},
	})
	assert.Equal(t, 1, b.Len())
	_, err := b.DrawRandom()
	require.NoError(t, err, "draw itself does not re-validate; Load is the validation boundary")
}
