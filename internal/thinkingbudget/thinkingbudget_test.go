package thinkingbudget

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agor/agord/internal/model"
)

func TestDetectWordBoundaryExcludesThinkingAndRethink(t *testing.T) {
	assert.Equal(t, BucketNone, Detect("I was thinking about rethinking this"))
	assert.Equal(t, BucketThink, Detect("think about the edge cases"))
}

func TestDetectCaseInsensitive(t *testing.T) {
	assert.Equal(t, BucketUltra, Detect("THINK HARDER about this"))
	assert.Equal(t, BucketMega, Detect("Think Hard about this"))
}

func TestDetectHighestBucketWins(t *testing.T) {
	assert.Equal(t, BucketUltra, Detect("please think hard, actually ultrathink this one"))
}

func TestDetectNoKeyword(t *testing.T) {
	assert.Equal(t, BucketNone, Detect("just fix the bug please"))
}

func TestResolveOffAlwaysNil(t *testing.T) {
	cfg := model.ModelConfig{ThinkingMode: model.ThinkingOff}
	assert.Nil(t, Resolve("ultrathink this", cfg))
}

func TestResolveManualUsesConfiguredTokens(t *testing.T) {
	cfg := model.ModelConfig{ThinkingMode: model.ThinkingManual, ManualTokens: 7000}
	got := Resolve("no keywords here", cfg)
	require := assert.New(t)
	require.NotNil(got)
	require.Equal(7000, *got)
}

func TestResolveManualZeroTokensIsNil(t *testing.T) {
	cfg := model.ModelConfig{ThinkingMode: model.ThinkingManual}
	assert.Nil(t, Resolve("anything", cfg))
}

func TestResolveAutoMapsBucketToTokens(t *testing.T) {
	cfg := model.ModelConfig{ThinkingMode: model.ThinkingAuto}

	got := Resolve("megathink this please", cfg)
	assert.Nil(t, got) // "megathink" isn't a phrase we match; compound word, not "think hard"

	got = Resolve("think hard about this", cfg)
	if assert.NotNil(t, got) {
		assert.Equal(t, 10000, *got)
	}

	got = Resolve("ultrathink this", cfg)
	if assert.NotNil(t, got) {
		assert.Equal(t, 31999, *got)
	}

	got = Resolve("just do it", cfg)
	assert.Nil(t, got)
}
