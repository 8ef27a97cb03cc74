package cache

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/SentiTrader/internal/models"
)

func neutral() models.Judgment {
	return models.Judgment{Sentiment: models.SentimentNeutral, Compound: 0.1, Confidence: 0.6}
}

func TestCacheHitWithinTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(t.TempDir(), "v1", time.Hour, true, WithClock(clock))

	require.NoError(t, c.Set("p1", neutral()))
	clock.Advance(30 * time.Minute)

	got, ok := c.Get("p1")
	require.True(t, ok)
	assert.Equal(t, neutral(), got)
}

func TestCacheExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(t.TempDir(), "v1", time.Hour, true, WithClock(clock))

	require.NoError(t, c.Set("p1", neutral()))
	clock.Advance(2 * time.Hour)

	_, ok := c.Get("p1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCacheSurvivesRestartViaDisk(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()

	first := New(dir, "v1", time.Hour, true, WithClock(clock))
	require.NoError(t, first.Set("p1", neutral()))

	second := New(dir, "v1", time.Hour, true, WithClock(clock))
	got, ok := second.Get("p1")
	require.True(t, ok)
	assert.Equal(t, neutral(), got)
}

func TestCacheVersionIsolation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, New(dir, "v1", time.Hour, true).Set("p1", neutral()))

	_, ok := New(dir, "v2", time.Hour, true).Get("p1")
	assert.False(t, ok)
}

func TestDisabledCacheIsNoop(t *testing.T) {
	c := New(t.TempDir(), "v1", time.Hour, false)
	require.NoError(t, c.Set("p1", neutral()))
	_, ok := c.Get("p1")
	assert.False(t, ok)

	var nilCache *JudgmentCache
	_, ok = nilCache.Get("p1")
	assert.False(t, ok)
}
