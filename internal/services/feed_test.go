package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func postTexts(posts []PostView) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, *p.Text)
	}
	return out
}

func TestParseFeedChoice(t *testing.T) {
	c, err := ParseFeedChoice("")
	require.NoError(t, err)
	require.Equal(t, ChoiceAll, c)
	c, err = ParseFeedChoice("following")
	require.NoError(t, err)
	require.Equal(t, ChoiceFollowing, c)
	_, err = ParseFeedChoice("trending")
	require.ErrorIs(t, err, ErrValidation)
	require.EqualError(t, err, "Please Enter a valid choice")
}

func TestListPostsChoices(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	me := env.signup(t, "viewer")
	fan := env.signup(t, "fan")     // 关注 viewer
	idol := env.signup(t, "idol")   // 被 viewer 关注
	other := env.signup(t, "other") // 无关
	env.follow(t, fan.ID, me.ID)
	env.follow(t, me.ID, idol.ID)

	env.post(t, me.ID, "mine")
	env.post(t, fan.ID, "from fan")
	env.post(t, idol.ID, "from idol")
	env.post(t, other.ID, "from other")

	mine, err := env.feed.List(ctx, me.ID, ChoiceMine)
	require.NoError(t, err)
	require.Equal(t, []string{"mine"}, postTexts(mine))

	followers, err := env.feed.List(ctx, me.ID, ChoiceFollowers)
	require.NoError(t, err)
	require.Equal(t, []string{"from fan"}, postTexts(followers))

	following, err := env.feed.List(ctx, me.ID, ChoiceFollowing)
	require.NoError(t, err)
	require.Equal(t, []string{"from idol"}, postTexts(following))

	all, err := env.feed.List(ctx, me.ID, ChoiceAll)
	require.NoError(t, err)
	// 新帖在前
	require.Equal(t, []string{"from other", "from idol", "from fan", "mine"}, postTexts(all))
}

func TestListPostsServesCachedSnapshotUntilRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	me := env.signup(t, "cached")
	env.post(t, me.ID, "one")

	first, err := env.feed.List(ctx, me.ID, ChoiceMine)
	require.NoError(t, err)
	require.Len(t, first, 1)

	env.post(t, me.ID, "two")
	second, err := env.feed.List(ctx, me.ID, ChoiceMine)
	require.NoError(t, err)
	require.Equal(t, postTexts(first), postTexts(second))

	counts, err := env.feed.Refresh(ctx, me.ID)
	require.NoError(t, err)
	require.Equal(t, 2, counts[ChoiceMine])
	require.Equal(t, 2, counts[ChoiceAll])
	require.Equal(t, 0, counts[ChoiceFollowers])
	require.Equal(t, 0, counts[ChoiceFollowing])

	third, err := env.feed.List(ctx, me.ID, ChoiceMine)
	require.NoError(t, err)
	require.Equal(t, []string{"two", "one"}, postTexts(third))
}

func TestListPostsRecomputesAfterTTL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	me := env.signup(t, "ttl")
	env.post(t, me.ID, "one")

	_, err := env.feed.List(ctx, me.ID, ChoiceAll)
	require.NoError(t, err)
	env.post(t, me.ID, "two")

	env.advance(env.cfg.Feed.CacheTTL - time.Second)
	got, err := env.feed.List(ctx, me.ID, ChoiceAll)
	require.NoError(t, err)
	require.Len(t, got, 1)

	env.advance(time.Second)
	got, err = env.feed.List(ctx, me.ID, ChoiceAll)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestFollowChangesDoNotInvalidateFeeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	me := env.signup(t, "stale")
	idol := env.signup(t, "star")
	env.post(t, idol.ID, "shine")

	got, err := env.feed.List(ctx, me.ID, ChoiceFollowing)
	require.NoError(t, err)
	require.Empty(t, got)

	env.follow(t, me.ID, idol.ID)
	got, err = env.feed.List(ctx, me.ID, ChoiceFollowing)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestFeedsAreKeyedPerViewer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.signup(t, "alpha")
	b := env.signup(t, "beta")
	env.post(t, a.ID, "a1")

	_, err := env.feed.List(ctx, a.ID, ChoiceAll)
	require.NoError(t, err)
	env.post(t, b.ID, "b1")

	got, err := env.feed.List(ctx, b.ID, ChoiceAll)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

// failingCache 模拟缓存后端不可用。
type failingCache struct{ sets int }

func (c *failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}

func (c *failingCache) Set(context.Context, string, []byte, time.Duration) error {
	c.sets++
	return errors.New("cache down")
}

func TestListPostsFallsBackWhenCacheFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	me := env.signup(t, "degraded")
	env.post(t, me.ID, "still here")

	cache := &failingCache{}
	feed := NewFeedService(env.db, cache, time.Minute, "/media")
	got, err := feed.List(ctx, me.ID, ChoiceMine)
	require.NoError(t, err)
	require.Equal(t, []string{"still here"}, postTexts(got))
	require.Equal(t, 1, cache.sets)

	counts, err := feed.Refresh(ctx, me.ID)
	require.NoError(t, err)
	require.Equal(t, 1, counts[ChoiceAll])
}

func TestFeedKey(t *testing.T) {
	require.Equal(t, "feed:mine:42", FeedKey(ChoiceMine, 42))
}
