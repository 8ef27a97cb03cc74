package dataflows

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/SentiTrader/internal/retry"
)

func listing(after string, ids ...string) map[string]any {
	children := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		children = append(children, map[string]any{
			"kind": "t3",
			"data": map[string]any{
				"id":              id,
				"title":           "Title " + id,
				"selftext":        "Body " + id,
				"permalink":       "/r/wallstreetbets/comments/" + id,
				"subreddit":       "wallstreetbets",
				"author":          "dfv",
				"score":           42,
				"created_utc":     1709294400.0,
				"link_flair_text": "DD",
			},
		})
	}
	return map[string]any{"kind": "Listing", "data": map[string]any{"after": after, "children": children}}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRedditPublicSearchPaginates(t *testing.T) {
	var pages int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/r/wallstreetbets/search.json", r.URL.Path)
		assert.Equal(t, `flair:"DD"`, r.URL.Query().Get("q"))
		assert.Equal(t, "1", r.URL.Query().Get("restrict_sr"))
		assert.Equal(t, "new", r.URL.Query().Get("sort"))
		assert.Equal(t, "week", r.URL.Query().Get("t"))
		assert.Equal(t, "SentiTrader-test", r.Header.Get("User-Agent"))

		switch atomic.AddInt32(&pages, 1) {
		case 1:
			assert.Empty(t, r.URL.Query().Get("after"))
			writeJSON(w, listing("t3_b", "a", "b"))
		default:
			assert.Equal(t, "t3_b", r.URL.Query().Get("after"))
			writeJSON(w, listing("", "c"))
		}
	}))
	defer srv.Close()

	rc := NewRedditClient(RedditConfig{BaseURL: srv.URL, UserAgent: "SentiTrader-test", Retry: testRetry()}, nil, nil)
	posts, err := rc.Posts(context.Background(), Query{
		Subreddit: "wallstreetbets", SearchQuery: `flair:"DD"`, Sort: "new", TimeFilter: "week", Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, "a", posts[0].ID)
	assert.Equal(t, "Body a", posts[0].Body)
	assert.Equal(t, "DD", posts[0].Flair)
	assert.Equal(t, "https://www.reddit.com/r/wallstreetbets/comments/a", posts[0].URL)
	assert.Equal(t, time.Unix(1709294400, 0).UTC(), posts[0].CreatedAt)
	assert.EqualValues(t, 2, atomic.LoadInt32(&pages))
}

func TestRedditStopsAtLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		writeJSON(w, listing("t3_more", "a", "b", "c"))
	}))
	defer srv.Close()

	rc := NewRedditClient(RedditConfig{BaseURL: srv.URL, Retry: testRetry()}, nil, nil)
	posts, err := rc.Posts(context.Background(), Query{Subreddit: "stocks", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, posts, 2)
}

func TestRedditOAuthFlow(t *testing.T) {
	var tokenCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/access_token":
			atomic.AddInt32(&tokenCalls, 1)
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "id", user)
			assert.Equal(t, "secret", pass)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
			writeJSON(w, map[string]any{"access_token": "tok", "token_type": "bearer", "expires_in": 3600})
		case "/r/stocks/search":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			writeJSON(w, listing("", "x"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	rc := NewRedditClient(RedditConfig{
		BaseURL: srv.URL, OAuthURL: srv.URL, ClientID: "id", ClientSecret: "secret", Retry: testRetry(),
	}, nil, nil)

	for i := 0; i < 2; i++ {
		posts, err := rc.Posts(context.Background(), Query{Subreddit: "stocks", Limit: 5})
		require.NoError(t, err)
		require.Len(t, posts, 1)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&tokenCalls), "token is reused until it expires")
}

func TestRedditRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, listing("", "a"))
	}))
	defer srv.Close()

	rc := NewRedditClient(RedditConfig{BaseURL: srv.URL, Retry: testRetry()}, nil, nil)
	posts, err := rc.Posts(context.Background(), Query{Subreddit: "stocks", Limit: 5})
	require.NoError(t, err)
	assert.Len(t, posts, 1)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestRedditDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	rc := NewRedditClient(RedditConfig{BaseURL: srv.URL, Retry: testRetry()}, nil, nil)
	_, err := rc.Posts(context.Background(), Query{Subreddit: "private", Limit: 5})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestConvertPostsFallsBackToHTML(t *testing.T) {
	escaped := "&lt;div class=\"md\"&gt;&lt;p&gt;Buy &lt;strong&gt;GME&lt;/strong&gt;&lt;/p&gt;&lt;p&gt;now&lt;/p&gt;&lt;/div&gt;"
	children := []RedditChild{
		{Kind: "t3", Data: RedditPostData{ID: "a", Title: "T", SelftextHTML: &escaped}},
		{Kind: "t1", Data: RedditPostData{ID: "comment"}},
	}
	posts := convertPosts(children)
	require.Len(t, posts, 1)
	assert.Equal(t, "Buy GME now", posts[0].Body)
}

func TestRedditRequiresSubreddit(t *testing.T) {
	rc := NewRedditClient(RedditConfig{}, nil, nil)
	_, err := rc.Posts(context.Background(), Query{})
	require.Error(t, err)
	assert.Equal(t, "subreddit cannot be empty", fmt.Sprint(err))
}
