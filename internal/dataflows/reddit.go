package dataflows

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/internal/models"
	"github.com/dyike/SentiTrader/internal/retry"
)

const maxPageSize = 100

type RedditConfig struct {
	BaseURL      string // public site, also serves the token endpoint
	OAuthURL     string // authenticated API host
	ClientID     string
	ClientSecret string
	UserAgent    string
	Timeout      time.Duration
	Retry        retry.Config
}

// RedditClient searches a subreddit. With credentials it uses app-only
// OAuth against the API host, otherwise the public JSON listing.
type RedditClient struct {
	client *resty.Client
	cfg    RedditConfig
	clock  clockwork.Clock
	logger *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewRedditClient(cfg RedditConfig, logger *zap.Logger, clock clockwork.Clock) *RedditClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.reddit.com"
	}
	if cfg.OAuthURL == "" {
		cfg.OAuthURL = "https://oauth.reddit.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "SentiTrader/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("User-Agent", cfg.UserAgent)

	return &RedditClient{
		client: client,
		cfg:    cfg,
		clock:  clock,
		logger: logger.Named("reddit"),
	}
}

// RedditResponse is a listing envelope.
type RedditResponse struct {
	Kind string `json:"kind"`
	Data struct {
		After    string        `json:"after"`
		Before   string        `json:"before"`
		Children []RedditChild `json:"children"`
		Dist     int           `json:"dist"`
	} `json:"data"`
}

type RedditChild struct {
	Kind string         `json:"kind"`
	Data RedditPostData `json:"data"`
}

type RedditPostData struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Selftext      string  `json:"selftext"`
	SelftextHTML  *string `json:"selftext_html"`
	URL           string  `json:"url"`
	Permalink     string  `json:"permalink"`
	Subreddit     string  `json:"subreddit"`
	Author        string  `json:"author"`
	Score         int     `json:"score"`
	CreatedUTC    float64 `json:"created_utc"`
	LinkFlairText string  `json:"link_flair_text"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (rc *RedditClient) authenticated() bool {
	return rc.cfg.ClientID != "" && rc.cfg.ClientSecret != ""
}

// Posts pages through the search results until q.Limit posts are collected
// or the listing ends.
func (rc *RedditClient) Posts(ctx context.Context, q Query) ([]models.Post, error) {
	if strings.TrimSpace(q.Subreddit) == "" {
		return nil, fmt.Errorf("subreddit cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = 25
	}
	if q.Sort == "" {
		q.Sort = "new"
	}
	if q.TimeFilter == "" {
		q.TimeFilter = "week"
	}

	var (
		posts []models.Post
		after string
	)
	for len(posts) < q.Limit {
		pageSize := min(q.Limit-len(posts), maxPageSize)
		page, err := retry.Do(ctx, rc.cfg.Retry, func(ctx context.Context, attempt int) (*RedditResponse, error) {
			return rc.searchPage(ctx, q, pageSize, after)
		})
		if err != nil {
			return nil, fmt.Errorf("search r/%s: %w", q.Subreddit, err)
		}

		posts = append(posts, convertPosts(page.Data.Children)...)
		after = page.Data.After
		if after == "" || len(page.Data.Children) == 0 {
			break
		}
	}
	if len(posts) > q.Limit {
		posts = posts[:q.Limit]
	}

	rc.logger.Info("fetched posts",
		zap.String("subreddit", q.Subreddit),
		zap.String("query", q.SearchQuery),
		zap.Int("count", len(posts)))
	return posts, nil
}

func (rc *RedditClient) searchPage(ctx context.Context, q Query, limit int, after string) (*RedditResponse, error) {
	params := map[string]string{
		"q":           q.SearchQuery,
		"restrict_sr": "1",
		"sort":        q.Sort,
		"t":           q.TimeFilter,
		"limit":       strconv.Itoa(limit),
		"raw_json":    "1",
	}
	if after != "" {
		params["after"] = after
	}

	req := rc.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&RedditResponse{})

	var url string
	if rc.authenticated() {
		token, err := rc.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		req.SetAuthToken(token)
		url = fmt.Sprintf("%s/r/%s/search", rc.cfg.OAuthURL, q.Subreddit)
	} else {
		url = fmt.Sprintf("%s/r/%s/search.json", rc.cfg.BaseURL, q.Subreddit)
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch reddit posts: %w", err)
	}
	if err := statusError(resp); err != nil {
		if resp.StatusCode() == http.StatusUnauthorized {
			rc.invalidateToken()
		}
		return nil, err
	}
	return resp.Result().(*RedditResponse), nil
}

func (rc *RedditClient) accessToken(ctx context.Context) (string, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.token != "" && rc.clock.Now().Before(rc.tokenExpiry) {
		return rc.token, nil
	}

	resp, err := rc.client.R().
		SetContext(ctx).
		SetBasicAuth(rc.cfg.ClientID, rc.cfg.ClientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&tokenResponse{}).
		Post(rc.cfg.BaseURL + "/api/v1/access_token")
	if err != nil {
		return "", fmt.Errorf("request reddit token: %w", err)
	}
	if err := statusError(resp); err != nil {
		return "", fmt.Errorf("reddit token: %w", err)
	}

	tok := resp.Result().(*tokenResponse)
	if tok.AccessToken == "" {
		return "", retry.Permanent(errors.New("reddit token response missing access_token"))
	}
	// Refresh a minute early.
	ttl := time.Duration(tok.ExpiresIn)*time.Second - time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}
	rc.token = tok.AccessToken
	rc.tokenExpiry = rc.clock.Now().Add(ttl)
	return rc.token, nil
}

func (rc *RedditClient) invalidateToken() {
	rc.mu.Lock()
	rc.token = ""
	rc.mu.Unlock()
}

// statusError maps non-2xx replies to errors. Client errors other than 401
// and 429 are not worth retrying.
func statusError(resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}
	err := fmt.Errorf("HTTP error %d: %s", code, truncate(resp.String(), 200))
	if code >= 400 && code < 500 && code != http.StatusUnauthorized && code != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}

func convertPosts(children []RedditChild) []models.Post {
	posts := make([]models.Post, 0, len(children))
	for _, child := range children {
		if child.Kind != "t3" { // t3 is the Reddit kind for posts
			continue
		}
		d := child.Data
		if d.ID == "" {
			continue
		}

		body := d.Selftext
		if body == "" && d.SelftextHTML != nil {
			body = htmlToText(*d.SelftextHTML)
		}

		url := d.URL
		if d.Permalink != "" {
			url = "https://www.reddit.com" + d.Permalink
		}

		posts = append(posts, models.Post{
			ID:        d.ID,
			Title:     d.Title,
			Body:      body,
			CreatedAt: time.Unix(int64(d.CreatedUTC), 0).UTC(),
			Subreddit: d.Subreddit,
			Author:    d.Author,
			URL:       url,
			Flair:     d.LinkFlairText,
			Score:     d.Score,
		})
	}
	return posts
}

// htmlToText extracts readable text from Reddit's selftext_html, which may
// arrive entity-escaped.
func htmlToText(raw string) string {
	unescaped := html.UnescapeString(raw)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(unescaped))
	if err != nil {
		return ""
	}
	// Keep block boundaries from gluing words together.
	doc.Find("p, li, br, pre, h1, h2, h3, h4, h5, h6").AppendHtml(" ")
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
