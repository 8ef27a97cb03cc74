package cache

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/internal/models"
)

// JudgmentCache remembers classifier verdicts for posts that never reach the
// ledger, so later runs skip them until the TTL expires. Entries are kept in
// memory and mirrored to one JSON file per post under the cache dir.
type JudgmentCache struct {
	mu          sync.RWMutex
	memoryCache map[string]*CachedJudgment
	cacheDir    string
	version     string
	ttl         time.Duration
	enabled     bool
	clock       clockwork.Clock
	logger      *zap.Logger
}

type CachedJudgment struct {
	PostID   string          `json:"post_id"`
	Version  string          `json:"version"`
	Judgment models.Judgment `json:"judgment"`
	CachedAt time.Time       `json:"cached_at"`
}

type Option func(*JudgmentCache)

func WithClock(clock clockwork.Clock) Option {
	return func(c *JudgmentCache) { c.clock = clock }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *JudgmentCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a cache. version is mixed into the key so a changed
// instruction text invalidates old verdicts.
func New(cacheDir, version string, ttl time.Duration, enabled bool, opts ...Option) *JudgmentCache {
	c := &JudgmentCache{
		memoryCache: make(map[string]*CachedJudgment),
		cacheDir:    cacheDir,
		version:     version,
		ttl:         ttl,
		enabled:     enabled && ttl > 0,
		clock:       clockwork.NewRealClock(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("judgment_cache")
	return c
}

func (c *JudgmentCache) key(postID string) string {
	hash := md5.Sum([]byte(c.version + "/" + postID))
	return fmt.Sprintf("judgment_%x", hash)
}

func (c *JudgmentCache) Get(postID string) (models.Judgment, bool) {
	if c == nil || !c.enabled {
		return models.Judgment{}, false
	}
	key := c.key(postID)
	now := c.clock.Now()

	c.mu.RLock()
	cached, ok := c.memoryCache[key]
	c.mu.RUnlock()
	if ok {
		if now.Sub(cached.CachedAt) <= c.ttl {
			return cached.Judgment, true
		}
		c.evict(key)
		return models.Judgment{}, false
	}

	if c.cacheDir == "" {
		return models.Judgment{}, false
	}
	data, err := os.ReadFile(c.filePath(key))
	if err != nil {
		return models.Judgment{}, false
	}
	var fromDisk CachedJudgment
	if err := json.Unmarshal(data, &fromDisk); err != nil || fromDisk.PostID != postID {
		c.evict(key)
		return models.Judgment{}, false
	}
	if now.Sub(fromDisk.CachedAt) > c.ttl {
		c.evict(key)
		return models.Judgment{}, false
	}

	c.mu.Lock()
	c.memoryCache[key] = &fromDisk
	c.mu.Unlock()
	return fromDisk.Judgment, true
}

func (c *JudgmentCache) Set(postID string, judgment models.Judgment) error {
	if c == nil || !c.enabled {
		return nil
	}
	key := c.key(postID)
	entry := &CachedJudgment{
		PostID:   postID,
		Version:  c.version,
		Judgment: judgment,
		CachedAt: c.clock.Now(),
	}

	c.mu.Lock()
	c.memoryCache[key] = entry
	c.mu.Unlock()

	if c.cacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.filePath(key), data, 0o644)
}

func (c *JudgmentCache) evict(key string) {
	c.mu.Lock()
	delete(c.memoryCache, key)
	c.mu.Unlock()
	if c.cacheDir != "" {
		if err := os.Remove(c.filePath(key)); err != nil && !os.IsNotExist(err) {
			c.logger.Debug("remove expired cache file", zap.String("key", key), zap.Error(err))
		}
	}
}

func (c *JudgmentCache) filePath(key string) string {
	return filepath.Join(c.cacheDir, key+".json")
}

func (c *JudgmentCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.memoryCache)
}
