// Package cache memoises finished transformations by request fingerprint.
// At most one computation per fingerprint is in flight; concurrent callers
// with the same request share its outcome.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/valpere/politone/internal"
	"github.com/valpere/politone/internal/tone"
)

const (
	DefaultTTL        = 7 * 24 * time.Hour
	DefaultMaxEntries = 1000
)

// Backend persists entries beyond the process lifetime.
type Backend interface {
	GetCached(ctx context.Context, fingerprint string, now time.Time) (*internal.TransformResult, bool, error)
	SaveCached(ctx context.Context, fingerprint string, req internal.TransformRequest, res internal.TransformResult, expiresAt time.Time) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Fingerprint identifies a request by everything that influences its output.
// Text fields are trimmed and NFC-normalised; contexts are deduplicated and
// sorted so selection order does not matter.
func Fingerprint(req internal.TransformRequest) string {
	contexts := tone.NormalizeContexts(req.Contexts)
	names := make([]string, len(contexts))
	for i, c := range contexts {
		names[i] = string(c)
	}

	h := sha256.New()
	for _, field := range []string{
		string(req.Persona),
		strings.Join(names, ","),
		string(req.ToneLevel),
		normalize(req.OriginalText),
		normalize(req.UserPrompt),
		normalize(req.SenderInfo),
	} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Cacheable reports whether res may be stored. Results that still carry
// risk flags are recomputed on the next request.
func Cacheable(res *internal.TransformResult) bool {
	return res != nil && len(res.RiskFlags) == 0
}

// Compute produces the result for a cache miss.
type Compute func(ctx context.Context) (*internal.TransformResult, error)

// Config tunes a Cache.
type Config struct {
	// TTL is how long an entry is served. Zero or negative disables storage
	// but keeps in-flight deduplication.
	TTL time.Duration
	// MaxEntries bounds the in-memory tier.
	MaxEntries int
}

type entry struct {
	res       internal.TransformResult
	createdAt time.Time
	expiresAt time.Time
}

// Cache is a two-tier result cache: a bounded in-memory map in front of an
// optional Backend.
type Cache struct {
	cfg     Config
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates a Cache. backend and logger may be nil.
func New(cfg Config, backend Backend, logger *zap.Logger) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		cfg:     cfg,
		backend: backend,
		logger:  logger.Named("cache"),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Do returns the cached result for req or runs compute. hit is false only
// for the caller whose compute produced the result.
//
// compute runs with the context of the caller that started it. If that caller
// is cancelled, waiting callers whose own context is still live start a fresh
// computation instead of inheriting the cancellation.
func (c *Cache) Do(ctx context.Context, req internal.TransformRequest, compute Compute) (res *internal.TransformResult, hit bool, err error) {
	fp := Fingerprint(req)
	if res, ok := c.lookup(ctx, fp); ok {
		return res, true, nil
	}

	for {
		// led is only written by this caller's closure, which runs when this
		// caller starts the computation; the channel receive orders the read.
		var led bool
		ch := c.group.DoChan(fp, func() (any, error) {
			led = true
			if res, ok := c.lookup(ctx, fp); ok {
				return flight{res: res, cached: true}, nil
			}
			res, err := compute(ctx)
			if err != nil {
				return nil, err
			}
			c.store(ctx, fp, req, res)
			return flight{res: res}, nil
		})

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case r := <-ch:
			if r.Err != nil {
				if errors.Is(r.Err, context.Canceled) && ctx.Err() == nil {
					c.logger.Debug("shared computation cancelled, retrying", zap.String("fingerprint", short(fp)))
					continue
				}
				return nil, false, r.Err
			}
			f := r.Val.(flight)
			return f.res, f.cached || !led, nil
		}
	}
}

type flight struct {
	res    *internal.TransformResult
	cached bool
}

func (c *Cache) lookup(ctx context.Context, fp string) (*internal.TransformResult, bool) {
	if c.cfg.TTL <= 0 {
		return nil, false
	}
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[fp]
	c.mu.RUnlock()
	if ok && now.Before(e.expiresAt) {
		res := e.res
		return &res, true
	}

	if c.backend == nil {
		return nil, false
	}
	res, ok, err := c.backend.GetCached(ctx, fp, now)
	if err != nil {
		c.logger.Warn("backend lookup failed", zap.String("fingerprint", short(fp)), zap.Error(err))
		return nil, false
	}
	return res, ok
}

func (c *Cache) store(ctx context.Context, fp string, req internal.TransformRequest, res *internal.TransformResult) {
	if c.cfg.TTL <= 0 || !Cacheable(res) {
		return
	}
	now := c.now()
	expires := now.Add(c.cfg.TTL)

	c.mu.Lock()
	if _, exists := c.entries[fp]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		c.evictOldest()
	}
	c.entries[fp] = &entry{res: *res, createdAt: now, expiresAt: expires}
	c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.SaveCached(ctx, fp, req, *res, expires); err != nil {
			c.logger.Warn("backend save failed", zap.String("fingerprint", short(fp)), zap.Error(err))
		}
	}
}

// evictOldest removes the oldest entry by creation time. Callers hold mu.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.createdAt.Before(oldest) {
			oldestKey = key
			oldest = e.createdAt
		}
	}
	delete(c.entries, oldestKey)
}

// Len returns the number of in-memory entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep drops expired entries from both tiers and returns how many were
// removed.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	now := c.now()
	var removed int64

	c.mu.Lock()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if c.backend == nil {
		return removed, nil
	}
	n, err := c.backend.PurgeExpired(ctx, now)
	if err != nil {
		return removed, fmt.Errorf("purge backend: %w", err)
	}
	return removed + n, nil
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
