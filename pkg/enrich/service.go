// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package enrich

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/telekom/phi-audit/pkg/metrics"
)

// Unknown is the value used for every field that could not be resolved.
const Unknown = "unknown"

const (
	DefaultTimeout   = 1500 * time.Millisecond
	DefaultRateLimit = 20
	DefaultBurst     = 40
	DefaultCacheTTL  = 10 * time.Minute
	maxCacheEntries  = 4096
)

// Result carries the enrichment outcome for one event.
type Result struct {
	Location  string
	UserAgent string
}

// Config tunes the lookup service. Zero values take the package defaults.
type Config struct {
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	CacheTTL  time.Duration
}

type cacheEntry struct {
	location string
	expires  time.Time
}

// Service resolves locations through a GeoLookup with rate limiting,
// request coalescing and a TTL cache in front of it.
type Service struct {
	geo     GeoLookup
	limiter *rate.Limiter
	group   singleflight.Group
	timeout time.Duration
	ttl     time.Duration
	log     *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewService creates an enrichment service. geo may be nil, in which case
// only user-agent summarisation is performed.
func NewService(geo GeoLookup, cfg Config, logger *zap.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		geo:     geo,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		timeout: cfg.Timeout,
		ttl:     cfg.CacheTTL,
		log:     logger.Named("enrich"),
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

// Lookup returns the location for ip and a summary of userAgent. It returns
// within the configured timeout even when ctx has no deadline.
func (s *Service) Lookup(ctx context.Context, ip, userAgent string) Result {
	return Result{
		Location:  s.locate(ctx, ip),
		UserAgent: SummarizeUserAgent(userAgent),
	}
}

func (s *Service) locate(ctx context.Context, ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		metrics.AuditEnrichmentLookups.WithLabelValues("invalid").Inc()
		return Unknown
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() {
		metrics.AuditEnrichmentLookups.WithLabelValues("private").Inc()
		return Unknown
	}
	if s.geo == nil {
		metrics.AuditEnrichmentLookups.WithLabelValues("disabled").Inc()
		return Unknown
	}
	key := parsed.String()

	if loc, ok := s.cached(key); ok {
		metrics.AuditEnrichmentLookups.WithLabelValues("cache_hit").Inc()
		return loc
	}
	if !s.limiter.Allow() {
		metrics.AuditEnrichmentLookups.WithLabelValues("rate_limited").Inc()
		return Unknown
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ch := s.group.DoChan(key, func() (any, error) {
		// Detached from the first caller so coalesced waiters are not
		// failed by its cancellation.
		lookupCtx, lookupCancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer lookupCancel()
		loc, err := s.geo.Locate(lookupCtx, key)
		if err != nil {
			return "", err
		}
		s.store(key, loc)
		return loc, nil
	})

	select {
	case <-ctx.Done():
		metrics.AuditEnrichmentLookups.WithLabelValues("timeout").Inc()
		return Unknown
	case res := <-ch:
		if res.Err != nil {
			metrics.AuditEnrichmentLookups.WithLabelValues("error").Inc()
			s.log.Debug("Geo lookup failed", zap.Error(res.Err))
			return Unknown
		}
		metrics.AuditEnrichmentLookups.WithLabelValues("resolved").Inc()
		return res.Val.(string)
	}
}

func (s *Service) cached(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[key]
	if !ok {
		return "", false
	}
	if s.now().After(e.expires) {
		delete(s.cache, key)
		return "", false
	}
	return e.location, true
}

func (s *Service) store(key, location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if len(s.cache) >= maxCacheEntries {
		for k, e := range s.cache {
			if now.After(e.expires) {
				delete(s.cache, k)
			}
		}
		if len(s.cache) >= maxCacheEntries {
			clear(s.cache)
		}
	}
	s.cache[key] = cacheEntry{location: location, expires: now.Add(s.ttl)}
}
