// Package dnscache provides a thread-safe, TTL-based cache for DNS MX lookups
// with singleflight deduplication for concurrent requests to the same domain.
//
// Only answers are cached: a list of exchangers or an authoritative "no such
// domain". Timeouts and server failures are handed to the caller and the
// next lookup asks again.
package dnscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// Resolver is the lookup backend. *net.Resolver satisfies it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Store is an optional second cache tier shared between processes.
// Get returns nil, nil on a miss. fiber.Storage satisfies it.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, val []byte, exp time.Duration) error
}

// Cache is a thread-safe DNS MX lookup cache. It implements Resolver;
// LookupHost is passed through uncached.
type Cache struct {
	mu            sync.Mutex
	entries       map[string]*entry
	cacheTTL      time.Duration
	lookupTimeout time.Duration
	resolver      Resolver
	store         Store
	now           func() time.Time
	lastSweep     time.Time
}

type entry struct {
	records []*net.MX
	err     error
	expires time.Time
	done    chan struct{} // closed when lookup is complete
}

// answer is the Store encoding of a cached lookup.
type answer struct {
	MX       []mxRecord `json:"mx,omitempty"`
	NotFound bool       `json:"notFound,omitempty"`
}

type mxRecord struct {
	Host string `json:"host"`
	Pref uint16 `json:"pref"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore adds a second cache tier.
func WithStore(s Store) Option {
	return func(c *Cache) { c.store = s }
}

// New creates a DNS cache over r with the given lookup timeout and cache TTL.
// A nil r uses net.DefaultResolver.
func New(r Resolver, lookupTimeout, cacheTTL time.Duration, opts ...Option) *Cache {
	if r == nil {
		r = net.DefaultResolver
	}
	c := &Cache{
		entries:       make(map[string]*entry),
		cacheTTL:      cacheTTL,
		lookupTimeout: lookupTimeout,
		resolver:      r,
		now:           time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// LookupMX returns MX records for the domain, using the cache when possible.
// Concurrent lookups for the same domain share one query. A caller whose
// ctx ends while waiting gets ctx.Err(); the shared query keeps running
// for the others.
func (c *Cache) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))

	c.mu.Lock()
	e, ok := c.entries[domain]
	if ok {
		select {
		case <-e.done:
			if c.now().Before(e.expires) {
				c.mu.Unlock()
				return copyMX(e.records), e.err
			}
			ok = false // expired, refresh
		default:
		}
	}
	if !ok {
		c.sweepLocked()
		e = &entry{done: make(chan struct{})}
		c.entries[domain] = e
		go c.fill(domain, e)
	}
	c.mu.Unlock()

	select {
	case <-e.done:
		return copyMX(e.records), e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sweepLocked drops finished entries that have expired, at most once per
// TTL. Failed lookups never got an expiry and go too. c.mu must be held.
func (c *Cache) sweepLocked() {
	now := c.now()
	if now.Sub(c.lastSweep) < c.cacheTTL {
		return
	}
	c.lastSweep = now
	for domain, e := range c.entries {
		select {
		case <-e.done:
			if !now.Before(e.expires) {
				delete(c.entries, domain)
			}
		default:
		}
	}
}

// LookupHost is not cached.
func (c *Cache) LookupHost(ctx context.Context, host string) ([]string, error) {
	return c.resolver.LookupHost(ctx, host)
}

func (c *Cache) fill(domain string, e *entry) {
	defer close(e.done)
	defer func() {
		if r := recover(); r != nil {
			e.records, e.err = nil, fmt.Errorf("dnscache: lookup %s panicked: %v", domain, r)
		}
	}()

	if a, ok := c.load(domain); ok {
		e.records, e.err = a.decode(domain)
		e.expires = c.now().Add(c.cacheTTL)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.lookupTimeout)
	defer cancel()

	e.records, e.err = c.resolver.LookupMX(ctx, domain)
	if e.err != nil && !IsNotFound(e.err) {
		// Transient: leave expires zero so the next caller retries.
		return
	}
	e.expires = c.now().Add(c.cacheTTL)
	c.save(domain, e.records, e.err)
}

func (c *Cache) load(domain string) (answer, bool) {
	if c.store == nil {
		return answer{}, false
	}
	raw, err := c.store.Get(key(domain))
	if err != nil || raw == nil {
		return answer{}, false
	}
	var a answer
	if err := json.Unmarshal(raw, &a); err != nil {
		return answer{}, false
	}
	return a, true
}

func (c *Cache) save(domain string, records []*net.MX, err error) {
	if c.store == nil {
		return
	}
	a := answer{NotFound: err != nil}
	for _, r := range records {
		a.MX = append(a.MX, mxRecord{Host: r.Host, Pref: r.Pref})
	}
	raw, mErr := json.Marshal(a)
	if mErr != nil {
		return
	}
	// The store is a best-effort tier; a failed write only costs a query.
	_ = c.store.Set(key(domain), raw, c.cacheTTL)
}

func (a answer) decode(domain string) ([]*net.MX, error) {
	if a.NotFound {
		return nil, &net.DNSError{Err: "no such host", Name: domain, IsNotFound: true}
	}
	out := make([]*net.MX, len(a.MX))
	for i, r := range a.MX {
		out[i] = &net.MX{Host: r.Host, Pref: r.Pref}
	}
	return out, nil
}

func key(domain string) string {
	return "mx:" + domain
}

// Len returns the number of entries in the cache (for diagnostics).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// IsNotFound reports an authoritative negative answer, as opposed to a
// lookup that failed.
func IsNotFound(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound && !dnsErr.IsTimeout && !dnsErr.IsTemporary
	}
	return false
}

// copyMX returns a deep copy of MX records to prevent callers from
// mutating cached data (e.g., via sort.Slice).
func copyMX(records []*net.MX) []*net.MX {
	if records == nil {
		return nil
	}
	out := make([]*net.MX, len(records))
	for i, r := range records {
		cp := *r
		out[i] = &cp
	}
	return out
}
