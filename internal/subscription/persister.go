// Package subscription stores publish/subscribe registrations and serves
// subscriber lookups through a short-lived cache.
//
// Cached lookups are keyed by the sorted, de-duplicated set of message
// types. Subscribe and Unsubscribe drop every cached entry whose key
// contains the changed type. Each type also carries an invalidation
// version: a lookup that was already in flight when its type changed
// returns its result but does not cache it, and later lookups do not join
// it.
package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/sqlpersistence/internal/dialect"
	"github.com/roach88/sqlpersistence/internal/metrics"
	"github.com/roach88/sqlpersistence/internal/settings"
	"github.com/roach88/sqlpersistence/internal/sqlerr"
	"github.com/roach88/sqlpersistence/internal/store"
)

// PersistenceVersion is written with every row.
const PersistenceVersion = "1.0.0"

// DefaultCacheSize bounds the number of cached message type sets.
const DefaultCacheSize = 1024

// keySeparator cannot appear in a message type name.
const keySeparator = "\n"

// Subscriber is a transport address subscribed to a message type, with the
// logical endpoint behind it when known.
type Subscriber struct {
	Address  string `json:"address"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Option configures a Persister.
type Option func(*Persister)

// WithCacheTTL sets how long lookups are cached. Zero or less disables
// caching.
func WithCacheTTL(d time.Duration) Option {
	return func(p *Persister) {
		p.ttl = d
	}
}

// WithCacheSize bounds the number of cached lookups.
func WithCacheSize(n int) Option {
	return func(p *Persister) {
		p.cacheSize = n
	}
}

// WithClock sets the time source for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Persister) {
		p.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Persister) {
		p.logger = l
	}
}

// SettingsOptions maps subscription settings to persister options.
func SettingsOptions(s settings.SubscriptionSettings) []Option {
	switch {
	case s.CacheTTL < 0:
		return []Option{WithCacheTTL(0)}
	case s.CacheTTL > 0:
		return []Option{WithCacheTTL(s.CacheTTL)}
	}
	return nil
}

type cacheEntry struct {
	subscribers []Subscriber
	expires     time.Time
}

// Persister reads and writes subscriptions. It is safe for concurrent use.
type Persister struct {
	cmds *dialect.SubscriptionCommands
	ex   store.Executor

	ttl       time.Duration
	cacheSize int
	now       func() time.Time
	logger    *slog.Logger

	cache *lru.Cache // key -> cacheEntry
	group singleflight.Group

	mu       sync.Mutex
	versions map[string]uint64
}

// NewPersister creates a persister running its commands on ex, which is
// normally a *sql.DB since lookups are shared between callers.
func NewPersister(p dialect.Profile, ex store.Executor, opts ...Option) (*Persister, error) {
	cmds, err := p.SubscriptionCommands()
	if err != nil {
		return nil, fmt.Errorf("subscription commands: %w", err)
	}
	ps := &Persister{
		cmds:      cmds,
		ex:        ex,
		ttl:       settings.DefaultCacheTTL,
		cacheSize: DefaultCacheSize,
		now:       time.Now,
		logger:    slog.Default(),
		versions:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(ps)
	}
	if ps.cache, err = lru.New(ps.cacheSize); err != nil {
		return nil, fmt.Errorf("subscription cache: %w", err)
	}
	return ps, nil
}

// Subscribe registers subscriber for messageType. Subscribing again updates
// the endpoint unless the new endpoint is empty.
func (p *Persister) Subscribe(ctx context.Context, s Subscriber, messageType string) error {
	var endpoint any
	if s.Endpoint != "" {
		endpoint = s.Endpoint
	}
	_, err := store.Exec(ctx, p.ex, p.cmds.Subscribe, dialect.Values{
		dialect.ParamSubscriber:         s.Address,
		dialect.ParamEndpoint:           endpoint,
		dialect.ParamMessageType:        messageType,
		dialect.ParamPersistenceVersion: PersistenceVersion,
	})
	if err != nil {
		return sqlerr.Wrapf(err, "subscribe %s to %s", s.Address, messageType)
	}
	p.invalidate(messageType)
	return nil
}

// Unsubscribe removes the registration of address for messageType.
func (p *Persister) Unsubscribe(ctx context.Context, address, messageType string) error {
	_, err := store.Exec(ctx, p.ex, p.cmds.Unsubscribe, dialect.Values{
		dialect.ParamSubscriber:  address,
		dialect.ParamMessageType: messageType,
	})
	if err != nil {
		return sqlerr.Wrapf(err, "unsubscribe %s from %s", address, messageType)
	}
	p.invalidate(messageType)
	return nil
}

// invalidate bumps the type's version and drops every cached set containing it.
func (p *Persister) invalidate(messageType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.versions[messageType]++

	for _, k := range p.cache.Keys() {
		key := k.(string)
		for _, t := range strings.Split(key, keySeparator) {
			if t == messageType {
				p.cache.Remove(key)
				metrics.SubscriptionCacheInvalidationsTotal.Inc()
				break
			}
		}
	}
}

// GetSubscribers returns the distinct subscribers of any of the message
// types, ordered by address.
func (p *Persister) GetSubscribers(ctx context.Context, messageTypes ...string) ([]Subscriber, error) {
	types := normalize(messageTypes)
	if len(types) == 0 {
		return nil, nil
	}
	if p.ttl <= 0 {
		return p.query(ctx, types)
	}

	key := strings.Join(types, keySeparator)
	if v, ok := p.cache.Get(key); ok {
		entry := v.(cacheEntry)
		if p.now().Before(entry.expires) {
			metrics.SubscriptionCacheHitsTotal.Inc()
			return clone(entry.subscribers), nil
		}
		p.cache.Remove(key)
	}
	metrics.SubscriptionCacheMissesTotal.Inc()

	snapshot, flightKey := p.snapshot(types, key)
	ch := p.group.DoChan(flightKey, func() (any, error) {
		subs, err := p.query(context.WithoutCancel(ctx), types)
		if err != nil {
			return nil, err
		}
		p.store(key, types, snapshot, subs)
		return subs, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.([]Subscriber)), nil
	}
}

// snapshot captures the versions of types. The flight key includes them so
// lookups after an invalidation never join a lookup from before it.
func (p *Persister) snapshot(types []string, key string) ([]uint64, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	versions := make([]uint64, len(types))
	var b strings.Builder
	b.WriteString(key)
	for i, t := range types {
		versions[i] = p.versions[t]
		b.WriteString(keySeparator)
		b.WriteString(strconv.FormatUint(versions[i], 10))
	}
	return versions, b.String()
}

// store caches subs unless one of the types changed since the snapshot.
func (p *Persister) store(key string, types []string, snapshot []uint64, subs []Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range types {
		if p.versions[t] != snapshot[i] {
			p.logger.Debug("subscriber lookup changed while in flight, not cached", "type", t)
			return
		}
	}
	p.cache.Add(key, cacheEntry{subscribers: subs, expires: p.now().Add(p.ttl)})
}

func (p *Persister) query(ctx context.Context, types []string) ([]Subscriber, error) {
	values := make(dialect.Values, len(types))
	for i, t := range types {
		values[dialect.MessageTypeParam(i)] = t
	}
	rows, err := store.Query(ctx, p.ex, p.cmds.Subscribers(len(types)), values)
	if err != nil {
		return nil, sqlerr.Wrapf(err, "get subscribers")
	}
	defer rows.Close()

	var subs []Subscriber
	for rows.Next() {
		var (
			address  string
			endpoint sql.NullString
		)
		if err := rows.Scan(&address, &endpoint); err != nil {
			return nil, sqlerr.Wrapf(err, "get subscribers")
		}
		subs = append(subs, Subscriber{Address: address, Endpoint: endpoint.String})
	}
	if err := rows.Err(); err != nil {
		return nil, sqlerr.Wrapf(err, "get subscribers")
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].Address != subs[j].Address {
			return subs[i].Address < subs[j].Address
		}
		return subs[i].Endpoint < subs[j].Endpoint
	})
	return subs, nil
}

func normalize(types []string) []string {
	out := make([]string, 0, len(types))
	seen := make(map[string]bool, len(types))
	for _, t := range types {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func clone(subs []Subscriber) []Subscriber {
	if subs == nil {
		return nil
	}
	return append([]Subscriber(nil), subs...)
}
