package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/opd-ai/go-tor/pkg/logger"
	"github.com/opd-ai/go-tor/pkg/metrics"
)

// CacheConfig controls the connection cache's capacity and dial resilience.
type CacheConfig struct {
	// MaxConnections bounds the number of live relay connections kept open
	// at once. Eviction closes the least-recently-used connection.
	MaxConnections int
	// DialTimeout bounds a single connection attempt to a relay.
	DialTimeout time.Duration
	// BreakerFailureThreshold is the number of consecutive dial failures to
	// a single relay address before the breaker opens for that address.
	BreakerFailureThreshold uint32
	// BreakerOpenTimeout is how long the breaker stays open before allowing
	// a single probe dial through.
	BreakerOpenTimeout time.Duration
	// PostDial runs against a freshly TLS-connected Connection before it is
	// cached and handed out, letting callers above this package complete the
	// link protocol handshake (VERSIONS/NETINFO) without connection needing
	// to import that layer. A dial fails if PostDial returns an error.
	PostDial func(ctx context.Context, conn *Connection) error
	// Metrics records dial attempts and TLS handshake timing. Nil disables
	// recording.
	Metrics *metrics.Metrics
}

// DefaultCacheConfig returns sensible defaults for the connection cache.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		MaxConnections:          64,
		DialTimeout:             30 * time.Second,
		BreakerFailureThreshold: 3,
		BreakerOpenTimeout:      60 * time.Second,
	}
}

// Cache is the connection-cache collaborator from the circuit manager's
// external interfaces (GetConnectionTo). It keeps a bounded pool of open
// relay connections, collapses concurrent dials to the same address into
// one attempt, and fails fast against relays that have recently refused to
// handshake.
type Cache struct {
	cfg    *CacheConfig
	logger *logger.Logger

	mu    sync.Mutex
	lru   *lru.Cache[string, *Connection]
	group singleflight.Group

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker
}

// NewCache constructs a connection cache. cfg may be nil to use defaults.
func NewCache(cfg *CacheConfig, log *logger.Logger) *Cache {
	if cfg == nil {
		cfg = DefaultCacheConfig()
	}
	if log == nil {
		log = logger.NewDefault()
	}
	c := &Cache{
		cfg:      cfg,
		logger:   log.Component("connection-cache"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	evictCache, err := lru.NewWithEvict(cfg.MaxConnections, func(address string, conn *Connection) {
		c.logger.Debug("Evicting idle connection", "address", address)
		_ = conn.Close()
	})
	if err != nil {
		// Only non-positive size triggers this; DefaultCacheConfig never does.
		evictCache, _ = lru.New[string, *Connection](1)
	}
	c.lru = evictCache
	return c
}

func (c *Cache) breakerFor(address string) *gobreaker.CircuitBreaker {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	if b, ok := c.breakers[address]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        address,
		MaxRequests: 1,
		Timeout:     c.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.cfg.BreakerFailureThreshold
		},
	})
	c.breakers[address] = b
	return b
}

// GetConnectionTo returns an open connection to address, reusing a cached
// one if present and still open. Concurrent callers requesting the same
// address share a single dial via singleflight. A relay whose breaker is
// open fails fast with the breaker's error instead of attempting a new TCP
// handshake.
func (c *Cache) GetConnectionTo(ctx context.Context, address string) (*Connection, error) {
	c.mu.Lock()
	if conn, ok := c.lru.Get(address); ok && conn.IsOpen() {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(address, func() (interface{}, error) {
		breaker := c.breakerFor(address)
		result, berr := breaker.Execute(func() (interface{}, error) {
			return c.dial(ctx, address)
		})
		if berr != nil {
			return nil, berr
		}
		return result, nil
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	conn := v.(*Connection)

	c.mu.Lock()
	c.lru.Add(address, conn)
	c.mu.Unlock()

	return conn, nil
}

func (c *Cache) dial(ctx context.Context, address string) (*Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	start := time.Now()
	cfg := DefaultConfig(address)
	conn := New(cfg, c.logger)
	err := conn.Connect(dialCtx, cfg)
	if err == nil && c.cfg.PostDial != nil {
		if perr := c.cfg.PostDial(dialCtx, conn); perr != nil {
			conn.Close()
			err = fmt.Errorf("post-dial handshake with %s: %w", address, perr)
		}
	}

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordConnection(err == nil, 0)
		if err == nil {
			c.cfg.Metrics.RecordTLSHandshake(time.Since(start))
		}
	}

	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Remove evicts and closes any cached connection to address, used when a
// circuit extension reports the relay as unreachable or misbehaving.
func (c *Cache) Remove(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(address)
}

// Len reports the number of connections currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close closes every cached connection. Used during manager shutdown.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, address := range c.lru.Keys() {
		if conn, ok := c.lru.Peek(address); ok {
			_ = conn.Close()
		}
	}
	c.lru.Purge()
}
