package serviceresolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// DefaultResolverAddr is the systemd-resolved stub listener, the local
// resolver on the platform's worker hosts.
const DefaultResolverAddr = "127.0.0.53:53"

// DefaultCacheTTL bounds how long resolved endpoints are reused before a
// fresh SRV query. Worker pools scale on a minutes scale, so a short TTL
// keeps the endpoint list honest without hammering the resolver.
const DefaultCacheTTL = 30 * time.Second

// Resolver resolves rotation-worker service names to host:port endpoints
// using DNS SRV records.
type Resolver struct {
	// resolverAddr is the DNS server queried for SRV records
	resolverAddr string

	// client performs the actual DNS exchanges with a bounded timeout
	client *dns.Client

	// Cache for resolved endpoints to reduce DNS traffic
	endpointCache     map[string]cacheEntry
	endpointCacheLock sync.RWMutex

	// Cache TTL configuration
	cacheTTL time.Duration

	// Logger for operational insights
	log *slog.Logger
}

// cacheEntry represents a cached result of endpoint resolution.
type cacheEntry struct {
	endpoints []string
	expiry    time.Time
}

// NewResolver creates a resolver for worker endpoint discovery.
//
// Parameters:
//   - resolverAddr: DNS server address, defaults to DefaultResolverAddr if empty
//   - cacheTTL: Time-to-live for cached endpoint lists, defaults to DefaultCacheTTL if zero
//   - log: Logger for operational insights
//
// Returns:
//   - A configured Resolver instance
func NewResolver(resolverAddr string, cacheTTL time.Duration, log *slog.Logger) *Resolver {
	if resolverAddr == "" {
		resolverAddr = DefaultResolverAddr
	}
	if cacheTTL == 0 {
		cacheTTL = DefaultCacheTTL
	}

	return &Resolver{
		resolverAddr:  resolverAddr,
		client:        &dns.Client{Timeout: 3 * time.Second},
		endpointCache: make(map[string]cacheEntry),
		cacheTTL:      cacheTTL,
		log:           log,
	}
}

// ResolveEndpoints resolves a service name to worker endpoints via DNS SRV.
// Each endpoint is the record's target joined with its advertised port, so
// workers may listen on any port their SRV record names. Records are ordered
// by priority, then by descending weight within a priority.
//
// Parameters:
//   - ctx: Context for cancellation and deadline control
//   - serviceName: SRV service name, e.g. "_rotation._tcp.workers.internal"
//
// Returns:
//   - Slice of host:port endpoints in preference order
//   - Error if the query fails or no usable records exist
func (r *Resolver) ResolveEndpoints(ctx context.Context, serviceName string) ([]string, error) {
	if serviceName == "" {
		return nil, errors.New("empty service name")
	}
	name := dns.Fqdn(strings.ToLower(serviceName))

	r.endpointCacheLock.RLock()
	entry, ok := r.endpointCache[name]
	r.endpointCacheLock.RUnlock()
	if ok && time.Now().Before(entry.expiry) {
		return entry.endpoints, nil
	}

	msg := new(dns.Msg)
	msg.Id = dns.Id()
	msg.RecursionDesired = true
	msg.Question = make([]dns.Question, 1)
	msg.Question[0] = dns.Question{Name: name, Qtype: dns.TypeSRV, Qclass: dns.ClassINET}

	in, _, err := r.client.ExchangeContext(ctx, msg, r.resolverAddr)
	if err != nil {
		return nil, fmt.Errorf("SRV query for %s failed: %w", serviceName, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("SRV query for %s returned %s", serviceName, dns.RcodeToString[in.Rcode])
	}

	records := make([]*dns.SRV, 0, len(in.Answer))
	for _, answer := range in.Answer {
		if srv, ok := answer.(*dns.SRV); ok {
			// A lone "." target means the service is decidedly absent (RFC 2782).
			if srv.Target == "." {
				continue
			}
			records = append(records, srv)
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no SRV records for %s", serviceName)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})

	endpoints := make([]string, 0, len(records))
	for _, srv := range records {
		host := strings.TrimSuffix(srv.Target, ".")
		endpoints = append(endpoints, net.JoinHostPort(host, strconv.Itoa(int(srv.Port))))
	}

	r.endpointCacheLock.Lock()
	r.endpointCache[name] = cacheEntry{endpoints: endpoints, expiry: time.Now().Add(r.cacheTTL)}
	r.endpointCacheLock.Unlock()

	r.log.Debug("Resolved worker endpoints",
		slog.String("service", serviceName),
		slog.Int("endpoints", len(endpoints)),
	)
	return endpoints, nil
}
