package serviceresolver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func srvRecord(name, target string, port, priority, weight uint16) *dns.SRV {
	return &dns.SRV{
		Hdr:      dns.RR_Header{Name: name, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 60},
		Priority: priority,
		Weight:   weight,
		Port:     port,
		Target:   target,
	}
}

// startDNSServer runs a local DNS server and returns its address. queries
// counts answered SRV questions so tests can observe cache behavior.
func startDNSServer(t *testing.T, answers map[string][]dns.RR, queries *atomic.Int64) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		if queries != nil {
			queries.Add(1)
		}
		m := new(dns.Msg)
		m.SetReply(req)
		if rrs, ok := answers[req.Question[0].Name]; ok {
			m.Answer = append(m.Answer, rrs...)
		} else {
			m.SetRcode(req, dns.RcodeNameError)
		}
		_ = w.WriteMsg(m)
	})

	server := &dns.Server{PacketConn: pc, Handler: mux}
	go func() { _ = server.ActivateAndServe() }()
	t.Cleanup(func() { _ = server.Shutdown() })

	return pc.LocalAddr().String()
}

func TestResolveEndpoints(t *testing.T) {
	const service = "_rotation._tcp.workers.test."
	addr := startDNSServer(t, map[string][]dns.RR{
		service: {
			srvRecord(service, "worker-2.test.", 8082, 20, 10),
			srvRecord(service, "worker-1.test.", 8081, 10, 10),
			srvRecord(service, "worker-3.test.", 8083, 10, 50),
		},
	}, nil)

	resolver := NewResolver(addr, time.Minute, testLogger())
	endpoints, err := resolver.ResolveEndpoints(context.Background(), "_rotation._tcp.workers.test")
	require.NoError(t, err)

	// Priority first, heavier weight first within a priority.
	assert.Equal(t, []string{
		"worker-3.test:8083",
		"worker-1.test:8081",
		"worker-2.test:8082",
	}, endpoints)
}

func TestResolveEndpointsUsesCache(t *testing.T) {
	const service = "_rotation._tcp.workers.test."
	var queries atomic.Int64
	addr := startDNSServer(t, map[string][]dns.RR{
		service: {srvRecord(service, "worker-1.test.", 8081, 10, 10)},
	}, &queries)

	resolver := NewResolver(addr, time.Minute, testLogger())
	ctx := context.Background()

	first, err := resolver.ResolveEndpoints(ctx, service)
	require.NoError(t, err)
	second, err := resolver.ResolveEndpoints(ctx, service)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), queries.Load(), "second lookup should be served from cache")
}

func TestResolveEndpointsCacheExpiry(t *testing.T) {
	const service = "_rotation._tcp.workers.test."
	var queries atomic.Int64
	addr := startDNSServer(t, map[string][]dns.RR{
		service: {srvRecord(service, "worker-1.test.", 8081, 10, 10)},
	}, &queries)

	resolver := NewResolver(addr, 50*time.Millisecond, testLogger())
	ctx := context.Background()

	_, err := resolver.ResolveEndpoints(ctx, service)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	_, err = resolver.ResolveEndpoints(ctx, service)
	require.NoError(t, err)
	assert.Equal(t, int64(2), queries.Load())
}

func TestResolveEndpointsUnknownService(t *testing.T) {
	addr := startDNSServer(t, map[string][]dns.RR{}, nil)

	resolver := NewResolver(addr, time.Minute, testLogger())
	_, err := resolver.ResolveEndpoints(context.Background(), "_rotation._tcp.nowhere.test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NXDOMAIN")
}

func TestResolveEndpointsEmptyAnswer(t *testing.T) {
	const service = "_rotation._tcp.workers.test."
	addr := startDNSServer(t, map[string][]dns.RR{
		service: {},
	}, nil)

	resolver := NewResolver(addr, time.Minute, testLogger())
	_, err := resolver.ResolveEndpoints(context.Background(), service)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no SRV records")
}

func TestResolveEndpointsSkipsAbsentTarget(t *testing.T) {
	const service = "_rotation._tcp.workers.test."
	addr := startDNSServer(t, map[string][]dns.RR{
		service: {srvRecord(service, ".", 0, 10, 10)},
	}, nil)

	resolver := NewResolver(addr, time.Minute, testLogger())
	_, err := resolver.ResolveEndpoints(context.Background(), service)
	require.Error(t, err)
}

func TestResolveEndpointsValidation(t *testing.T) {
	resolver := NewResolver("", 0, testLogger())
	assert.Equal(t, DefaultResolverAddr, resolver.resolverAddr)
	assert.Equal(t, DefaultCacheTTL, resolver.cacheTTL)

	_, err := resolver.ResolveEndpoints(context.Background(), "")
	assert.Error(t, err)
}

func TestResolveEndpointsUnreachableResolver(t *testing.T) {
	resolver := NewResolver("127.0.0.1:1", time.Minute, testLogger())
	resolver.client.Timeout = 200 * time.Millisecond

	_, err := resolver.ResolveEndpoints(context.Background(), "_rotation._tcp.workers.test")
	assert.Error(t, err)
}
