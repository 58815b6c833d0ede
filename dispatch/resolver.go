package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// SRVResolver discovers watcher endpoints from DNS SRV records published for
// a service domain. Targets become http(s) base URLs using the configured
// scheme and the port from the SRV record.
type SRVResolver struct {
	// Domain is the SRV name to query, e.g. "_watcher._tcp.bridge.internal.".
	Domain string
	// Scheme defaults to https.
	Scheme string
	// DNSServer is the resolver address, host:port. Defaults to the local
	// stub resolver.
	DNSServer string
}

const defaultDNSServer = "127.0.0.53:53"

// Resolve queries SRV records and returns one base URL per target.
func (r *SRVResolver) Resolve(ctx context.Context) ([]string, error) {
	m := new(dns.Msg)
	m.Id = dns.Id()
	m.RecursionDesired = true
	m.Question = []dns.Question{{Name: dns.Fqdn(r.Domain), Qtype: dns.TypeSRV, Qclass: dns.ClassINET}}

	server := r.DNSServer
	if server == "" {
		server = defaultDNSServer
	}
	c := new(dns.Client)
	in, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup for %s failed: %w", r.Domain, err)
	}

	scheme := r.Scheme
	if scheme == "" {
		scheme = "https"
	}
	endpoints := make([]string, 0, len(in.Answer))
	for _, answer := range in.Answer {
		srv, ok := answer.(*dns.SRV)
		if !ok {
			continue
		}
		host := strings.TrimSuffix(srv.Target, ".")
		endpoints = append(endpoints, fmt.Sprintf("%s://%s:%d", scheme, host, srv.Port))
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no SRV records for %s", r.Domain)
	}
	return endpoints, nil
}
