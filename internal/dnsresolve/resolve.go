// Package dnsresolve builds the resolvers the MX stage can run on: the
// system resolver, optionally pinned to one nameserver, and a direct
// resolver that talks DNS itself.
package dnsresolve

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/miekg/dns"
)

// System returns the Go resolver. With a server address it sends every
// query there instead of to the nameservers in resolv.conf.
func System(server string) *net.Resolver {
	if server == "" {
		return net.DefaultResolver
	}
	addr := withPort(server)
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
}

// Direct resolves by querying a single nameserver with recursion desired.
// Answers are reported with the same *net.DNSError conventions as
// *net.Resolver, so callers can treat both alike.
type Direct struct {
	server string
	udp    *dns.Client
	tcp    *dns.Client
}

// NewDirect creates a resolver for server (host or host:port).
func NewDirect(server string, timeout time.Duration) *Direct {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Direct{
		server: withPort(server),
		udp:    &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
	}
}

// LookupMX returns the MX records of name. A domain that exists without
// MX records yields an empty slice and no error.
func (d *Direct) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	in, err := d.exchange(ctx, name, dns.TypeMX)
	if err != nil {
		return nil, err
	}
	var out []*net.MX
	for _, rr := range in.Answer {
		if mx, ok := rr.(*dns.MX); ok {
			out = append(out, &net.MX{Host: mx.Mx, Pref: mx.Preference})
		}
	}
	return out, nil
}

// LookupHost returns the IPv4 and IPv6 addresses of host.
func (d *Direct) LookupHost(ctx context.Context, host string) ([]string, error) {
	var addrs []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		in, err := d.exchange(ctx, host, qtype)
		if err != nil {
			return nil, err
		}
		for _, rr := range in.Answer {
			switch v := rr.(type) {
			case *dns.A:
				addrs = append(addrs, v.A.String())
			case *dns.AAAA:
				addrs = append(addrs, v.AAAA.String())
			}
		}
	}
	if len(addrs) == 0 {
		return nil, d.notFound(host)
	}
	return addrs, nil
}

func (d *Direct) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	in, _, err := d.udp.ExchangeContext(ctx, m, d.server)
	if err == nil && in.Truncated {
		in, _, err = d.tcp.ExchangeContext(ctx, m, d.server)
	}
	if err != nil {
		return nil, &net.DNSError{
			Err:         err.Error(),
			Name:        name,
			Server:      d.server,
			IsTimeout:   isTimeout(ctx, err),
			IsTemporary: true,
		}
	}

	switch in.Rcode {
	case dns.RcodeSuccess:
		return in, nil
	case dns.RcodeNameError:
		return nil, d.notFound(name)
	}
	return nil, &net.DNSError{
		Err:         "server replied " + dns.RcodeToString[in.Rcode],
		Name:        name,
		Server:      d.server,
		IsTemporary: true,
	}
}

func (d *Direct) notFound(name string) error {
	return &net.DNSError{Err: "no such host", Name: name, Server: d.server, IsNotFound: true}
}

func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return errors.Is(ctx.Err(), context.DeadlineExceeded)
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func withPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, "53")
}
