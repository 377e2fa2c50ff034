package sandbox

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// sensitivePorts are remote-administration and file-sharing ports.
var sensitivePorts = map[int]string{
	22:   "ssh",
	23:   "telnet",
	445:  "smb",
	3389: "rdp",
	5900: "vnc",
	5901: "vnc",
}

var privateNets = mustCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
)

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// isPrivateIPv4 reports whether ip is in a private, loopback or link-local range.
func isPrivateIPv4(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	for _, n := range privateNets {
		if n.Contains(v4) {
			return true
		}
	}
	return false
}

// domainAllowed reports whether host equals or is a subdomain of an entry.
func domainAllowed(host string, allowed []string) bool {
	for _, d := range allowed {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// firstIPv4 returns the first IPv4 address in ips, or nil. Later answers
// and IPv6 answers are not consulted.
func firstIPv4(ips []net.IP) net.IP {
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4
		}
	}
	return nil
}

// checkURL runs the network checks in order: scheme, internet flag,
// allow-list, resolved address, port.
func (s *Sandbox) checkURL(ctx context.Context, raw string) *Violation {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return deny(RuleInvalidURL, "cannot parse url: %v", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return deny(RuleInvalidURL, "scheme %q is not allowed", u.Scheme)
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return deny(RuleInvalidURL, "url has no host")
	}
	if !s.policy.InternetEnabled() {
		return deny(RuleInternet, "internet access is disabled")
	}
	if allowed := s.policy.AllowedDomains(); len(allowed) > 0 && !domainAllowed(host, allowed) {
		return deny(RuleDomain, "host %s is not in the allowed domains", host)
	}

	var ip net.IP
	if literal := net.ParseIP(host); literal != nil {
		ip = literal.To4()
	} else {
		ips, err := s.resolver.LookupIP(ctx, "ip", host)
		if err != nil {
			return deny(RuleResolve, "cannot resolve %s: %v", host, err)
		}
		ip = firstIPv4(ips)
	}
	if ip != nil && isPrivateIPv4(ip) {
		return deny(RulePrivateAddress, "host %s resolves to private address %s", host, ip)
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return deny(RuleInvalidURL, "invalid port %q", p)
		}
		if name, ok := sensitivePorts[port]; ok {
			return deny(RuleSensitivePort, "port %d (%s) is not allowed", port, name)
		}
	}
	return nil
}
