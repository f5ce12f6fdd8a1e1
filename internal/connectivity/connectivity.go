package connectivity

import (
	"context"
	"net"
	"net/url"
	"time"
)

// DefaultTimeout bounds a single reachability probe.
const DefaultTimeout = 3 * time.Second

// Checker reports whether the catalog can currently be reached.
type Checker interface {
	Reachable(ctx context.Context) bool
}

// Dialer abstracts net.Dialer for tests.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DialChecker probes reachability by opening a TCP connection to a host.
type DialChecker struct {
	Address string
	Timeout time.Duration
	Dialer  Dialer
}

// NewDialChecker returns a checker for the host of rawURL (port 443 unless
// the URL names one).
func NewDialChecker(rawURL string) *DialChecker {
	return &DialChecker{Address: hostPort(rawURL), Timeout: DefaultTimeout}
}

// Reachable dials Address and closes the connection immediately.
func (c *DialChecker) Reachable(ctx context.Context) bool {
	if c == nil || c.Address == "" {
		return false
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := c.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	conn, err := dialer.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Static always returns the same answer.
type Static bool

func (s Static) Reachable(context.Context) bool {
	return bool(s)
}

func hostPort(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}
