package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"
)

const (
	CheckResolve        = "resolve"         // 能否解析
	CheckResolutionTime = "resolution_time" // 解析耗时（秒）

	CheckExpiry   = "expiry"    // 证书是否过期
	CheckDaysLeft = "days_left" // 证书剩余天数
)

// DNSProbe 域名解析探测
type DNSProbe struct {
	resolver *net.Resolver
	timeout  time.Duration
}

func NewDNSProbe(timeout time.Duration) *DNSProbe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSProbe{resolver: net.DefaultResolver, timeout: timeout}
}

func (p *DNSProbe) Kind() Kind {
	return KindDNS
}

func (p *DNSProbe) Execute(ctx context.Context, target Target) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	host := target.Host()
	start := time.Now()
	addrs, err := p.resolver.LookupHost(ctx, host)
	elapsed := time.Since(start)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			// 域名不存在是明确的问题，不是探测失败
			return Result{ProblemDetected: true, Details: "DNS resolution failed: " + err.Error()}, nil
		}
		return Result{}, err
	}
	if len(addrs) == 0 {
		return Result{ProblemDetected: true, Details: "DNS resolution returned no address"}, nil
	}

	details := fmt.Sprintf("Hostname: %s, Primary IP: %s", host, addrs[0])
	if len(addrs) > 1 {
		details += fmt.Sprintf(", Total IPs: %d (%s)", len(addrs), strings.Join(addrs, ", "))
	}
	details += fmt.Sprintf(", Resolution time: %dms", elapsed.Milliseconds())

	seconds := math.Round(elapsed.Seconds()*1000) / 1000
	return Result{
		Value:   float(seconds),
		Details: details,
	}, nil
}

// CertificateProbe TLS 证书探测
type CertificateProbe struct {
	timeout time.Duration
	now     func() time.Time
}

func NewCertificateProbe(timeout time.Duration) *CertificateProbe {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CertificateProbe{timeout: timeout, now: time.Now}
}

func (p *CertificateProbe) Kind() Kind {
	return KindCertificate
}

func (p *CertificateProbe) Execute(ctx context.Context, target Target) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	host := target.Host()
	addr := net.JoinHostPort(host, "443")
	dialer := &tls.Dialer{
		Config: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: true,
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return Result{ProblemDetected: true, Details: "No certificate found"}, nil
	}
	cert := certs[0]
	daysLeft := math.Floor(cert.NotAfter.Sub(p.now()).Hours() / 24)
	state := "OK"
	switch {
	case daysLeft < 0:
		state = "EXPIRED"
	case daysLeft <= 30:
		state = "WARNING"
	}
	return Result{
		ProblemDetected: daysLeft < 0,
		Value:           float(daysLeft),
		Details: fmt.Sprintf("CN: %s, Issuer: %s, Expires %s, in %.0f days (%s)",
			cert.Subject.CommonName, cert.Issuer.CommonName, cert.NotAfter.Format("2006-01-02"), daysLeft, state),
	}, nil
}
