package scrape

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"
)

// Classify maps a fetch error to a FailureKind and a human-readable reason.
// Deadline errors take precedence so a transport that surfaces its own
// timeout error and one that is cut off by ctx are reported the same way.
func Classify(err error) (FailureKind, string) {
	if err == nil {
		return "", ""
	}
	reason := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout, reason
	case errors.Is(err, context.Canceled):
		return FailureCanceled, reason
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout, reason
	}

	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
	)
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return FailureConnection, reason
	}

	var (
		headerErr tls.RecordHeaderError
		unknownCA x509.UnknownAuthorityError
		hostErr   x509.HostnameError
		certErr   x509.CertificateInvalidError
		urlErr    *url.Error
	)
	switch {
	case errors.As(err, &headerErr),
		errors.As(err, &unknownCA),
		errors.As(err, &hostErr),
		errors.As(err, &certErr),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &urlErr):
		return FailureProtocol, reason
	}
	return FailureFetcher, reason
}
