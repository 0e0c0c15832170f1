// Package broker implements the Connection Broker (spec §4.B): opening
// sessions to scanner backends, with optional relay resolution via an
// external mapper executable. Every Open call dials a new session;
// sessions are not pooled or reused.
package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"github.com/ov-project/govmd/internal/apperror"
	"github.com/ov-project/govmd/internal/model"
)

// Broker opens scoped scanner sessions. Every successful Open* must be
// paired with Close on every exit path (spec §4.B invariant); callers are
// expected to `defer session.Close()` immediately after a successful open.
type Broker struct {
	// ConnectRetry bounds open_osp's retry loop (scanner_connection_retry).
	ConnectRetry int
	// RetrySpacing is the delay between retries (spec: "1 s spacing").
	RetrySpacing time.Duration
	Relay        *RelayResolver
}

func New(connectRetry int, relay *RelayResolver) *Broker {
	if connectRetry < 0 {
		connectRetry = 0
	}
	return &Broker{ConnectRetry: connectRetry, RetrySpacing: time.Second, Relay: relay}
}

// Session is a scoped, closable connection to a scanner.
type Session interface {
	Close() error
}

// ospSession wraps a TLS (or plain TCP, for UNIX-socket deployments the
// caller dials a unix address the same way) stream to an OSP scanner.
type ospSession struct {
	conn net.Conn
}

func (s *ospSession) Close() error { return s.conn.Close() }

// Conn exposes the underlying net.Conn for the OSP dispatch variant to
// frame XML envelopes over.
func (s *ospSession) Conn() net.Conn { return s.conn }

// OpenOSP opens a TLS (or unix-socket) stream to scanner, retrying up to
// ConnectRetry times with RetrySpacing between attempts (spec §4.B).
func (b *Broker) OpenOSP(ctx context.Context, scanner model.Scanner) (*ospSession, error) {
	host, port, ca := scanner.Host, scanner.Port, scanner.CACert
	if b.Relay != nil {
		resolved, err := b.Relay.Resolve(ctx, host, port, ca, "OSP")
		if err != nil {
			return nil, err
		}
		host, port, ca = resolved.Host, resolved.Port, resolved.CACert
	}

	var lastErr error
	attempts := b.ConnectRetry + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, apperror.Wrap(apperror.ScannerUnreachable, "context cancelled during retry", ctx.Err())
			case <-time.After(b.RetrySpacing):
			}
		}
		conn, err := dialScanner(ctx, scanner, host, port, ca)
		if err == nil {
			return &ospSession{conn: conn}, nil
		}
		lastErr = err
	}
	return nil, apperror.Wrap(apperror.ScannerUnreachable,
		fmt.Sprintf("opening OSP session to %s after %d attempts", scanner.UUID, attempts), lastErr)
}

func dialScanner(ctx context.Context, scanner model.Scanner, host string, port int, caPEM string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	network, addr := "tcp", fmt.Sprintf("%s:%d", host, port)
	if scanner.UnixSocket != "" {
		network, addr = "unix", scanner.UnixSocket
	}

	tlsCfg, err := clientTLSConfig(caPEM, scanner.ClientCert, scanner.ClientKey)
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return dialer.DialContext(ctx, network, addr)
	}

	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsCfg}
	return tlsDialer.DialContext(ctx, network, addr)
}

// clientTLSConfig builds an mTLS config from PEM-encoded material. A
// scanner with no CA/cert configured (common for the UNIX-socket
// deployment shape) gets a nil config, meaning dial plaintext.
func clientTLSConfig(caPEM, certPEM, keyPEM string) (*tls.Config, error) {
	if caPEM == "" && certPEM == "" {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caPEM != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(caPEM)) {
			return nil, apperror.New(apperror.ScannerProtocol, "invalid CA certificate")
		}
		cfg.RootCAs = pool
	}
	if certPEM != "" && keyPEM != "" {
		cert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
		if err != nil {
			return nil, apperror.Wrap(apperror.ScannerProtocol, "invalid client certificate/key", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
