package broker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ov-project/govmd/internal/model"
)

// HTTPConnector is a scoped mTLS HTTP client bound to one scanner and,
// once known, one in-progress scan_id (spec §4.B open_http_scanner: "mTLS
// HTTP client; scan_id may be null at discovery time").
type HTTPConnector struct {
	Client  *http.Client
	BaseURL string
	ScanID  string
}

func (c *HTTPConnector) Close() error {
	c.Client.CloseIdleConnections()
	return nil
}

// OpenHTTPScanner builds an mTLS-capable HTTP client for an HTTP-Scanner
// backend. scanID may be empty when the connector is being opened purely
// for discovery (get_status polling before a scan has been created).
func (b *Broker) OpenHTTPScanner(ctx context.Context, scanner model.Scanner, scanID string) (*HTTPConnector, error) {
	host, port, ca := scanner.Host, scanner.Port, scanner.CACert
	if b.Relay != nil {
		resolved, err := b.Relay.Resolve(ctx, host, port, ca, "HTTP")
		if err != nil {
			return nil, err
		}
		host, port, ca = resolved.Host, resolved.Port, resolved.CACert
	}

	tlsCfg, err := clientTLSConfig(ca, scanner.ClientCert, scanner.ClientKey)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{TLSClientConfig: tlsCfg, TLSHandshakeTimeout: 10 * time.Second}
	scheme := "http"
	if tlsCfg != nil {
		scheme = "https"
	}

	return &HTTPConnector{
		Client:  &http.Client{Transport: transport, Timeout: 30 * time.Second},
		BaseURL: fmt.Sprintf("%s://%s:%d", scheme, host, port),
		ScanID:  scanID,
	}, nil
}
