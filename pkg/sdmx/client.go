package sdmx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	// AcceptStructure requests SDMX-ML 2.1 structure messages.
	AcceptStructure = "application/vnd.sdmx.structure+xml;version=2.1"
	// AcceptAny is used for opaque data exports that are persisted verbatim.
	AcceptAny = "*/*"

	defaultTimeout = 60 * time.Second
)

// Client is a minimal HTTP client for the SDMX registry endpoints used by this module.
//
// It performs exactly one request per call. Failed calls are never retried.
type Client struct {
	http      *http.Client
	userAgent string
}

// ClientConfig controls NewClient.
type ClientConfig struct {
	// Timeout bounds each request end to end. Zero means 60s.
	Timeout time.Duration
	// CAPath is an optional PEM bundle that should be trusted for TLS.
	CAPath    string
	UserAgent string
}

// NewClient constructs a registry client.
func NewClient(cfg ClientConfig) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc, err := newHTTPClient(cfg.CAPath, timeout)
	if err != nil {
		return nil, err
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = "sdmx-dataflow-sync"
	}
	return &Client{http: hc, userAgent: ua}, nil
}

func newHTTPClient(caPath string, timeout time.Duration) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(caPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(caPath))
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse CA bundle PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// GetCatalog downloads the raw dataflow catalog document.
func (c *Client) GetCatalog(ctx context.Context, catalogURL string) ([]byte, error) {
	return c.get(ctx, "getCatalog", catalogURL, AcceptStructure)
}

// Download fetches an opaque artifact (data export or structure document).
func (c *Client) Download(ctx context.Context, op, rawURL string) ([]byte, error) {
	return c.get(ctx, op, rawURL, AcceptAny)
}

func (c *Client) get(ctx context.Context, op, rawURL, accept string) ([]byte, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError(op, resp, b)
	}
	return b, nil
}

func parseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("url must include a scheme and host (got %q)", raw)
	}
	return u, nil
}

// ExpandTemplate substitutes {agency_id}, {dataflow_id} and {version} placeholders.
// Values are path-escaped.
func ExpandTemplate(tmpl string, df Dataflow) string {
	r := strings.NewReplacer(
		"{agency_id}", url.PathEscape(df.AgencyID),
		"{dataflow_id}", url.PathEscape(df.ID),
		"{version}", url.PathEscape(df.Version),
	)
	return r.Replace(strings.TrimSpace(tmpl))
}
