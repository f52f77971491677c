package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pbaille/nexusdiet/internal/domain"
)

const (
	fetchTimeout = 30 * time.Second
	// MaxBodyBytes caps downloaded and ingested documents
	MaxBodyBytes = 5 << 20
	userAgent    = "nexusdiet/1.0 (reading-diet)"
)

// Client downloads pages for extraction
var Client = &http.Client{Timeout: fetchTimeout}

// Fetch downloads rawURL and extracts it
func Fetch(ctx context.Context, rawURL string) (domain.PageRecord, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return domain.PageRecord{}, err
	}

	body, err := download(ctx, u)
	if err != nil {
		return domain.PageRecord{}, err
	}
	return FromHTML(u, body)
}

// NormalizeURL defaults the scheme to https and rejects anything but http(s)
func NormalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid URL: missing host")
	}
	return u.String(), nil
}

// IsURL checks if a string looks like a URL
func IsURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "www.")
}

func download(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}
