// Package remote fetches the contact list and nations list from the upstream source.
package remote

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/iase/mailmerge/internal/payload"
)

// DefaultTimeout bounds every remote request
const DefaultTimeout = 5 * time.Second

// maxBodyBytes caps remote payloads
const maxBodyBytes = 64 << 20

// ErrNotConfigured is returned when a URL needed for the request is empty
var ErrNotConfigured = errors.New("remote source not configured")

// Config for the remote client
type Config struct {
	ContactsURL     string
	NationsURL      string
	APIKey          string
	Timeout         time.Duration
	FallbackNations []string
}

// Client fetches contacts and nations over HTTP
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new remote client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With("component", "remote"),
	}
}

// get performs a GET and returns the body and its content type
func (c *Client) get(ctx context.Context, url string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json, text/csv;q=0.9, */*;q=0.5")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// FetchContacts downloads and decodes the remote contact payload
func (c *Client) FetchContacts(ctx context.Context) (*payload.Result, error) {
	if c.cfg.ContactsURL == "" {
		return nil, ErrNotConfigured
	}

	start := time.Now()
	data, contentType, err := c.get(ctx, c.cfg.ContactsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contacts: %w", err)
	}

	format := payload.ParseFormat(contentType)
	if format == payload.FormatAuto {
		format = payload.ParseFormat(urlPath(c.cfg.ContactsURL))
	}

	res, err := payload.Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to decode contacts: %w", err)
	}

	c.logger.Debug("contacts fetched",
		"bytes", len(data),
		"active", len(res.Payload.Contacts.Active),
		"deleted", len(res.Payload.Contacts.Deleted),
		"duration", time.Since(start),
	)
	return res, nil
}

// FetchNations downloads the one-column nations CSV
func (c *Client) FetchNations(ctx context.Context) ([]string, error) {
	if c.cfg.NationsURL == "" {
		return nil, ErrNotConfigured
	}

	data, _, err := c.get(ctx, c.cfg.NationsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nations: %w", err)
	}

	nations, err := ParseNations(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(nations) == 0 {
		return nil, fmt.Errorf("nations list is empty")
	}
	return nations, nil
}

// Nations returns the remote nations list, or the fallback list when it can't be
// fetched. The error reports why the fallback was used.
func (c *Client) Nations(ctx context.Context) ([]string, error) {
	nations, err := c.FetchNations(ctx)
	if err != nil {
		c.logger.Warn("using fallback nations", "error", err)
		return c.Fallback(), err
	}
	return nations, nil
}

// Fallback returns a copy of the configured fallback nations
func (c *Client) Fallback() []string {
	return append([]string(nil), c.cfg.FallbackNations...)
}

// ParseNations reads the first column of each row, skipping blanks, a
// header row and duplicates
func ParseNations(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var nations []string
	seen := make(map[string]bool)
	first := true

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse nations CSV: %w", err)
		}
		if len(record) == 0 {
			continue
		}

		v := strings.TrimSpace(strings.TrimPrefix(record[0], "\ufeff"))
		if first {
			first = false
			switch strings.ToLower(v) {
			case "nation", "nations", "na", "code":
				continue
			}
		}
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		nations = append(nations, v)
	}

	return nations, nil
}

func urlPath(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return u
}
