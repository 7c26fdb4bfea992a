// Package robots decides whether a site's robots.txt permits a crawl.
//
// The gate fails open: an unreachable, non-200, or unreadable robots.txt
// allows the crawl, and the decision is logged.
package robots

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config holds robots gate configuration.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Gate fetches robots.txt and evaluates Disallow rules for the `*` agent.
type Gate struct {
	config     Config
	httpClient *http.Client
}

// New creates a new Gate with the given configuration.
func New(config Config) *Gate {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &Gate{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// IsAllowed reports whether pathPrefix may be crawled on baseURL.
func (g *Gate) IsAllowed(ctx context.Context, baseURL, pathPrefix string) bool {
	robotsURL := strings.TrimSuffix(baseURL, "/") + "/robots.txt"

	body, err := g.fetch(ctx, robotsURL)
	if err != nil {
		slog.Warn("robots.txt unavailable, proceeding with crawl", "url", robotsURL, "error", err)
		return true
	}
	if body == nil {
		slog.Info("no robots.txt found, crawling allowed", "url", robotsURL)
		return true
	}

	rules, err := Parse(strings.NewReader(string(body)))
	if err != nil {
		slog.Warn("failed to parse robots.txt, proceeding with crawl", "url", robotsURL, "error", err)
		return true
	}

	if prefix, blocked := rules.Blocks(pathPrefix); blocked {
		slog.Warn("path disallowed by robots.txt", "path", pathPrefix, "rule", prefix)
		return false
	}

	slog.Info("robots.txt allows crawl", "path", pathPrefix, "disallow_rules", len(rules.Disallow))
	return true
}

// fetch returns the robots.txt body, or nil when the server did not reply 200.
func (g *Gate) fetch(ctx context.Context, robotsURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", g.config.UserAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}

// Rules holds the Disallow prefixes that apply to the `*` agent.
type Rules struct {
	Disallow []string
}

// Blocks reports whether path starts with any Disallow prefix,
// returning the first matching prefix.
func (r Rules) Blocks(path string) (string, bool) {
	for _, prefix := range r.Disallow {
		if strings.HasPrefix(path, prefix) {
			return prefix, true
		}
	}
	return "", false
}

// Parse reads robots.txt line by line.
// Consecutive User-agent lines form one group; a group applies when any
// of its agents is `*`. Empty Disallow values are ignored.
func Parse(r io.Reader) (Rules, error) {
	var rules Rules
	applies := false
	inAgentRun := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx != -1 {
			line = line[:idx]
		}
		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		value = strings.TrimSpace(value)

		switch field {
		case "user-agent":
			if !inAgentRun {
				applies = false
			}
			inAgentRun = true
			if value == "*" {
				applies = true
			}
		case "disallow":
			inAgentRun = false
			if applies && value != "" {
				rules.Disallow = append(rules.Disallow, value)
			}
		default:
			inAgentRun = false
		}
	}
	if err := scanner.Err(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}
