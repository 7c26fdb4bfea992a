package scraper

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Scope decides which discovered links belong to a crawl.
type Scope struct {
	Site   string // Registrable domain of the crawled site (e.g., "osha.gov")
	Prefix string // Required path prefix (e.g., "/laws-regs")
}

// NewScope builds a Scope from the crawl's start URL and allow-prefix.
func NewScope(startURL *url.URL, prefix string) Scope {
	return Scope{
		Site:   RegistrableDomain(startURL.Hostname()),
		Prefix: prefix,
	}
}

// Filter resolves hrefs against pageURL and keeps the in-scope ones.
// A link is kept when it is http(s), on the same registrable domain,
// under the path prefix, and carries no fragment. Duplicates within
// hrefs are dropped; the result keeps first-seen order.
func (s Scope) Filter(pageURL *url.URL, hrefs []string) []string {
	var links []string
	seen := make(map[string]bool)

	for _, href := range hrefs {
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		resolved := pageURL.ResolveReference(ref)

		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		if resolved.Fragment != "" || strings.HasSuffix(href, "#") {
			continue
		}
		if !s.Contains(resolved) {
			continue
		}

		link := resolved.String()
		if seen[link] {
			continue
		}
		seen[link] = true
		links = append(links, link)
	}

	return links
}

// Contains reports whether u is on the site and under the prefix.
func (s Scope) Contains(u *url.URL) bool {
	if RegistrableDomain(u.Hostname()) != s.Site {
		return false
	}
	return strings.HasPrefix(u.Path, s.Prefix)
}

// RegistrableDomain returns the eTLD+1 of host ("www.osha.gov" -> "osha.gov").
// IP addresses and hosts without a public suffix are returned unchanged.
func RegistrableDomain(host string) string {
	host = strings.ToLower(host)
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
