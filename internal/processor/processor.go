// Package processor turns fetched HTML into clean text, page metadata,
// and outbound links.
package processor

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/mfenderov/reg-rag/pkg/models"
	"golang.org/x/net/html"
)

// structuralTags holds non-content elements removed before text extraction.
const structuralTags = "nav, footer, script, style, header, aside"

// Config holds processor configuration.
type Config struct {
	Domain      string // Registrable domain recorded in page metadata
	ContentType string // Content label recorded in page metadata
	Markdown    bool   // Emit Markdown instead of newline-separated text
}

// Result is the outcome of processing a single HTML page.
type Result struct {
	Text     string
	Metadata models.PageMetadata
	Links    []string // Raw href values, unresolved, in document order
}

// Processor extracts content from HTML pages.
type Processor struct {
	config Config
}

// New creates a new HTML processor.
func New(config Config) *Processor {
	return &Processor{config: config}
}

// Process parses htmlContent fetched from pageURL.
// Metadata is read before structural tags are stripped; text and links
// come from the stripped document.
func (p *Processor) Process(pageURL, htmlContent string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	meta := p.ExtractMetadata(doc, pageURL)

	doc.Find(structuralTags).Remove()

	var text string
	if p.config.Markdown {
		cleaned, err := doc.Html()
		if err != nil {
			return nil, fmt.Errorf("failed to render cleaned HTML: %w", err)
		}
		text, err = Convert(cleaned)
		if err != nil {
			return nil, err
		}
	} else {
		text = VisibleText(doc.Nodes...)
	}

	return &Result{
		Text:     text,
		Metadata: meta,
		Links:    Links(doc),
	}, nil
}

// ExtractMetadata reads title, first h1, and meta description for citations.
// The page title falls back to the h1 when <title> is empty.
func (p *Processor) ExtractMetadata(doc *goquery.Document, pageURL string) models.PageMetadata {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	h1 := strings.TrimSpace(doc.Find("h1").First().Text())
	desc, _ := doc.Find(`meta[name="description"]`).First().Attr("content")

	if title == "" {
		title = h1
	}

	return models.PageMetadata{
		SourceURL:       pageURL,
		PageTitle:       title,
		SectionHeading:  h1,
		MetaDescription: desc,
		Domain:          p.config.Domain,
		ContentType:     p.config.ContentType,
	}
}

// Links returns the href attribute of every anchor in document order.
func Links(doc *goquery.Document) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && strings.TrimSpace(href) != "" {
			links = append(links, strings.TrimSpace(href))
		}
	})
	return links
}

// VisibleText joins every non-blank text node with newlines,
// trimming each one. Comments are skipped.
func VisibleText(nodes ...*html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(parts, "\n")
}

// Convert transforms HTML content into Markdown.
func Convert(htmlContent string) (string, error) {
	if htmlContent == "" {
		return "", nil
	}

	markdown, err := htmltomarkdown.ConvertString(htmlContent)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}

	return strings.TrimSpace(markdown), nil
}
