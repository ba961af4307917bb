package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"

	"concierge/pkg/logging"
)

const (
	defaultPageOneCap = 15
	defaultMaxItems   = 20
	defaultMinCount   = 20
	maxListingBytes   = 10 << 20 // 10 MB
)

// Item is one job listing extracted from the listings site.
type Item struct {
	Title      string `json:"title"`
	Link       string `json:"link"`
	Company    string `json:"company"`
	PostedTime string `json:"posted_time"`
}

// PageRenderer renders JavaScript-heavy pages via a headless browser.
type PageRenderer interface {
	Render(ctx context.Context, pageURL string) (htmlContent string, err error)
	Close()
}

// Config configures a Fetcher. Renderer is optional; when nil the
// listing page is fetched with a plain HTTP GET.
type Config struct {
	ListingURL   string
	SnapshotPath string
	PageOneCap   int
	MaxItems     int
	MinCount     int
	Client       *http.Client
	Renderer     PageRenderer
	Logger       logging.Logger
}

// Fetcher scrapes the paginated listings site and keeps a JSON snapshot
// of the last non-empty result on disk.
type Fetcher struct {
	listingURL   string
	snapshotPath string
	pageOneCap   int
	maxItems     int
	minCount     int
	client       *http.Client
	renderer     PageRenderer
	logger       logging.Logger
	group        singleflight.Group
}

func NewFetcher(cfg Config) *Fetcher {
	f := &Fetcher{
		listingURL:   cfg.ListingURL,
		snapshotPath: cfg.SnapshotPath,
		pageOneCap:   cfg.PageOneCap,
		maxItems:     cfg.MaxItems,
		minCount:     cfg.MinCount,
		client:       cfg.Client,
		renderer:     cfg.Renderer,
		logger:       cfg.Logger,
	}
	if f.pageOneCap <= 0 {
		f.pageOneCap = defaultPageOneCap
	}
	if f.maxItems <= 0 {
		f.maxItems = defaultMaxItems
	}
	if f.minCount <= 0 {
		f.minCount = defaultMinCount
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 30 * time.Second}
	}
	return f
}

// Fetch scrapes page one, pulls page two when the first yields fewer
// than minCount items, caps the combined result at maxItems, and
// refreshes the snapshot when the result is non-empty. Scrape failures
// are logged and yield zero items rather than an error.
func (f *Fetcher) Fetch(ctx context.Context) []Item {
	items := f.fetchPage(ctx, 1)
	if len(items) < f.minCount {
		// The first page contributes at most pageOneCap items when a
		// second page is consulted.
		if len(items) > f.pageOneCap {
			items = items[:f.pageOneCap]
		}
		items = append(items, f.fetchPage(ctx, 2)...)
	}
	if len(items) > f.maxItems {
		items = items[:f.maxItems]
	}
	if len(items) > 0 {
		if err := f.writeSnapshot(items); err != nil {
			f.logger.WithError(err).Warn("Failed to write jobs snapshot")
		}
	}
	f.logger.WithField("count", len(items)).Info("Jobs listing fetch complete")
	return items
}

// Cached returns the snapshot contents, fetching fresh when no snapshot
// exists. Concurrent misses share a single fetch.
func (f *Fetcher) Cached(ctx context.Context) []Item {
	if items := f.readSnapshot(); len(items) > 0 {
		return items
	}
	v, _, _ := f.group.Do("fetch", func() (interface{}, error) {
		return f.Fetch(ctx), nil
	})
	items, _ := v.([]Item)
	return items
}

func (f *Fetcher) fetchPage(ctx context.Context, page int) []Item {
	pageURL := f.listingURL
	if page > 1 {
		sep := "?"
		if strings.Contains(pageURL, "?") {
			sep = "&"
		}
		pageURL = fmt.Sprintf("%s%spage=%d", pageURL, sep, page)
	}

	content, err := f.loadPage(ctx, pageURL)
	if err != nil {
		f.logger.WithError(err).WithField("page", page).Warn("Failed to load jobs listing page")
		return nil
	}
	items, err := ParseListing(content, f.listingURL)
	if err != nil {
		f.logger.WithError(err).WithField("page", page).Warn("Failed to parse jobs listing page")
		return nil
	}
	return items
}

func (f *Fetcher) loadPage(ctx context.Context, pageURL string) (string, error) {
	if f.renderer != nil {
		return f.renderer.Render(ctx, pageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pageURL, err)
	}
	return string(body), nil
}

func (f *Fetcher) writeSnapshot(items []Item) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.snapshotPath), ".jobs_*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.snapshotPath)
}

func (f *Fetcher) readSnapshot() []Item {
	data, err := os.ReadFile(f.snapshotPath)
	if err != nil {
		return nil
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		f.logger.WithError(err).Warn("Jobs snapshot is corrupt, ignoring")
		return nil
	}
	return items
}

// cardClasses identify one listing card on the jobs site.
var cardClasses = []string{"bg-white", "rounded-md", "shadow", "p-3", "w-full"}

// ParseListing extracts listing items from the rendered page HTML.
// Relative links are resolved against baseURL.
func ParseListing(content, baseURL string) ([]Item, error) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse listing HTML: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	var items []Item
	for _, card := range findAll(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasClasses(n, cardClasses...)
	}) {
		item := parseCard(card, base)
		if item.Title != "" && item.Link != "" {
			items = append(items, item)
		}
	}
	return items, nil
}

func parseCard(card *html.Node, base *url.URL) Item {
	var item Item

	if heading := findFirst(card, func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasClasses(n, "text-base", "font-semibold")
	}); heading != nil {
		if a := findFirst(heading, func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.Data == "a"
		}); a != nil {
			item.Title = collapse(textContent(a))
			if href := attr(a, "href"); href != "" {
				if ref, err := url.Parse(href); err == nil {
					item.Link = base.ResolveReference(ref).String()
				}
			}
		}
	}

	if icon := findFirst(card, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "i" && hasClasses(n, "fa-building")
	}); icon != nil {
		if a := ancestor(icon, "a"); a != nil {
			item.Company = collapse(textContent(a))
		}
	}

	if icon := findFirst(card, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "i" && hasClasses(n, "fa-clock")
	}); icon != nil {
		if span := ancestor(icon, "span"); span != nil {
			item.PostedTime = collapse(textContent(span))
		}
	}

	return item
}

func hasClasses(n *html.Node, classes ...string) bool {
	raw := attr(n, "class")
	if raw == "" {
		return false
	}
	have := make(map[string]bool)
	for _, c := range strings.Fields(raw) {
		have[c] = true
	}
	for _, c := range classes {
		if !have[c] {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findAll(root *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if pred(n) {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func findFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	var walk func(*html.Node) *html.Node
	walk = func(n *html.Node) *html.Node {
		if pred(n) {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if found := walk(c); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(root)
}

func ancestor(n *html.Node, tag string) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == tag {
			return p
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DigestText renders items as the daily jobs digest message.
func DigestText(items []Item) string {
	if len(items) == 0 {
		return "لا توجد وظائف جديدة حالياً، حاول لاحقاً."
	}
	var b strings.Builder
	b.WriteString("💼 أحدث الوظائف:\n")
	for i, item := range items {
		fmt.Fprintf(&b, "\n*%d* - %s", i+1, item.Title)
		if item.Company != "" {
			fmt.Fprintf(&b, "\n🏢 %s", item.Company)
		}
		if item.PostedTime != "" {
			fmt.Fprintf(&b, "\n🕐 %s", item.PostedTime)
		}
		if item.Link != "" {
			fmt.Fprintf(&b, "\n🔗 %s", item.Link)
		}
		if i < len(items)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
