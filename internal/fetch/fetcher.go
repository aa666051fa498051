// Package fetch crawls configured article pages and writes their readable
// text into the data directory for the ingestor to pick up. A scheduler runs
// the fetch/ingest/relocate cycle periodically.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"
)

const (
	userAgent      = "intrachat-fetcher/1.0"
	requestTimeout = 30 * time.Second
)

// unsafeFileChars are stripped from article titles before they become file
// names.
var unsafeFileChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// Fetcher crawls article list pages and saves each linked article as a .txt
// file under the data directory.
type Fetcher struct {
	dataDir string
	sources []string
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher. sources are list-page URLs; every same-host
// link found on a list page is treated as an article candidate.
func NewFetcher(dataDir string, sources []string, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		dataDir: dataDir,
		sources: sources,
		logger:  logger,
	}
}

// Run crawls every configured source and returns the number of articles
// saved. Per-source failures are logged and do not stop the other sources.
func (f *Fetcher) Run(ctx context.Context) (int, error) {
	if err := os.MkdirAll(f.dataDir, 0o750); err != nil {
		return 0, fmt.Errorf("creating data directory: %w", err)
	}

	total := 0
	for _, source := range f.sources {
		n, err := f.fetchSource(ctx, source)
		if err != nil {
			f.logger.Warn("fetching source failed", "source", source, "error", err)
			continue
		}
		f.logger.Info("source fetched", "source", source, "articles", n)
		total += n
	}
	return total, nil
}

// fetchSource crawls one list page: collects article links, downloads each
// article and saves its readable text.
func (f *Fetcher) fetchSource(ctx context.Context, listURL string) (int, error) {
	lists := colly.NewCollector(colly.UserAgent(userAgent))
	lists.SetRequestTimeout(requestTimeout)

	articles := lists.Clone()

	// Abort in-flight crawling once the context is canceled.
	abortOnCancel := func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	}
	lists.OnRequest(abortOnCancel)
	articles.OnRequest(abortOnCancel)

	var mu sync.Mutex
	saved := 0

	lists.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" || !sameHost(link, e.Request.URL.Host) {
			return
		}
		if link == listURL {
			return
		}
		// The collector dedups revisits.
		_ = articles.Visit(link)
	})

	articles.OnResponse(func(r *colly.Response) {
		title, text, err := extractArticle(r.Body, r.Request.URL.String())
		if err != nil {
			f.logger.Warn("extracting article failed", "url", r.Request.URL, "error", err)
			return
		}
		if strings.TrimSpace(text) == "" {
			f.logger.Debug("skipping empty article", "url", r.Request.URL)
			return
		}

		path, err := f.save(title, text)
		if err != nil {
			f.logger.Warn("saving article failed", "url", r.Request.URL, "error", err)
			return
		}
		f.logger.Debug("article saved", "url", r.Request.URL, "path", path)

		mu.Lock()
		saved++
		mu.Unlock()
	})

	if err := lists.Visit(listURL); err != nil {
		return 0, fmt.Errorf("visiting %s: %w", listURL, err)
	}
	lists.Wait()
	articles.Wait()

	return saved, ctx.Err()
}

// save writes the article text under the data directory, with the sanitized
// title as the file name.
func (f *Fetcher) save(title, text string) (string, error) {
	name := strings.TrimSpace(unsafeFileChars.ReplaceAllString(title, "_"))
	if name == "" {
		name = fmt.Sprintf("article-%d", time.Now().UnixNano())
	}

	path := filepath.Join(f.dataDir, name+".txt")
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// extractArticle pulls the readable text and a title out of an article page.
// Falls back to the document <title> when readability finds none.
func extractArticle(body []byte, pageURL string) (title, text string, err error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", "", fmt.Errorf("parsing page url: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return "", "", fmt.Errorf("parsing article: %w", err)
	}

	title = strings.TrimSpace(article.Title)
	if title == "" {
		if doc, docErr := goquery.NewDocumentFromReader(bytes.NewReader(body)); docErr == nil {
			title = strings.TrimSpace(doc.Find("title").First().Text())
		}
	}
	if title == "" {
		title = pageURL
	}

	return title, article.TextContent, nil
}

func sameHost(link, host string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return u.Host == host
}
