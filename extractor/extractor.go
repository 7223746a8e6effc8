// Package extractor turns one product page into a sparse metadata record.
// It drives the shared browser session through a fixed visit sequence:
// the base page, then one pass per expandable panel present. Every field
// is extracted best-effort; only navigation failures surface as errors so
// the runner can retry the whole product.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/metrics"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

// ErrAlreadySeen reports a product whose identifier was scraped earlier
// in the run. The extractor bails out before any section work.
var ErrAlreadySeen = errors.New("extractor: product already scraped")

// SeenFunc reports whether a product identifier was already scraped.
type SeenFunc func(productID string) bool

// Extractor assembles product records from rendered pages.
type Extractor struct {
	cfg     *config.Config
	http    *resty.Client
	metrics *metrics.Metrics
}

// New builds an extractor. The resty client is only used for image byte
// downloads; everything else goes through the browser session.
func New(cfg *config.Config, m *metrics.Metrics) *Extractor {
	client := resty.New().
		SetTimeout(cfg.HTTPTimeout).
		SetHeader("User-Agent", cfg.UserAgent)

	return &Extractor{
		cfg:     cfg,
		http:    client,
		metrics: m,
	}
}

// Extract visits ref.URL and assembles its record. It returns
// ErrAlreadySeen when seen reports the parsed identifier as a duplicate,
// and a navigation error when the base page cannot be loaded; both leave
// the session usable for the next product.
func (x *Extractor) Extract(ctx context.Context, sess browser.Session, ref models.ProductRef, seen SeenFunc) (*models.Product, error) {
	start := time.Now()
	doc, err := x.capture(ctx, sess, ref.URL)
	if err != nil {
		return nil, err
	}
	x.metrics.IncRequest("product")
	x.metrics.ObserveDuration(time.Since(start))

	product := &models.Product{
		URL:         ref.URL,
		Category:    ref.Category,
		SubCategory: ref.SubCategory,
	}

	if title, ok := extractTitle(doc); ok {
		product.Title = title
	}
	if subtitle, ok := extractSubtitle(doc); ok {
		product.Subtitle = subtitle
	}
	if price, ok := extractPrice(doc); ok {
		product.Price = price
	}
	if description, ok := extractDescription(doc); ok {
		product.Description = description
	}
	if id, ok := extractProductID(doc); ok {
		product.ProductID = id
	}
	if designer, ok := extractDesigner(doc); ok {
		product.Designer = designer
	}

	// Dedup check sits right after the identifier parse so a duplicate
	// costs one navigation, not four.
	if product.ProductID != "" && seen != nil && seen(product.ProductID) {
		return nil, ErrAlreadySeen
	}

	if product.ProductID != "" {
		if path, ok := x.fetchImage(ctx, doc, product.ProductID); ok {
			product.ImagePath = path
		}
	}

	hasDetails, hasIncluded, hasMeasurement := availableSections(doc)

	if hasDetails {
		// The details panel expands in place; no re-navigation needed.
		if expanded, ok := x.expand(ctx, sess, sectionDetails+" button"); ok {
			if details, ok := extractDetails(expanded); ok {
				product.Details = details
			}
		}
	}

	if hasIncluded {
		// The details click mutates page state, so start from a fresh
		// load before expanding the included-products panel.
		if expanded, ok := x.reopenAndExpand(ctx, sess, ref.URL, sectionIncluded+" button"); ok {
			if included, ok := extractIncluded(expanded); ok {
				product.Included = included
			}
		}
	}

	if hasMeasurement {
		if expanded, ok := x.reopenAndExpand(ctx, sess, ref.URL, sectionMeasurement+" button"); ok {
			if sizes, ok := extractSizes(expanded); ok {
				product.Sizes = sizes
			}
		}
	}

	return product, nil
}

func (x *Extractor) capture(ctx context.Context, sess browser.Session, url string) (*goquery.Document, error) {
	if err := sess.Navigate(ctx, url); err != nil {
		return nil, fmt.Errorf("load product page: %w", err)
	}
	return x.document(ctx, sess)
}

func (x *Extractor) document(ctx context.Context, sess browser.Session) (*goquery.Document, error) {
	html, err := sess.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture product page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse product page: %w", err)
	}
	return doc, nil
}

// expand clicks an expandable panel's toggle and recaptures the page.
// Any failure degrades to "section absent": the product is still
// produced.
func (x *Extractor) expand(ctx context.Context, sess browser.Session, selector string) (*goquery.Document, bool) {
	if err := sess.Click(ctx, selector); err != nil {
		slog.Debug("panel toggle failed",
			slog.String("selector", selector),
			slog.Any("error", err),
		)
		return nil, false
	}
	doc, err := x.document(ctx, sess)
	if err != nil {
		slog.Debug("panel recapture failed",
			slog.String("selector", selector),
			slog.Any("error", err),
		)
		return nil, false
	}
	return doc, true
}

func (x *Extractor) reopenAndExpand(ctx context.Context, sess browser.Session, url, selector string) (*goquery.Document, bool) {
	if err := sess.Navigate(ctx, url); err != nil {
		slog.Debug("panel re-navigation failed",
			slog.String("url", url),
			slog.Any("error", err),
		)
		return nil, false
	}
	return x.expand(ctx, sess, selector)
}

// fetchImage resolves the primary image to its high-resolution variant
// and writes it next to the other product images, named by identifier
// and original extension. Any failure yields an absent image field; image
// fetches are never retried.
func (x *Extractor) fetchImage(ctx context.Context, doc *goquery.Document, productID string) (string, bool) {
	src, ok := doc.Find(imageSelector).First().Attr("src")
	if !ok || src == "" {
		return "", false
	}

	base := strings.SplitN(src, "?", 2)[0]
	dot := strings.LastIndex(base, ".")
	if dot < 0 || dot == len(base)-1 {
		return "", false
	}
	extension := base[dot+1:]

	resp, err := x.http.R().SetContext(ctx).Get(base + "?f=xl")
	if err != nil {
		slog.Debug("image fetch failed", slog.String("url", base), slog.Any("error", err))
		return "", false
	}
	if resp.StatusCode() != http.StatusOK {
		return "", false
	}

	if err := os.MkdirAll(x.cfg.ImageDir, 0o755); err != nil {
		slog.Debug("image directory unavailable", slog.Any("error", err))
		return "", false
	}
	path := filepath.Join(x.cfg.ImageDir, productID+"."+extension)
	if err := os.WriteFile(path, resp.Body(), 0o644); err != nil {
		slog.Debug("image write failed", slog.String("path", path), slog.Any("error", err))
		return "", false
	}
	return path, true
}
