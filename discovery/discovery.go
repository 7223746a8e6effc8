// Package discovery walks the catalog's two-level category tree and
// collects every product reference reachable through paginated listing
// pages. Category metadata lives in static HTML and is fetched with a
// plain collector; the listing pages render client-side and go through
// the shared browser session.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/metrics"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

const (
	navMenuSelector       = "aside.hnf-mobile-menu--hidden script"
	accordionItemSelector = "nav.vn-nav div.vn-accordion__item"
	totalCountSelector    = "div.catalog-product-list__total-count"
	listContainerSelector = ".plp-product-list__products"
	productCardSelector   = ".plp-fragment-wrapper"
	cardLinkSelector      = ".plp-mastercard__item.plp-mastercard__price a"
)

// Discoverer produces the ordered product reference list for a site.
type Discoverer struct {
	cfg       *config.Config
	collector *colly.Collector
	metrics   *metrics.Metrics
}

// New builds a discoverer with a collector configured from cfg.
func New(cfg *config.Config, m *metrics.Metrics) (*Discoverer, error) {
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.HTTPTimeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.HTTPTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	})

	return &Discoverer{
		cfg:       cfg,
		collector: collector,
		metrics:   m,
	}, nil
}

// Run walks the whole category tree and returns every discovered product
// reference in traversal order. The session is owned by Run for the whole
// call; the caller closes it.
func (d *Discoverer) Run(ctx context.Context, sess browser.Session) ([]models.ProductRef, *models.DiscoveryResult, error) {
	result := &models.DiscoveryResult{StartTime: time.Now()}

	categoriesURL, err := d.CategoriesURL(d.cfg.BaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("locate categories page: %w", err)
	}

	categories, err := d.Categories(categoriesURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse categories: %w", err)
	}
	if len(categories) == 0 {
		return nil, nil, fmt.Errorf("no categories found at %s", categoriesURL)
	}
	result.Categories = len(categories)

	totals := make([]int, len(categories))
	for i, category := range categories {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		total, err := d.CategoryTotal(category.URL)
		if err != nil {
			slog.Warn("category total unavailable",
				slog.String("category", category.Name),
				slog.Any("error", err),
			)
			continue
		}
		totals[i] = total
		result.ExpectedTotal += total
	}
	slog.Info("categories collected",
		slog.Int("categories", len(categories)),
		slog.Int("expected_products", result.ExpectedTotal),
	)

	// Warm up the session on the first category so the cookie banner is
	// dealt with once, before any listing page is parsed.
	if err := sess.Navigate(ctx, categories[0].URL); err != nil {
		return nil, nil, fmt.Errorf("warm up session: %w", err)
	}
	sess.AcceptCookieBanner(ctx)

	var refs []models.ProductRef
	for i, category := range categories {
		pages := PageCount(totals[i])
		for page := 1; page <= pages; page++ {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}

			pageRefs, found := d.listingPage(ctx, sess, category, page)
			if !found {
				result.SkippedPages++
				continue
			}
			refs = append(refs, pageRefs...)
			result.Discovered += len(pageRefs)
			d.metrics.AddRefs(len(pageRefs))

			slog.Debug("listing page scraped",
				slog.String("category", category.Name),
				slog.Int("page", page),
				slog.Int("discovered", result.Discovered),
				slog.Int("expected", result.ExpectedTotal),
			)
		}
		slog.Info("category scraped",
			slog.String("category", category.Name),
			slog.Int("discovered", result.Discovered),
			slog.Int("expected", result.ExpectedTotal),
		)
	}

	result.EndTime = time.Now()
	return refs, result, nil
}

// CategoriesURL fetches the site root and pulls the categories-index URL
// out of the embedded navigation JSON block.
func (d *Discoverer) CategoriesURL(rootURL string) (string, error) {
	var (
		found    string
		parseErr error
	)

	c := d.newClone()
	c.OnHTML(navMenuSelector, func(e *colly.HTMLElement) {
		if found != "" || parseErr != nil {
			return
		}
		url, err := parseNavMenu(e.Text)
		if err != nil {
			parseErr = err
			return
		}
		found = url
	})

	if err := d.visit(c, rootURL); err != nil {
		return "", err
	}
	if parseErr != nil {
		return "", parseErr
	}
	if found == "" {
		return "", fmt.Errorf("navigation menu block not found at %s", rootURL)
	}
	return found, nil
}

// Categories parses the two-level navigation structure on the categories
// index page. A child whose URL equals its parent's see-all URL is a
// duplicate entry and is skipped.
func (d *Discoverer) Categories(categoriesURL string) ([]models.Category, error) {
	var categories []models.Category

	c := d.newClone()
	c.OnHTML(accordionItemSelector, func(e *colly.HTMLElement) {
		subName := strings.TrimSpace(e.ChildText("h2 button span"))
		subURL := e.ChildAttr("a", "href")

		e.ForEach("ul li a", func(_ int, child *colly.HTMLElement) {
			childURL := child.Attr("href")
			if childURL == "" || childURL == subURL {
				return
			}
			categories = append(categories, models.Category{
				SubCategoryName: subName,
				Name:            strings.TrimSpace(child.Text),
				URL:             childURL,
			})
		})
	})

	if err := d.visit(c, categoriesURL); err != nil {
		return nil, err
	}
	return categories, nil
}

// CategoryTotal reads the reported item count from a category's listing
// page. The count rendering mixes the total with other numeric words, so
// the last integer token wins.
func (d *Discoverer) CategoryTotal(categoryURL string) (int, error) {
	total := -1

	c := d.newClone()
	c.OnHTML(totalCountSelector, func(e *colly.HTMLElement) {
		if n, err := lastInt(e.Text); err == nil {
			total = n
		}
	})

	if err := d.visit(c, categoryURL); err != nil {
		return 0, err
	}
	if total < 0 {
		return 0, fmt.Errorf("total count not found at %s", categoryURL)
	}
	return total, nil
}

// listingPage renders one paginated listing page and extracts the product
// card anchors. A page whose list container is missing is retried up to
// cfg.PageRetries times, then reported as not found; its products are an
// accepted gap counted against the expected total.
func (d *Discoverer) listingPage(ctx context.Context, sess browser.Session, category models.Category, page int) ([]models.ProductRef, bool) {
	pageURL := fmt.Sprintf("%s?page=%d", category.URL, page)

	for attempt := 0; attempt <= d.cfg.PageRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, false
		}

		start := time.Now()
		if err := sess.Navigate(ctx, pageURL); err != nil {
			slog.Warn("listing page navigation failed",
				slog.String("url", pageURL),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err),
			)
			d.metrics.IncError("navigation")
			continue
		}
		d.metrics.IncRequest("listing")
		d.metrics.ObserveDuration(time.Since(start))

		html, err := sess.HTML(ctx)
		if err != nil {
			slog.Warn("listing page capture failed",
				slog.String("url", pageURL),
				slog.Any("error", err),
			)
			d.metrics.IncError("navigation")
			continue
		}

		refs, found := parseListing(html, category)
		if found {
			return refs, true
		}
		slog.Warn("product list container missing",
			slog.String("url", pageURL),
			slog.Int("attempt", attempt+1),
		)
	}

	d.metrics.IncError("missing_container")
	return nil, false
}

func parseListing(html string, category models.Category) ([]models.ProductRef, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false
	}

	container := doc.Find(listContainerSelector).First()
	if container.Length() == 0 {
		return nil, false
	}

	var refs []models.ProductRef
	container.Find(productCardSelector).Each(func(_ int, card *goquery.Selection) {
		href, ok := card.Find(cardLinkSelector).First().Attr("href")
		if !ok || href == "" {
			return
		}
		refs = append(refs, models.ProductRef{
			URL:         href,
			Category:    category.Name,
			SubCategory: category.SubCategoryName,
		})
	})
	return refs, true
}

func parseNavMenu(raw string) (string, error) {
	var payload struct {
		Primary []struct {
			Link string `json:"link"`
		} `json:"primary"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", fmt.Errorf("parse navigation block: %w", err)
	}
	if len(payload.Primary) == 0 || payload.Primary[0].Link == "" {
		return "", fmt.Errorf("navigation block has no primary link")
	}
	return payload.Primary[0].Link, nil
}

// PageCount computes how many listing pages a category spans: the site
// shows 12 items on page 1 and 48 on every page after.
func PageCount(totalItems int) int {
	pages := int(math.Ceil(float64(totalItems-12)/48)) + 1
	if pages < 1 {
		return 1
	}
	return pages
}

func lastInt(text string) (int, error) {
	last := 0
	found := false
	for _, field := range strings.Fields(text) {
		if n, err := strconv.Atoi(field); err == nil {
			last = n
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("no integer token in %q", text)
	}
	return last, nil
}

func (d *Discoverer) newClone() *colly.Collector {
	c := d.collector.Clone()
	c.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		d.metrics.IncError(errorTypeLabel(classifyError(err, statusCode)))
	})
	c.OnResponse(func(r *colly.Response) {
		d.metrics.IncRequest("metadata")
	})
	return c
}

// visit fetches url with one bounded retry per cfg.PageRetries; category
// metadata pages are cheap static fetches and transient failures clear
// quickly.
func (d *Discoverer) visit(c *colly.Collector, url string) error {
	var err error
	for attempt := 0; attempt <= d.cfg.PageRetries; attempt++ {
		if err = c.Visit(url); err == nil {
			return nil
		}
		slog.Debug("metadata fetch failed",
			slog.String("url", url),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)
	}
	return fmt.Errorf("fetch %s: %w", url, err)
}
