package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/metrics"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

func docFromHTML(t *testing.T, raw string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return doc
}

func priceHTML(wrapTag, integer, decimal string) string {
	return fmt.Sprintf(`<div class="pip-price-module__price"><div>
		<%[1]s><span class="notranslate">
			<span class="pip-price__nowrap"><span class="pip-price__integer">%[2]s</span></span>
			<span class="pip-price__decimal">%[3]s</span>
		</span></%[1]s>
	</div></div>`, wrapTag, integer, decimal)
}

func TestExtractPrice(t *testing.T) {
	tests := []struct {
		name   string
		html   string
		want   float64
		wantOK bool
	}{
		{name: "span variant", html: priceHTML("span", "199", "99"), want: 200.99, wantOK: true},
		{name: "em variant", html: priceHTML("em", "49", "0"), want: 49, wantOK: true},
		{name: "non-numeric integer", html: priceHTML("span", "gratis", "50"), want: 0.5, wantOK: true},
		{name: "non-numeric decimal", html: priceHTML("span", "120", "-"), want: 120, wantOK: true},
		{name: "both non-numeric", html: priceHTML("span", "x", "y"), want: 0, wantOK: true},
		{name: "no price block", html: "<div><p>sold out</p></div>", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractPrice(docFromHTML(t, tt.html))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("price = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractTitleAndSubtitle(t *testing.T) {
	page := `<h1 class="pip-price-module__name">
		<span class="pip-price-module__name-decorator notranslate">BILLY</span>
		<span class="pip-price-module__description"><span>Bookcase, <a href="/cat/">white</a></span></span>
	</h1>`
	doc := docFromHTML(t, page)

	title, ok := extractTitle(doc)
	if !ok || title != "BILLY" {
		t.Fatalf("title = (%q, %v)", title, ok)
	}

	// The description span's text already contains the link text, and the
	// link text is appended on top of it.
	subtitle, ok := extractSubtitle(doc)
	if !ok || subtitle != "Bookcase, whitewhite" {
		t.Fatalf("subtitle = (%q, %v)", subtitle, ok)
	}

	noLink := docFromHTML(t, `<h1 class="pip-price-module__name">
		<span class="pip-price-module__description"><span>Bookcase</span></span>
	</h1>`)
	if _, ok := extractSubtitle(noLink); ok {
		t.Fatalf("description span without a link should not yield a subtitle")
	}
}

func TestExtractDetails(t *testing.T) {
	page := `<div class="pip-product-details__container"><div>
		<p class="pip-product-details__label">Designer Name</p>
		<p class="pip-product-details__paragraph">Adjustable shelves.</p>
		<p class="pip-product-details__paragraph">Made of wood.</p>
	</div></div>
	<ul>
		<li id="product-details-good-to-know">Two people needed.</li>
		<li id="product-details-material-and-care">Wipe clean.</li>
	</ul>`
	doc := docFromHTML(t, page)

	details, ok := extractDetails(doc)
	if !ok {
		t.Fatalf("expected details")
	}
	if details["description"] != "Adjustable shelves.Made of wood." {
		t.Fatalf("description = %q", details["description"])
	}
	if details["good_to_know"] != "Two people needed." {
		t.Fatalf("good_to_know = %q", details["good_to_know"])
	}
	if details["material_and_care"] != "Wipe clean." {
		t.Fatalf("material_and_care = %q", details["material_and_care"])
	}
	if _, present := details["safety_and_compliance"]; present {
		t.Fatalf("absent subsection should not produce a key")
	}

	if _, ok := extractDetails(docFromHTML(t, "<div></div>")); ok {
		t.Fatalf("empty page should yield no details")
	}
}

func TestExtractIncludedSkipsIncompleteCards(t *testing.T) {
	card := func(title, measurement string) string {
		inner := ""
		if title != "" {
			inner += fmt.Sprintf(`<span class="pip-product-card__title">%s</span>`, title)
		}
		if measurement != "" {
			inner += fmt.Sprintf(`<span class="pip-product-card__measurement-text">%s</span>`, measurement)
		}
		return fmt.Sprintf(`<div class="pip-included-products__container">
			<div class="pip-product-card"><a class="pip-product-card__link pip-link">
				<div class="pip-product-card__info-container">%s</div>
			</a></div>
		</div>`, inner)
	}

	page := `<div class="pip-included-products__list">` +
		card("KALLAX frame", "77x147 cm") +
		card("", "30x30 cm") +
		card("KALLAX insert", "") +
		`</div>`

	items, ok := extractIncluded(docFromHTML(t, page))
	if !ok {
		t.Fatalf("expected included items")
	}
	if len(items) != 1 {
		t.Fatalf("items=%d, want 1: %+v", len(items), items)
	}
	if items[0].Title != "KALLAX frame" || items[0].Measurement != "77x147 cm" {
		t.Fatalf("item = %+v", items[0])
	}
}

func TestExtractSizesAndSections(t *testing.T) {
	page := `<ul>
		<li class="pip-chunky-header__details">Product details</li>
		<li class="pip-chunky-header__measurement">Measurements</li>
	</ul>
	<div class="pip-product-dimensions"><ul class="pip-product-dimensions__dimensions-container">
		<li>Width: 80 cm</li>
		<li>Height: 202 cm</li>
	</ul></div>`
	doc := docFromHTML(t, page)

	sizes, ok := extractSizes(doc)
	if !ok || sizes != "Width: 80 cm\nHeight: 202 cm" {
		t.Fatalf("sizes = (%q, %v)", sizes, ok)
	}

	details, included, measurement := availableSections(doc)
	if !details || included || !measurement {
		t.Fatalf("sections = (%v, %v, %v), want (true, false, true)", details, included, measurement)
	}
}

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ImageDir = t.TempDir()
	return New(cfg, metrics.New())
}

func TestExtractProducesSparseRecord(t *testing.T) {
	ref := models.ProductRef{URL: "http://site.test/p/billy/", Category: "Bookcases", SubCategory: "Storage"}
	sess := &fakeSession{pages: map[string]string{
		ref.URL: `<html><body><h1 class="pip-price-module__name">
			<span class="pip-price-module__name-decorator notranslate">BILLY</span>
		</h1></body></html>`,
	}}

	product, err := newTestExtractor(t).Extract(context.Background(), sess, ref, nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	data, err := json.Marshal(product)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var record map[string]json.RawMessage
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	keys := make([]string, 0, len(record))
	for key := range record {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	want := []string{"category", "sub_category", "title", "url"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("record keys = %v, want %v", keys, want)
	}
}

func TestExtractSkipsDuplicateIdentifier(t *testing.T) {
	ref := models.ProductRef{URL: "http://site.test/p/billy/"}
	sess := &fakeSession{pages: map[string]string{
		ref.URL: `<html><body>
			<span class="pip-product-identifier__value">002.638.50</span>
		</body></html>`,
	}}

	seen := func(productID string) bool { return productID == "002.638.50" }

	_, err := newTestExtractor(t).Extract(context.Background(), sess, ref, seen)
	if !errors.Is(err, ErrAlreadySeen) {
		t.Fatalf("err = %v, want ErrAlreadySeen", err)
	}
}

func TestExtractSurvivesPanelFailure(t *testing.T) {
	ref := models.ProductRef{URL: "http://site.test/p/billy/"}
	sess := &fakeSession{
		pages: map[string]string{
			ref.URL: `<html><body>
				<h1 class="pip-price-module__name"><span class="pip-price-module__name-decorator notranslate">BILLY</span></h1>
				<ul><li class="pip-chunky-header__details">Product details</li></ul>
			</body></html>`,
		},
		clickErr: errors.New("element not found"),
	}

	product, err := newTestExtractor(t).Extract(context.Background(), sess, ref, nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if product.Title != "BILLY" {
		t.Fatalf("title = %q", product.Title)
	}
	if product.Details != nil {
		t.Fatalf("failed panel should leave details absent, got %v", product.Details)
	}
}

func TestExtractPropagatesNavigationError(t *testing.T) {
	ref := models.ProductRef{URL: "http://site.test/p/billy/"}
	sess := &fakeSession{navErr: errors.New("net::ERR_TIMED_OUT")}

	if _, err := newTestExtractor(t).Extract(context.Background(), sess, ref, nil); err == nil {
		t.Fatalf("expected navigation error to propagate")
	}
}

func TestFetchImage(t *testing.T) {
	x := newTestExtractor(t)
	httpmock.ActivateNonDefault(x.http.GetClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://cdn.test/img/billy.jpg?f=xl",
		httpmock.NewBytesResponder(200, []byte("jpeg-bytes")))

	doc := docFromHTML(t, `<span class="pip-aspect-ratio-box pip-aspect-ratio-box--square">
		<img src="http://cdn.test/img/billy.jpg?imwidth=300">
	</span>`)

	path, ok := x.fetchImage(context.Background(), doc, "002.638.50")
	if !ok {
		t.Fatalf("expected image to be fetched")
	}
	if path != filepath.Join(x.cfg.ImageDir, "002.638.50.jpg") {
		t.Fatalf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("image bytes = %q", data)
	}
}

func TestFetchImageFailuresYieldAbsent(t *testing.T) {
	x := newTestExtractor(t)
	httpmock.ActivateNonDefault(x.http.GetClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://cdn.test/img/gone.png?f=xl",
		httpmock.NewStringResponder(404, "not found"))

	notFound := docFromHTML(t, `<span class="pip-aspect-ratio-box pip-aspect-ratio-box--square">
		<img src="http://cdn.test/img/gone.png">
	</span>`)
	if _, ok := x.fetchImage(context.Background(), notFound, "1"); ok {
		t.Fatalf("404 response should yield no image")
	}

	noExtension := docFromHTML(t, `<span class="pip-aspect-ratio-box pip-aspect-ratio-box--square">
		<img src="http://cdn.test/img/raw?x=1">
	</span>`)
	if _, ok := x.fetchImage(context.Background(), noExtension, "2"); ok {
		t.Fatalf("source without an extension should yield no image")
	}

	noImage := docFromHTML(t, `<div></div>`)
	if _, ok := x.fetchImage(context.Background(), noImage, "3"); ok {
		t.Fatalf("missing image tag should yield no image")
	}
}

// fakeSession serves canned HTML per URL and simulates click failures.
type fakeSession struct {
	pages    map[string]string
	navErr   error
	clickErr error

	current string
	clicks  []string
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	if s.navErr != nil {
		return s.navErr
	}
	s.current = url
	return nil
}

func (s *fakeSession) HTML(_ context.Context) (string, error) {
	return s.pages[s.current], nil
}

func (s *fakeSession) Click(_ context.Context, selector string) error {
	s.clicks = append(s.clicks, selector)
	return s.clickErr
}

func (s *fakeSession) AcceptCookieBanner(_ context.Context) {}

func (s *fakeSession) Close() error { return nil }
