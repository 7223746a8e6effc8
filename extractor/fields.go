package extractor

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// Selectors for the product page markup. Kept in one place so a markup
// change is a one-file fix.
const (
	titleSelector       = "h1.pip-price-module__name span.pip-price-module__name-decorator.notranslate"
	subtitleSelector    = "h1.pip-price-module__name span.pip-price-module__description span"
	priceModuleSelector = "div.pip-price-module__price div"
	priceWrapSelector   = "span.notranslate"
	priceIntSelector    = "span.pip-price__nowrap span.pip-price__integer"
	priceDecSelector    = "span.pip-price__decimal"
	descriptionSelector = "p.pip-product-summary__description"
	productIDSelector   = "span.pip-product-identifier__value"
	detailsContainer    = "div.pip-product-details__container"
	designerSelector    = "p.pip-product-details__label"
	detailsParagraph    = "p.pip-product-details__paragraph"
	imageSelector       = "span.pip-aspect-ratio-box.pip-aspect-ratio-box--square img"
	includedList        = "div.pip-included-products__list"
	includedContainer   = "div.pip-included-products__container"
	includedCard        = "div.pip-product-card a.pip-product-card__link.pip-link div.pip-product-card__info-container"
	includedTitle       = "span.pip-product-card__title"
	includedMeasurement = "span.pip-product-card__measurement-text"
	dimensionsSelector  = "div.pip-product-dimensions ul.pip-product-dimensions__dimensions-container"

	sectionDetails     = "li.pip-chunky-header__details"
	sectionIncluded    = "li.pip-chunky-header__included-products"
	sectionMeasurement = "li.pip-chunky-header__measurement"
)

// Every extractor below returns its value plus an ok flag; a missing or
// malformed DOM shape yields ok=false and never an error.

func extractTitle(doc *goquery.Document) (string, bool) {
	sel := doc.Find(titleSelector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return sel.Text(), true
}

// extractSubtitle requires the nested product-type link: a description
// span without one is not a subtitle on this markup.
func extractSubtitle(doc *goquery.Document) (string, bool) {
	span := doc.Find(subtitleSelector).First()
	if span.Length() == 0 {
		return "", false
	}
	link := span.Find("a").First()
	if link.Length() == 0 {
		return "", false
	}
	return span.Text() + link.Text(), true
}

// extractPrice handles the two structural variants of the price block:
// the amount wrapper is either a span or an em. The integer and decimal
// parts render as separate text nodes; a non-numeric part counts as 0 and
// the final value is integer + decimal/100. No variant matching at all
// means no price.
func extractPrice(doc *goquery.Document) (float64, bool) {
	inner := doc.Find(priceModuleSelector).First()

	for _, tag := range []string{"span", "em"} {
		wrap := inner.Find(tag).First().Find(priceWrapSelector).First()
		if wrap.Length() == 0 {
			continue
		}
		intSel := wrap.Find(priceIntSelector).First()
		decSel := wrap.Find(priceDecSelector).First()
		if intSel.Length() == 0 || decSel.Length() == 0 {
			continue
		}

		integer := floatOrZero(intSel.Text())
		decimal := floatOrZero(decSel.Text())
		return integer + decimal/100, true
	}
	return 0, false
}

func extractDescription(doc *goquery.Document) (string, bool) {
	sel := doc.Find(descriptionSelector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return sel.Text(), true
}

func extractProductID(doc *goquery.Document) (string, bool) {
	sel := doc.Find(productIDSelector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return sel.Text(), true
}

func extractDesigner(doc *goquery.Document) (string, bool) {
	sel := doc.Find(detailsContainer).First().Find("div").First().Find(designerSelector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return sel.Text(), true
}

// extractDetails assembles the expanded details panel: the description
// paragraphs concatenated in document order plus one entry per optional
// sub-section block that exists.
func extractDetails(doc *goquery.Document) (map[string]string, bool) {
	details := make(map[string]string)

	container := doc.Find(detailsContainer).First()
	if container.Length() > 0 {
		var description strings.Builder
		container.Find(detailsParagraph).Each(func(_ int, p *goquery.Selection) {
			description.WriteString(blockText(p))
		})
		if description.Len() > 0 {
			details["description"] = description.String()
		}
	}

	subsections := map[string]string{
		"good_to_know":           "li#product-details-good-to-know",
		"material_and_care":      "li#product-details-material-and-care",
		"safety_and_compliance":  "li#product-details-safety-and-compliance",
		"assembly_and_documents": "li#product-details-assembly-and-documents",
	}
	for key, selector := range subsections {
		block := doc.Find(selector).First()
		if block.Length() > 0 {
			details[key] = blockText(block)
		}
	}

	if len(details) == 0 {
		return nil, false
	}
	return details, true
}

func extractIncluded(doc *goquery.Document) ([]models.IncludedItem, bool) {
	list := doc.Find(includedList).First()
	if list.Length() == 0 {
		return nil, false
	}

	var items []models.IncludedItem
	list.Find(includedContainer).Each(func(_ int, container *goquery.Selection) {
		card := container.Find(includedCard).First()
		title := card.Find(includedTitle).First()
		measurement := card.Find(includedMeasurement).First()
		if title.Length() == 0 || measurement.Length() == 0 {
			return
		}
		items = append(items, models.IncludedItem{
			Title:       blockText(title),
			Measurement: blockText(measurement),
		})
	})

	if len(items) == 0 {
		return nil, false
	}
	return items, true
}

func extractSizes(doc *goquery.Document) (string, bool) {
	sel := doc.Find(dimensionsSelector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return blockText(sel), true
}

// availableSections inspects the base page for the optional expandable
// panel markers. Only panels present are visited.
func availableSections(doc *goquery.Document) (details, included, measurement bool) {
	details = doc.Find(sectionDetails).Length() > 0
	included = doc.Find(sectionIncluded).Length() > 0
	measurement = doc.Find(sectionMeasurement).Length() > 0
	return details, included, measurement
}

// blockText joins the trimmed text nodes of a selection with newlines,
// preserving document order across nested elements.
func blockText(sel *goquery.Selection) string {
	var parts []string
	for _, node := range sel.Nodes {
		collectText(node, &parts)
	}
	return strings.Join(parts, "\n")
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			*parts = append(*parts, text)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

func floatOrZero(text string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0
	}
	return value
}
