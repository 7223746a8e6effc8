// Package models defines data structures for the catalog harvester.
package models

import "time"

// Category is a traversal root discovered from the site's two-level
// navigation tree.
type Category struct {
	SubCategoryName string `json:"sub_category_name"`
	Name            string `json:"name"`
	URL             string `json:"url"`
}

// ProductRef is a discovered product link plus its category labels. It is
// the unit of work fed to the extractor and the shape persisted by the
// discovery stage and the quarantine ledger.
type ProductRef struct {
	URL         string `json:"url"`
	Category    string `json:"category"`
	SubCategory string `json:"sub_category"`
}

// IncludedItem is one bundled item listed under a set product.
type IncludedItem struct {
	Title       string `json:"title"`
	Measurement string `json:"measurement"`
}

// Product is the extraction result for one product page. The persisted
// shape is sparse: a field is present only if its extraction succeeded,
// so every optional field carries omitempty and zero values are dropped.
type Product struct {
	Title       string            `json:"title,omitempty"`
	Subtitle    string            `json:"subtitle,omitempty"`
	Price       float64           `json:"price,omitempty"`
	Description string            `json:"description,omitempty"`
	ProductID   string            `json:"product_id,omitempty"`
	Designer    string            `json:"designer,omitempty"`
	Details     map[string]string `json:"informations_about_product,omitempty"`
	Included    []IncludedItem    `json:"items_in_the_set,omitempty"`
	Sizes       string            `json:"sizes,omitempty"`
	ImagePath   string            `json:"image_path,omitempty"`

	URL         string `json:"url"`
	Category    string `json:"category"`
	SubCategory string `json:"sub_category"`
}

// DiscoveryResult summarizes a URL discovery run.
type DiscoveryResult struct {
	Categories    int
	ExpectedTotal int
	Discovered    int
	SkippedPages  int
	StartTime     time.Time
	EndTime       time.Time
}

// RunResult summarizes an extraction run.
type RunResult struct {
	StartTime   time.Time
	EndTime     time.Time
	Processed   int
	Extracted   int
	Skipped     int
	Quarantined int
	Chunks      int
}
