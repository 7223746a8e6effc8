package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

func TestInitCreatesEmptyContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "refs.json")

	if err := Init(path); err != nil {
		t.Fatalf("init: %v", err)
	}

	refs, err := Read[models.ProductRef](path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("refs=%d, want 0", len(refs))
	}
}

func TestInitKeepsExistingContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refs.json")
	refs := []models.ProductRef{{URL: "http://example.test/p/1", Category: "Sofas", SubCategory: "Furniture"}}

	if err := Overwrite(path, refs); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := Init(path); err != nil {
		t.Fatalf("init: %v", err)
	}

	got, err := Read[models.ProductRef](path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].URL != refs[0].URL {
		t.Fatalf("init truncated existing content: %+v", got)
	}
}

func TestOverwriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json")

	products := []models.Product{
		{Title: "BILLY", ProductID: "002.638.50", URL: "http://example.test/p/1", Category: "Bookcases", SubCategory: "Storage"},
		{URL: "http://example.test/p/2", Category: "Bookcases", SubCategory: "Storage"},
	}
	if err := Overwrite(path, products); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err := Read[models.Product](path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records=%d, want 2", len(got))
	}
	if got[0].Title != "BILLY" || got[1].Title != "" {
		t.Fatalf("round trip mangled records: %+v", got)
	}
}

func TestContainerShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refs.json")

	refs := []models.ProductRef{{URL: "http://example.test/p/1", Category: "Sofas", SubCategory: "Furniture"}}
	if err := Overwrite(path, refs); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}

	var container map[string]json.RawMessage
	if err := json.Unmarshal(data, &container); err != nil {
		t.Fatalf("container not valid json: %v", err)
	}
	if _, ok := container["products"]; !ok {
		t.Fatalf("container missing products key: %s", data)
	}
	if len(container) != 1 {
		t.Fatalf("container has extra keys: %s", data)
	}
}

func TestAppendMergesWithoutTruncating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json")

	chunk1 := []models.Product{{ProductID: "1", URL: "u1"}, {ProductID: "2", URL: "u2"}}
	chunk2 := []models.Product{{ProductID: "3", URL: "u3"}}
	chunk3 := []models.Product{{ProductID: "4", URL: "u4"}}

	// First chunk overwrites, later chunks append: the checkpoint
	// discipline of the batch runner.
	if err := Overwrite(path, chunk1); err != nil {
		t.Fatalf("overwrite chunk 1: %v", err)
	}

	// A crash here must leave exactly chunk 1 readable.
	got, err := Read[models.Product](path)
	if err != nil {
		t.Fatalf("read after chunk 1: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records=%d after chunk 1, want 2", len(got))
	}

	if err := Append(path, chunk2); err != nil {
		t.Fatalf("append chunk 2: %v", err)
	}
	if err := Append(path, chunk3); err != nil {
		t.Fatalf("append chunk 3: %v", err)
	}

	got, err = Read[models.Product](path)
	if err != nil {
		t.Fatalf("read after chunk 3: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("records=%d, want 4", len(got))
	}
	for i, want := range []string{"1", "2", "3", "4"} {
		if got[i].ProductID != want {
			t.Fatalf("record %d = %q, want %q", i, got[i].ProductID, want)
		}
	}
}

func TestAppendToMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")

	if err := AppendOne(path, models.ProductRef{URL: "http://example.test/p/1"}); err != nil {
		t.Fatalf("append one: %v", err)
	}
	if err := AppendOne(path, models.ProductRef{URL: "http://example.test/p/2"}); err != nil {
		t.Fatalf("append one: %v", err)
	}

	refs, err := Read[models.ProductRef](path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("refs=%d, want 2", len(refs))
	}
}

func TestWritesLeaveNoTempDebris(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.json")

	if err := Overwrite(path, []models.Product{{URL: "u1"}}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := Append(path, []models.Product{{URL: "u2"}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
	if len(entries) != 1 {
		t.Fatalf("entries=%d, want 1", len(entries))
	}
}

func TestReadRejectsCorruptContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{\"products\": ["), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := Read[models.ProductRef](path); err == nil {
		t.Fatalf("expected parse error for truncated container")
	}
}
