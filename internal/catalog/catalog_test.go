package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleCSV = `product_id,product_name_ar,sell_price,category
101,تيشيرت قطن أسود,350,ملابس
102,جاكيت جينز,799.5,ملابس
103,كوتشي رياضي,1200,أحذية
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog file: %v", err)
	}
	return path
}

func TestParseCSV(t *testing.T) {
	t.Parallel()

	records, skipped, err := parseCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("expected no skipped rows, got %d", skipped)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	first := records[0]
	if first.ID != "101" || first.DisplayName != "تيشيرت قطن أسود" || first.Price != 350 || first.Category != "ملابس" {
		t.Fatalf("unexpected first record: %+v", first)
	}
	if records[1].Price != 799.5 {
		t.Fatalf("expected fractional price preserved, got %v", records[1].Price)
	}
}

func TestParseCSVSkipsMalformedRows(t *testing.T) {
	t.Parallel()

	csvData := `product_id,product_name_ar,sell_price,category
101,تيشيرت,350,ملابس
,بدون معرف,100,ملابس
102,سعر بايظ,abc,ملابس
103,جاكيت,500,ملابس
`
	records, skipped, err := parseCSV(strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 valid records, got %d", len(records))
	}
	if skipped != 2 {
		t.Fatalf("expected 2 skipped rows, got %d", skipped)
	}
}

func TestParseCSVMissingColumn(t *testing.T) {
	t.Parallel()

	if _, _, err := parseCSV(strings.NewReader("product_id,sell_price\n1,10\n")); err == nil {
		t.Fatalf("expected error for missing required column")
	}
}

func TestReloadSwapsSnapshot(t *testing.T) {
	t.Parallel()

	path := writeCatalog(t, sampleCSV)
	svc := NewService(nil, path)

	if svc.Snapshot().Len() != 0 {
		t.Fatalf("catalog must start empty")
	}
	if err := svc.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if svc.Snapshot().Len() != 3 {
		t.Fatalf("expected 3 products, got %d", svc.Snapshot().Len())
	}

	// A failed reload keeps the previous snapshot.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove catalog file: %v", err)
	}
	if err := svc.Reload(); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if svc.Snapshot().Len() != 3 {
		t.Fatalf("previous snapshot must survive a failed reload")
	}
}

func TestSnapshotRecordsIsACopy(t *testing.T) {
	t.Parallel()

	path := writeCatalog(t, sampleCSV)
	svc := NewService(nil, path)
	if err := svc.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	records := svc.Snapshot().Records()
	records[0].DisplayName = "mutated"
	if svc.Snapshot().Records()[0].DisplayName == "mutated" {
		t.Fatalf("Records must return a copy")
	}
}
