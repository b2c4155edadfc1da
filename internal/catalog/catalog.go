// Package catalog holds the immutable, reloadable product table used to
// ground generated replies.
package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Record is one product row. DisplayName is load-bearing: it is echoed
// verbatim into prompts and replies because store links are keyed on it.
type Record struct {
	ID          string
	DisplayName string
	Price       float64
	Category    string
}

// Snapshot is an immutable view of the catalog at one load.
type Snapshot struct {
	records  []Record
	loadedAt time.Time
}

// Records returns a copy of the product rows in file order.
func (s *Snapshot) Records() []Record {
	if s == nil {
		return nil
	}
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of products.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// LoadedAt returns when this snapshot was read.
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// Service loads the products CSV and serves the current snapshot. Reload
// swaps the whole snapshot atomically, so readers never observe a
// half-updated catalog.
type Service struct {
	logger  *slog.Logger
	path    string
	current atomic.Pointer[Snapshot]
	cron    *cron.Cron
}

// NewService creates a Service reading from the CSV at path. The catalog
// starts empty until Reload succeeds.
func NewService(log *slog.Logger, path string) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		logger: log.With(slog.String("component", "catalog")),
		path:   path,
	}
	s.current.Store(&Snapshot{})
	return s
}

// Snapshot returns the current catalog. Never nil.
func (s *Service) Snapshot() *Snapshot {
	return s.current.Load()
}

// Reload reads the CSV and swaps it in. On error the previous snapshot stays
// in place; an unavailable catalog degrades prompts, it never fails a turn.
func (s *Service) Reload() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	records, skipped, err := parseCSV(f)
	if err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}
	if skipped > 0 {
		s.logger.Warn("catalog rows skipped", slog.Int("skipped", skipped))
	}
	s.current.Store(&Snapshot{records: records, loadedAt: time.Now().UTC()})
	s.logger.Info("catalog loaded", slog.String("path", s.path), slog.Int("products", len(records)))
	return nil
}

// StartAutoReload reloads the catalog every interval. A zero interval
// disables periodic reloads.
func (s *Service) StartAutoReload(interval time.Duration) error {
	if interval <= 0 || s.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if err := s.Reload(); err != nil {
			s.logger.Warn("catalog reload failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("schedule catalog reload: %w", err)
	}
	c.Start()
	s.cron = c
	return nil
}

// StopAutoReload halts periodic reloads.
func (s *Service) StopAutoReload() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
}

// parseCSV decodes product rows. Expected columns: product_id,
// product_name_ar, sell_price, category. Malformed rows are skipped, not
// fatal.
func parseCSV(r io.Reader) ([]Record, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"product_id", "product_name_ar", "sell_price", "category"} {
		if _, ok := col[required]; !ok {
			return nil, 0, fmt.Errorf("missing column %q", required)
		}
	}

	var records []Record
	skipped := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		rec, ok := rowToRecord(row, col)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

func rowToRecord(row []string, col map[string]int) (Record, bool) {
	field := func(name string) string {
		i := col[name]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	id := field("product_id")
	name := field("product_name_ar")
	if id == "" || name == "" {
		return Record{}, false
	}
	price, err := strconv.ParseFloat(field("sell_price"), 64)
	if err != nil {
		return Record{}, false
	}
	return Record{
		ID:          id,
		DisplayName: name,
		Price:       price,
		Category:    field("category"),
	}, true
}
