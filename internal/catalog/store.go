package catalog

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ErrNotFound is returned by Store.Load when no catalog has been persisted.
var ErrNotFound = errors.New("catalog: not found")

// ErrMalformed is returned when a persisted catalog cannot be parsed.
var ErrMalformed = errors.New("catalog: malformed file")

// Header is the column order written by WriteCSV.
var Header = []string{"period", "category", "description", "data_url", "docs_url"}

// Legacy column names accepted when reading.
var columnAliases = map[string]string{
	"years":     "period",
	"component": "category",
}

// Store persists a catalog as a single CSV object in a bucket.
type Store struct {
	bucket *blob.Bucket
	key    string
}

// NewStore returns a store that keeps the catalog at key in bucket.
func NewStore(bucket *blob.Bucket, key string) *Store {
	return &Store{bucket: bucket, key: key}
}

// Key returns the object key of the catalog.
func (s *Store) Key() string { return s.key }

// Load reads the whole catalog. It returns ErrNotFound when the object does
// not exist; any other failure means the catalog is present but unusable.
func (s *Store) Load(ctx context.Context) (Catalog, error) {
	r, err := s.bucket.NewReader(ctx, s.key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open catalog %s: %w", s.key, err)
	}
	defer r.Close()

	c, err := ReadCSV(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", s.key, err)
	}
	return c, nil
}

// Save replaces the persisted catalog in one write.
func (s *Store) Save(ctx context.Context, c Catalog) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, c); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	if err := s.bucket.WriteAll(ctx, s.key, buf.Bytes(), &blob.WriterOptions{
		ContentType: "text/csv",
	}); err != nil {
		return fmt.Errorf("write catalog %s: %w", s.key, err)
	}
	return nil
}

// Delete removes the persisted catalog. Deleting a missing catalog is not an
// error.
func (s *Store) Delete(ctx context.Context) error {
	if err := s.bucket.Delete(ctx, s.key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete catalog %s: %w", s.key, err)
	}
	return nil
}

// ReadCSV parses a catalog. Columns may appear in any order; the legacy
// names "years" and "component" are accepted for period and category.
func ReadCSV(r io.Reader) (Catalog, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if alias, ok := columnAliases[name]; ok {
			name = alias
		}
		index[name] = i
	}
	for _, col := range Header {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformed, col)
		}
	}

	var c Catalog
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		c = append(c, Record{
			Period:      row[index["period"]],
			Category:    row[index["category"]],
			Description: row[index["description"]],
			DataURL:     row[index["data_url"]],
			DocsURL:     row[index["docs_url"]],
		})
	}
	return c, nil
}

// WriteCSV writes c with a header row in Header order.
func WriteCSV(w io.Writer, c Catalog) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range c {
		if err := cw.Write([]string{r.Period, r.Category, r.Description, r.DataURL, r.DocsURL}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
