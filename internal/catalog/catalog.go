package catalog

import (
	"cmp"
	"slices"
	"strings"
)

// DataExtension is the extension every data link must carry.
const DataExtension = ".xpt"

var categories = []string{
	"Demographics",
	"Dietary",
	"Examination",
	"Laboratory",
	"Questionnaire",
}

var periods = []string{
	"1999-2000",
	"2001-2002",
	"2003-2004",
	"2005-2006",
	"2007-2008",
	"2009-2010",
	"2011-2012",
	"2013-2014",
	"2015-2016",
	"2017-2018",
	"2017-2020",
	"2019-2020",
	"2021-2022",
}

// Categories returns the known dataset categories in catalog order.
func Categories() []string { return slices.Clone(categories) }

// Periods returns the known survey periods in chronological order.
func Periods() []string { return slices.Clone(periods) }

// IsCategory reports whether name is one of the known categories.
func IsCategory(name string) bool { return slices.Contains(categories, name) }

// Record describes one published dataset.
type Record struct {
	Period      string
	Category    string
	Description string
	DataURL     string
	DocsURL     string
}

// HasDataLink reports whether the record points at a binary data file.
func (r Record) HasDataLink() bool {
	return strings.HasSuffix(strings.ToLower(r.DataURL), DataExtension)
}

type recordKey struct {
	period, category, dataURL string
}

func (r Record) key() recordKey {
	return recordKey{r.Period, r.Category, r.DataURL}
}

func compareRecords(a, b Record) int {
	return cmp.Or(
		cmp.Compare(a.Period, b.Period),
		cmp.Compare(a.Category, b.Category),
	)
}

// Catalog is an ordered, duplicate-free list of records.
type Catalog []Record

// Merge concatenates batches in the given order, drops records already seen
// under the same (period, category, data URL), and stably sorts the result by
// (period, category). Order inside a batch is preserved.
func Merge(batches ...[]Record) Catalog {
	var n int
	for _, b := range batches {
		n += len(b)
	}

	seen := make(map[recordKey]struct{}, n)
	out := make(Catalog, 0, n)
	for _, batch := range batches {
		for _, r := range batch {
			if _, dup := seen[r.key()]; dup {
				continue
			}
			seen[r.key()] = struct{}{}
			out = append(out, r)
		}
	}

	slices.SortStableFunc(out, compareRecords)
	return out
}

// Selection restricts a catalog by category and period. Empty fields select
// the full known enumeration.
type Selection struct {
	Categories []string
	Periods    []string
}

// Normalize fills empty fields with the known enumerations.
func (s Selection) Normalize() Selection {
	if len(s.Categories) == 0 {
		s.Categories = Categories()
	}
	if len(s.Periods) == 0 {
		s.Periods = Periods()
	}
	return s
}

// Filter returns the records whose period and category are both selected.
func (c Catalog) Filter(sel Selection) Catalog {
	sel = sel.Normalize()

	var out Catalog
	for _, r := range c {
		if slices.Contains(sel.Categories, r.Category) && slices.Contains(sel.Periods, r.Period) {
			out = append(out, r)
		}
	}
	return out
}

// URLs returns the data URLs of c, followed by the documentation URLs when
// includeDocs is set. Empty URLs are omitted.
func (c Catalog) URLs(includeDocs bool) []string {
	urls := make([]string, 0, len(c))
	for _, r := range c {
		if r.DataURL != "" {
			urls = append(urls, r.DataURL)
		}
	}
	if includeDocs {
		for _, r := range c {
			if r.DocsURL != "" {
				urls = append(urls, r.DocsURL)
			}
		}
	}
	return urls
}

// ByCategory groups c by category, keeping catalog order within each group.
func (c Catalog) ByCategory() map[string]Catalog {
	out := make(map[string]Catalog)
	for _, r := range c {
		out[r.Category] = append(out[r.Category], r)
	}
	return out
}
