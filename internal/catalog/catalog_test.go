package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rec(period, category, name string) Record {
	return Record{
		Period:      period,
		Category:    category,
		Description: name + " data",
		DataURL:     "https://example.com/" + name + ".XPT",
		DocsURL:     "https://example.com/" + name + ".htm",
	}
}

func TestMergeDeduplicatesAndSorts(t *testing.T) {
	lab := []Record{
		rec("2013-2014", "Laboratory", "ALB_H"),
		rec("2011-2012", "Laboratory", "ALB_G"),
		rec("2013-2014", "Laboratory", "ALB_H"),
		rec("2013-2014", "Laboratory", "AMDGYD_H"),
	}
	demo := []Record{
		rec("2013-2014", "Demographics", "DEMO_H"),
	}

	c := Merge(lab, nil, demo)

	assert.Equal(t, Catalog{
		rec("2011-2012", "Laboratory", "ALB_G"),
		rec("2013-2014", "Demographics", "DEMO_H"),
		rec("2013-2014", "Laboratory", "ALB_H"),
		rec("2013-2014", "Laboratory", "AMDGYD_H"),
	}, c)
}

func TestMergeKeepsSameURLAcrossCategories(t *testing.T) {
	a := rec("2013-2014", "Laboratory", "X")
	b := a
	b.Category = "Examination"

	assert.Len(t, Merge([]Record{a}, []Record{b}), 2)
}

func TestFilter(t *testing.T) {
	c := Catalog{
		rec("2011-2012", "Demographics", "DEMO_G"),
		rec("2011-2012", "Dietary", "DR1IFF_G"),
		rec("2013-2014", "Demographics", "DEMO_H"),
		rec("2013-2014", "Dietary", "DR1IFF_H"),
	}

	got := c.Filter(Selection{
		Categories: []string{"Demographics"},
		Periods:    []string{"2011-2012"},
	})
	assert.Equal(t, Catalog{rec("2011-2012", "Demographics", "DEMO_G")}, got)

	assert.Empty(t, c.Filter(Selection{
		Categories: []string{"Laboratory"},
		Periods:    []string{"2011-2012"},
	}))

	assert.Len(t, c.Filter(Selection{}), 4, "empty selection selects all known values")
	assert.Len(t, c.Filter(Selection{Periods: []string{"2013-2014"}}), 2)
}

func TestFilterDropsUnknownPeriodsByDefault(t *testing.T) {
	c := Catalog{rec("1988-1994", "Laboratory", "OLD")}
	assert.Empty(t, c.Filter(Selection{}))
	assert.Len(t, c.Filter(Selection{Periods: []string{"1988-1994"}}), 1)
}

func TestURLs(t *testing.T) {
	c := Catalog{
		rec("2013-2014", "Demographics", "DEMO_H"),
		rec("2013-2014", "Laboratory", "ALB_H"),
	}

	assert.Equal(t, []string{
		"https://example.com/DEMO_H.XPT",
		"https://example.com/ALB_H.XPT",
	}, c.URLs(false))

	assert.Equal(t, []string{
		"https://example.com/DEMO_H.XPT",
		"https://example.com/ALB_H.XPT",
		"https://example.com/DEMO_H.htm",
		"https://example.com/ALB_H.htm",
	}, c.URLs(true))
}

func TestByCategory(t *testing.T) {
	c := Catalog{
		rec("2011-2012", "Laboratory", "A"),
		rec("2013-2014", "Demographics", "B"),
		rec("2013-2014", "Laboratory", "C"),
	}

	groups := c.ByCategory()
	assert.Len(t, groups, 2)
	assert.Equal(t, Catalog{rec("2011-2012", "Laboratory", "A"), rec("2013-2014", "Laboratory", "C")}, groups["Laboratory"])
}

func TestEnumerationsAreCopies(t *testing.T) {
	cats := Categories()
	cats[0] = "changed"
	assert.Equal(t, "Demographics", Categories()[0])
	assert.True(t, IsCategory("Laboratory"))
	assert.False(t, IsCategory("changed"))
	assert.Contains(t, Periods(), "2017-2020")
}

func TestHasDataLink(t *testing.T) {
	assert.True(t, Record{DataURL: "https://example.com/DEMO_H.XPT"}.HasDataLink())
	assert.True(t, Record{DataURL: "https://example.com/demo_h.xpt"}.HasDataLink())
	assert.False(t, Record{DataURL: "https://example.com/demo_h.zip"}.HasDataLink())
	assert.False(t, Record{}.HasDataLink())
}
