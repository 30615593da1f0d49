// Package catalog models the published datasets and keeps a persisted copy
// of them.
//
// A [Catalog] is an ordered list of [Record] values, unique on
// (period, category, data URL) and sorted by (period, category). The
// [Store] keeps it as one CSV object in a gocloud.dev/blob bucket; the
// [Provider] returns the stored copy or, when none exists or a refresh is
// requested, scrapes every category concurrently and persists the merged
// result once.
//
// # Storage Layout
//
//	{bucket}/nhanes_datasets.csv
//
// # File Format
//
//	period,category,description,data_url,docs_url
//	2013-2014,Laboratory,Albumin & Creatinine - Urine,https://.../ALB_CR_H.XPT,https://.../ALB_CR_H.htm
package catalog
