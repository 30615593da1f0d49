// Package config defines configuration structures for the nhanes CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (NHANES_ prefix), optionally read from a .env file
//   - YAML configuration file
//
// Sources are applied in that order of precedence, flags winning. Default
// returns the base every other source is layered on.
//
// # Structure
//
//	type Config struct {
//	    Destination string
//	    Layout      string
//	    Workers     int
//	    IncludeDocs bool
//	    Categories  []string
//	    Periods     []string
//	    Progress    bool
//	    MetricsFile string
//	    Catalog     CatalogConfig
//	    HTTP        HTTPConfig
//	    Retry       RetryConfig
//	}
package config
