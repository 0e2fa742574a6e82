// Package scrape defines the core types and interfaces shared by the batch
// scraper: targets, outcomes, the fetcher capability and the sinks a finished
// batch is handed to.
package scrape
