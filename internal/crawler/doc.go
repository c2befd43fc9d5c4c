// Package crawler walks a source's pagination chain and turns pages into
// documents. It defines the job, source and fetch types shared by the
// fetcher, the stores and the worker, plus the Controller that drives one
// crawl from the start URL to the persisted summary.
package crawler
