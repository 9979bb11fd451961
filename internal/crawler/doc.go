// Package crawler implements the email-discovery engine, including the
// fetcher, extractor, robots and blocklist policies, per-target crawl
// sessions, and the batch orchestrator that fans targets out to sessions.
// It also defines the job lifecycle types shared with the worker, the
// stores, and the HTTP API.
package crawler
