package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalFetches tracks the number of page requests issued by sessions.
	TotalFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_fetches_total",
		Help: "The total number of page fetches attempted.",
	})
	// TotalFetchFailures tracks classified fetch failures.
	TotalFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_fetch_failures_total",
		Help: "The total number of failed fetches, labeled by failure kind.",
	}, []string{"kind"})
	// TotalEmailsExtracted counts addresses that survived the filters.
	TotalEmailsExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_emails_extracted_total",
		Help: "The total number of email addresses extracted.",
	})
	// TotalTargets tracks scraped targets by outcome.
	TotalTargets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_targets_total",
		Help: "The total number of targets scraped, labeled by outcome.",
	}, []string{"outcome"})
	// TotalRobotsFailOpen counts robots.txt fetches that failed and were
	// treated as allowed.
	TotalRobotsFailOpen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_robots_fail_open_total",
		Help: "The total number of robots.txt retrievals that failed open.",
	})
)

// Target outcome labels for TotalTargets.
const (
	OutcomeEmails    = "emails"
	OutcomeNoEmail   = "no_email"
	OutcomeNoWebsite = "no_website"
	OutcomeBlocked   = "blocked"
	OutcomeError     = "error"
)
