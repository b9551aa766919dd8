package pms

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// apiRequestsTotal counts HTTP requests to the pms API by entity and status code.
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pms_api_requests_total",
		Help: "Total number of requests made to the property-management API",
	}, []string{"entity", "code"})

	// apiRetriesTotal counts retried attempts by reason.
	apiRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pms_api_retries_total",
		Help: "Total number of retried property-management API attempts",
	}, []string{"entity", "reason"})

	// tokenRefreshesTotal counts access token requests.
	tokenRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pms_token_refreshes_total",
		Help: "Total number of OAuth2 access token requests",
	})
)
