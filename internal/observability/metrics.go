package observability

type MetricKey string

// Counters.
const (
	MUsecaseRequests   MetricKey = "usecase_requests_total"
	MHTTPRequests      MetricKey = "http_requests_total"
	MExternalRequests  MetricKey = "external_requests_total"
	MTokenRefreshes    MetricKey = "token_refresh_total"
	MCatalogRefreshes  MetricKey = "catalog_refresh_total"
	MPendingEnqueued   MetricKey = "pending_enqueued_total"
	MPendingDeadLetter MetricKey = "pending_dead_letter_total"
	MPendingAttempts   MetricKey = "pending_attempts_total"
)

// Histograms.
const (
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
)

// Gauges.
const (
	MPendingDepth MetricKey = "pending_queue_depth"
	MCatalogItems MetricKey = "catalog_items"
)
