package metrics

import (
	"context"
	"sync"

	"github.com/prohmpiriya/campus-ticketing/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// Cache-aside counters
	RemoteReads    *telemetry.Counter
	LocalFallbacks *telemetry.Counter
	Unavailable    *telemetry.Counter
	MirrorFailures *telemetry.Counter

	// Name cache counters
	NameCacheHits   *telemetry.Counter
	NameCacheMisses *telemetry.Counter

	// Reservation ledger
	ReservationsCreated   *telemetry.Counter
	ReservationsCancelled *telemetry.Counter
	ActiveReservations    *telemetry.UpDownCounter

	// Payment counters
	PaymentsCreated     *telemetry.Counter
	PaymentsCaptured    *telemetry.Counter
	PaymentsFailed      *telemetry.Counter
	RefundsRequested    *telemetry.Counter
	RefundsResolved     *telemetry.Counter
	GatewayErrors       *telemetry.Counter
	PublishFailures     *telemetry.Counter
	CapturesNotRecorded *telemetry.Counter

	initOnce sync.Once
	initErr  error
)

// Init registers every instrument. Instruments stay nil until Init succeeds
// and nil instruments drop recordings.
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	counters := []struct {
		dst  **telemetry.Counter
		name string
		desc string
	}{
		{&RemoteReads, "repository_remote_reads_total", "Reads answered by the remote store"},
		{&LocalFallbacks, "repository_local_fallbacks_total", "Reads served from the local cache after a remote failure"},
		{&Unavailable, "repository_unavailable_total", "Reads that failed in both stores"},
		{&MirrorFailures, "repository_mirror_failures_total", "Best-effort local cache writes that failed"},
		{&NameCacheHits, "name_cache_hits_total", "Name lookups served from the cache"},
		{&NameCacheMisses, "name_cache_misses_total", "Name lookups that reached the user store"},
		{&ReservationsCreated, "reservations_created_total", "Reservations added to the ledger"},
		{&ReservationsCancelled, "reservations_cancelled_total", "Reservations cancelled"},
		{&PaymentsCreated, "payments_created_total", "Payment orders created"},
		{&PaymentsCaptured, "payments_captured_total", "Payment orders captured"},
		{&PaymentsFailed, "payments_failed_total", "Payments that ended in FAILED"},
		{&RefundsRequested, "refunds_requested_total", "Refund requests"},
		{&RefundsResolved, "refunds_resolved_total", "Refund requests approved or rejected"},
		{&GatewayErrors, "gateway_errors_total", "Calls to the payment gateway that failed"},
		{&PublishFailures, "payment_event_publish_failures_total", "Payment events that could not be published"},
		{&CapturesNotRecorded, "payment_captures_not_recorded_total", "Captures the gateway accepted but the store did not record"},
	}

	for _, c := range counters {
		counter, err := telemetry.NewCounter(telemetry.MetricOpts{
			Name:        c.name,
			Description: c.desc,
			Unit:        "1",
		})
		if err != nil {
			return err
		}
		*c.dst = counter
	}

	var err error
	ActiveReservations, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "reservations_active",
		Description: "Reservations currently holding seats",
		Unit:        "1",
	})
	return err
}

// RecordFallback records a read served from the local cache
func RecordFallback(ctx context.Context, repo string) {
	LocalFallbacks.Inc(ctx, attribute.String("repository", repo))
}

// RecordUnavailable records a read that neither store could answer
func RecordUnavailable(ctx context.Context, repo string) {
	Unavailable.Inc(ctx, attribute.String("repository", repo))
}

// RecordRemoteRead records a read answered by the remote store
func RecordRemoteRead(ctx context.Context, repo string) {
	RemoteReads.Inc(ctx, attribute.String("repository", repo))
}

// RecordMirrorFailure records a failed write to the local cache
func RecordMirrorFailure(ctx context.Context, repo, op string) {
	MirrorFailures.Inc(ctx, attribute.String("repository", repo), attribute.String("op", op))
}

// RecordGatewayError records a failed gateway call
func RecordGatewayError(ctx context.Context, gateway, op string) {
	GatewayErrors.Inc(ctx, attribute.String("gateway", gateway), attribute.String("op", op))
}
