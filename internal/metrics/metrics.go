package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	HTTPRequests         *prometheus.CounterVec
	HTTPLatency          *prometheus.HistogramVec
	RazorpayRequests     *prometheus.CounterVec
	RazorpayLatency      *prometheus.HistogramVec
	OrdersCreated        *prometheus.CounterVec
	PaymentVerifications *prometheus.CounterVec
	EntitlementsRecorded *prometheus.CounterVec
	AccessChecks         *prometheus.CounterVec
	WebhookEvents        *prometheus.CounterVec
	CheckoutTransitions  *prometheus.CounterVec
	OTPRequests          *prometheus.CounterVec
	WAOutgoingMessages   *prometheus.CounterVec
	Errors               *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by route, method and status.",
			}, []string{"route", "method", "status"}),
			HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Latency distribution for HTTP requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			RazorpayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "razorpay_requests_total",
				Help:      "Total Razorpay API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			RazorpayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "razorpay_request_duration_seconds",
				Help:      "Latency distribution for Razorpay API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_created_total",
				Help:      "Total payment orders opened by outcome.",
			}, []string{"result"}),
			PaymentVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_verifications_total",
				Help:      "Total payment signature verifications by result.",
			}, []string{"result"}),
			EntitlementsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entitlements_recorded_total",
				Help:      "Total entitlement upserts by duration type and source.",
			}, []string{"duration_type", "source"}),
			AccessChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "access_checks_total",
				Help:      "Total material access checks by status.",
			}, []string{"status"}),
			WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Total Razorpay webhook events by event and result.",
			}, []string{"event", "result"}),
			CheckoutTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkout_transitions_total",
				Help:      "Total checkout session transitions by target state.",
			}, []string{"state"}),
			OTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "otp_requests_total",
				Help:      "Total OTP send/verify requests by action and result.",
			}, []string{"action", "result"}),
			WAOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wa_outgoing_messages_total",
				Help:      "Total outgoing WhatsApp messages sent.",
			}, []string{"type"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.HTTPRequests,
			metricsInstance.HTTPLatency,
			metricsInstance.RazorpayRequests,
			metricsInstance.RazorpayLatency,
			metricsInstance.OrdersCreated,
			metricsInstance.PaymentVerifications,
			metricsInstance.EntitlementsRecorded,
			metricsInstance.AccessChecks,
			metricsInstance.WebhookEvents,
			metricsInstance.CheckoutTransitions,
			metricsInstance.OTPRequests,
			metricsInstance.WAOutgoingMessages,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}

// IncError bumps the error counter for component. Safe on a nil receiver.
func (m *Metrics) IncError(component string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component).Inc()
}
