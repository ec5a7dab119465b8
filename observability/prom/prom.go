// Package prom exports the observability interfaces as Prometheus metrics.
package prom

import (
	"net/http"

	"github.com/portkey-sh/portkey/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RendezvousObserver exports mailbox client metrics.
type RendezvousObserver struct {
	connectTotal *prometheus.CounterVec
	messageTotal *prometheus.CounterVec
	closedTotal  *prometheus.CounterVec
}

// NewRendezvousObserver registers mailbox client metrics on the registry.
func NewRendezvousObserver(reg *prometheus.Registry) *RendezvousObserver {
	o := &RendezvousObserver{
		connectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portkey_rendezvous_connect_total",
			Help: "Rendezvous connection attempts by result.",
		}, []string{"result"}),
		messageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portkey_rendezvous_message_total",
			Help: "Mailbox messages by direction.",
		}, []string{"direction"}),
		closedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portkey_rendezvous_closed_total",
			Help: "Mailbox sessions closed by mood.",
		}, []string{"mood"}),
	}
	reg.MustRegister(o.connectTotal, o.messageTotal, o.closedTotal)
	return o
}

func (o *RendezvousObserver) Connect(result observability.ConnectResult) {
	o.connectTotal.WithLabelValues(string(result)).Inc()
}

func (o *RendezvousObserver) MessageSent() {
	o.messageTotal.WithLabelValues("tx").Inc()
}

func (o *RendezvousObserver) MessageReceived() {
	o.messageTotal.WithLabelValues("rx").Inc()
}

func (o *RendezvousObserver) SessionClosed(mood observability.Mood) {
	o.closedTotal.WithLabelValues(string(mood)).Inc()
}

// MailboxServerObserver exports rendezvous server metrics.
type MailboxServerObserver struct {
	connGauge      prometheus.Gauge
	nameplateGauge prometheus.Gauge
	mailboxGauge   prometheus.Gauge
	messageTotal   prometheus.Counter
}

// NewMailboxServerObserver registers rendezvous server metrics on the registry.
func NewMailboxServerObserver(reg *prometheus.Registry) *MailboxServerObserver {
	o := &MailboxServerObserver{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portkey_mailbox_connections",
			Help: "Current websocket connection count.",
		}),
		nameplateGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portkey_mailbox_nameplates",
			Help: "Currently claimed nameplates.",
		}),
		mailboxGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portkey_mailbox_open_mailboxes",
			Help: "Currently open mailboxes.",
		}),
		messageTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portkey_mailbox_message_total",
			Help: "Messages added across all mailboxes.",
		}),
	}
	reg.MustRegister(o.connGauge, o.nameplateGauge, o.mailboxGauge, o.messageTotal)
	return o
}

func (o *MailboxServerObserver) ConnOpened()        { o.connGauge.Inc() }
func (o *MailboxServerObserver) ConnClosed()        { o.connGauge.Dec() }
func (o *MailboxServerObserver) NameplateClaimed()  { o.nameplateGauge.Inc() }
func (o *MailboxServerObserver) NameplateReleased() { o.nameplateGauge.Dec() }
func (o *MailboxServerObserver) MailboxOpened()     { o.mailboxGauge.Inc() }
func (o *MailboxServerObserver) MailboxClosed()     { o.mailboxGauge.Dec() }
func (o *MailboxServerObserver) MessageAdded()      { o.messageTotal.Inc() }

// TransitObserver exports transit negotiation metrics.
type TransitObserver struct {
	candidateTotal *prometheus.CounterVec
	selectedTotal  *prometheus.CounterVec
	recordBytes    prometheus.Counter
}

// NewTransitObserver registers transit metrics on the registry.
func NewTransitObserver(reg *prometheus.Registry) *TransitObserver {
	o := &TransitObserver{
		candidateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portkey_transit_candidate_total",
			Help: "Transit candidate attempts by kind and result.",
		}, []string{"kind", "result"}),
		selectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portkey_transit_selected_total",
			Help: "Transit channels established by kind.",
		}, []string{"kind"}),
		recordBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portkey_transit_record_bytes_total",
			Help: "Plaintext bytes carried in transit records.",
		}),
	}
	reg.MustRegister(o.candidateTotal, o.selectedTotal, o.recordBytes)
	return o
}

func (o *TransitObserver) Candidate(kind observability.CandidateKind, result observability.CandidateResult) {
	o.candidateTotal.WithLabelValues(string(kind), string(result)).Inc()
}

func (o *TransitObserver) ChannelSelected(kind observability.CandidateKind) {
	o.selectedTotal.WithLabelValues(string(kind)).Inc()
}

func (o *TransitObserver) RecordBytes(n int) {
	o.recordBytes.Add(float64(n))
}
