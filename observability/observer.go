// Package observability defines the metric observer interfaces implemented
// by the prom subpackage. Protocol packages call observers; they never
// depend on a metrics backend directly.
package observability

// ConnectResult labels the outcome of a rendezvous connection attempt.
type ConnectResult string

const (
	ConnectResultOK   ConnectResult = "ok"
	ConnectResultFail ConnectResult = "fail"
)

// Mood labels how a mailbox session ended, mirroring the close message's
// mood field.
type Mood string

const (
	MoodHappy  Mood = "happy"
	MoodLonely Mood = "lonely"
	MoodScary  Mood = "scary"
	MoodErrory Mood = "errory"
)

// CandidateKind labels a transit connection candidate.
type CandidateKind string

const (
	CandidateDirectOutbound CandidateKind = "direct_outbound"
	CandidateDirectInbound  CandidateKind = "direct_inbound"
	CandidateRelay          CandidateKind = "relay"
)

// CandidateResult labels the outcome of one transit candidate attempt.
type CandidateResult string

const (
	CandidateResultWon      CandidateResult = "won"
	CandidateResultLost     CandidateResult = "lost"
	CandidateResultFailed   CandidateResult = "failed"
	CandidateResultCanceled CandidateResult = "canceled"
)

// RendezvousObserver receives mailbox client events.
type RendezvousObserver interface {
	Connect(result ConnectResult)
	MessageSent()
	MessageReceived()
	SessionClosed(mood Mood)
}

// MailboxServerObserver receives rendezvous server events.
type MailboxServerObserver interface {
	ConnOpened()
	ConnClosed()
	NameplateClaimed()
	NameplateReleased()
	MailboxOpened()
	MailboxClosed()
	MessageAdded()
}

// TransitObserver receives transit negotiation and relay events.
type TransitObserver interface {
	Candidate(kind CandidateKind, result CandidateResult)
	ChannelSelected(kind CandidateKind)
	RecordBytes(n int)
}

type noopRendezvous struct{}

func (noopRendezvous) Connect(ConnectResult) {}
func (noopRendezvous) MessageSent()          {}
func (noopRendezvous) MessageReceived()      {}
func (noopRendezvous) SessionClosed(Mood)    {}

type noopMailboxServer struct{}

func (noopMailboxServer) ConnOpened()        {}
func (noopMailboxServer) ConnClosed()        {}
func (noopMailboxServer) NameplateClaimed()  {}
func (noopMailboxServer) NameplateReleased() {}
func (noopMailboxServer) MailboxOpened()     {}
func (noopMailboxServer) MailboxClosed()     {}
func (noopMailboxServer) MessageAdded()      {}

type noopTransit struct{}

func (noopTransit) Candidate(CandidateKind, CandidateResult) {}
func (noopTransit) ChannelSelected(CandidateKind)            {}
func (noopTransit) RecordBytes(int)                          {}

// Noop observers used as defaults throughout the module.
var (
	NoopRendezvousObserver    RendezvousObserver    = noopRendezvous{}
	NoopMailboxServerObserver MailboxServerObserver = noopMailboxServer{}
	NoopTransitObserver       TransitObserver       = noopTransit{}
)
