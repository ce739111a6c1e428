// Package webhook implements WebhookReceiver & IssueImporter (spec.md
// §4.10): signature/token verification of inbound deliveries, idempotent
// normalisation, and import of issue-opened events into TaskStore.
// Grounded on the teacher's dedup-cache convention
// (internal/delivery/channels/lark/gateway.go's messageDedupCache, an
// LRU keyed by message id) and its HMAC usage in internal/security for
// the signature check.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"alex/internal/apperr"
	"alex/internal/logging"
)

const idempotencyCacheSize = 1000

// Source identifies which upstream a delivery came from; each has its own
// verification scheme per spec.md §4.10.
type Source string

const (
	SourceUpstreamA Source = "upstream_a" // HMAC-SHA256 over the raw body
	SourceUpstreamB Source = "upstream_b" // static token, constant-time compare
)

// EventType is the classified kind of an inbound delivery.
type EventType string

const (
	EventPush         EventType = "push"
	EventIssueOpened  EventType = "issue_opened"
	EventUnsupported  EventType = "unsupported"
)

// WebhookEvent is the normalised shape every upstream's delivery is parsed
// into before dispatch.
type WebhookEvent struct {
	EventID    string
	Source     Source
	EventType  EventType
	Repository string
	Payload    map[string]any
	ReceivedAt time.Time
	Sender     string
}

// Result is the outcome handed back to the HTTP front end (out of scope —
// it only needs to know whether to respond 200 and what message to log).
type Result struct {
	Success bool
	Message string
}

// Delivery is the raw inbound payload the caller (an HTTP handler, out of
// scope here) has already read off the wire.
type Delivery struct {
	Source        Source
	Body          []byte
	SignatureHeader string // upstream A: "sha256=<hex>"
	TokenHeader     string // upstream B: the static token value
	ObjectKind      string // upstream A's event-type header / field
	Action          string
	Repository      string
	Sender          string
	Parsed          map[string]any
}

// Receiver is the WebhookReceiver component.
type Receiver struct {
	hmacSecret  []byte
	staticToken string
	dedup       *lru.Cache[string, struct{}]
	importer    *IssueImporter
	logger      logging.Logger
}

// NewReceiver builds a Receiver. hmacSecret verifies upstream A deliveries;
// staticToken verifies upstream B deliveries.
func NewReceiver(hmacSecret, staticToken string, importer *IssueImporter, logger logging.Logger) (*Receiver, error) {
	cache, err := lru.New[string, struct{}](idempotencyCacheSize)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	return &Receiver{
		hmacSecret:  []byte(hmacSecret),
		staticToken: staticToken,
		dedup:       cache,
		importer:    importer,
		logger:      logging.OrNop(logger).With("component", "webhook"),
	}, nil
}

// Handle verifies d's signature, normalises it, de-duplicates by
// (source, event_id), and dispatches it.
func (r *Receiver) Handle(d Delivery) Result {
	if !r.verify(d) {
		return Result{Success: false, Message: invalidCredentialMessage(d.Source)}
	}

	event := r.normalize(d)

	key := fmt.Sprintf("%s:%s", event.Source, event.EventID)
	if _, seen := r.dedup.Get(key); seen {
		return Result{Success: true, Message: "duplicate"}
	}
	r.dedup.Add(key, struct{}{})

	return r.dispatch(event)
}

func invalidCredentialMessage(source Source) string {
	if source == SourceUpstreamA {
		return "Invalid webhook signature"
	}
	return "Invalid webhook token"
}

func (r *Receiver) verify(d Delivery) bool {
	switch d.Source {
	case SourceUpstreamA:
		return verifyHMACSignature(r.hmacSecret, d.Body, d.SignatureHeader)
	case SourceUpstreamB:
		return subtle.ConstantTimeCompare([]byte(d.TokenHeader), []byte(r.staticToken)) == 1
	default:
		return false
	}
}

func verifyHMACSignature(secret, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	want, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	got := mac.Sum(nil)
	return hmac.Equal(want, got)
}

func (r *Receiver) normalize(d Delivery) WebhookEvent {
	eventID, _ := d.Parsed["id"].(string)
	if eventID == "" {
		eventID, _ = d.Parsed["delivery_id"].(string)
	}
	return WebhookEvent{
		EventID:    eventID,
		Source:     d.Source,
		EventType:  classify(d),
		Repository: d.Repository,
		Payload:    d.Parsed,
		ReceivedAt: time.Now().UTC(),
		Sender:     d.Sender,
	}
}

func classify(d Delivery) EventType {
	switch d.ObjectKind {
	case "push":
		return EventPush
	case "issue", "issues":
		if d.Action == "opened" {
			return EventIssueOpened
		}
	}
	return EventUnsupported
}

func (r *Receiver) dispatch(event WebhookEvent) Result {
	switch event.EventType {
	case EventPush:
		commits, _ := event.Payload["commits"].([]any)
		r.logger.Info("push event on %s: %d commits", event.Repository, len(commits))
		return Result{Success: true, Message: "push processed"}
	case EventIssueOpened:
		if r.importer == nil {
			return Result{Success: true, Message: "no importer configured"}
		}
		return r.importer.ImportEvent(event)
	default:
		return Result{Success: true, Message: "Unsupported event type"}
	}
}

// ImportFilter gates which issues IssueImporter accepts.
type ImportFilter struct {
	RepositoryAllowList []string
	LabelAllowList      []string
	SkipClosed          bool
	TitlePattern        *regexp.Regexp
}

func (f ImportFilter) accepts(repo string, labels []string, closed bool, title string) bool {
	if f.SkipClosed && closed {
		return false
	}
	if len(f.RepositoryAllowList) > 0 && !contains(f.RepositoryAllowList, repo) {
		return false
	}
	if len(f.LabelAllowList) > 0 && !anyMatch(f.LabelAllowList, labels) {
		return false
	}
	if f.TitlePattern != nil && !f.TitlePattern.MatchString(title) {
		return false
	}
	return true
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func anyMatch(allow, labels []string) bool {
	for _, l := range labels {
		if contains(allow, l) {
			return true
		}
	}
	return false
}

// IssueMapping records an accepted import's correspondence to an
// external issue.
type IssueMapping struct {
	Source     Source
	ExternalID string
	TaskID     string
	Repository string
	MappedAt   time.Time
	Approved   bool
}

