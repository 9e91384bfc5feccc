package ledger

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/conviction-cli/internal/config"
	"github.com/sells-group/conviction-cli/internal/conviction"
	"github.com/sells-group/conviction-cli/internal/model"
)

// Stream message kinds, appended to the subject prefix.
const (
	SubjectStake    = "stake"
	SubjectProposal = "proposal"
	SubjectFunding  = "funding"
	SubjectHead     = "head"
)

// StakeMessage is the payload of a stake message.
type StakeMessage struct {
	ProposalID string `json:"proposal_id"`
	conviction.StakeEvent
}

// HeadMessage is the payload of a head message.
type HeadMessage struct {
	Head int64 `json:"head"`
}

// StreamSource is a Memory ledger kept current by indexer messages.
type StreamSource struct {
	*Memory
	prefix   string
	fallback model.Funding
	sub      *Subscriber
}

// NewStream returns an empty stream ledger for subjects under prefix.
// Positive fields of funding override published funding figures.
func NewStream(prefix string, funding model.Funding) *StreamSource {
	s := &StreamSource{Memory: NewMemory(), prefix: prefix, fallback: funding}
	s.SetFunding(funding)
	return s
}

// Handle applies one message. Subjects outside the prefix and malformed
// payloads are errors; the ledger is left unchanged.
func (s *StreamSource) Handle(subject string, data []byte) error {
	kind, ok := strings.CutPrefix(subject, s.prefix+".")
	if !ok {
		return eris.Errorf("ledger: subject %q outside prefix %q", subject, s.prefix)
	}

	switch kind {
	case SubjectStake:
		var msg StakeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return eris.Wrap(err, "ledger: decode stake")
		}
		if msg.ProposalID == "" {
			return eris.New("ledger: stake without proposal_id")
		}
		s.AddStake(msg.ProposalID, msg.StakeEvent)
	case SubjectProposal:
		var p model.Proposal
		if err := json.Unmarshal(data, &p); err != nil {
			return eris.Wrap(err, "ledger: decode proposal")
		}
		if p.ID == "" {
			return eris.New("ledger: proposal without id")
		}
		if !p.Status.Valid() {
			return eris.Errorf("ledger: proposal %s: unknown status %q", p.ID, p.Status)
		}
		s.PutProposal(p)
	case SubjectFunding:
		var f model.Funding
		if err := json.Unmarshal(data, &f); err != nil {
			return eris.Wrap(err, "ledger: decode funding")
		}
		s.SetFunding(overrideFunding(f, s.fallback))
	case SubjectHead:
		var h HeadMessage
		if err := json.Unmarshal(data, &h); err != nil {
			return eris.Wrap(err, "ledger: decode head")
		}
		s.SetHead(h.Head)
	default:
		return eris.Errorf("ledger: unknown subject %q", subject)
	}
	return nil
}

// Close stops the subscriber, if any.
func (s *StreamSource) Close() error {
	if s.sub != nil {
		s.sub.Close()
	}
	return nil
}

// Subscriber feeds a StreamSource from NATS.
type Subscriber struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

// Subscribe connects to cfg.NATSURL and routes every message under the
// stream's prefix into it. Bad messages are logged and dropped.
func Subscribe(cfg config.LedgerConfig, stream *StreamSource) (*Subscriber, error) {
	log := zap.L().With(zap.String("component", "ledger"), zap.String("source", "nats"))

	opts := []nats.Option{
		nats.Name("conviction-cli"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("nats reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: nats connect")
	}

	subject := stream.prefix + ".>"
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		if err := stream.Handle(msg.Subject, msg.Data); err != nil {
			log.Warn("dropping stream message", zap.String("subject", msg.Subject), zap.Error(err))
		}
	})
	if err != nil {
		nc.Close()
		return nil, eris.Wrapf(err, "ledger: subscribe %s", subject)
	}
	log.Info("subscribed", zap.String("subject", subject))

	s := &Subscriber{conn: nc, subs: []*nats.Subscription{sub}}
	stream.sub = s
	return s, nil
}

// Close unsubscribes and closes the connection.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.conn.Close()
}
