package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// streamReader is the slice of the signal bus the dispatcher needs: durable
// stream reads with a resume cursor.
type streamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

const (
	pollInterval = 2 * time.Second
	batchSize    = 100
)

// Dispatcher tails the durable engine event stream and forwards notable
// events to the notifier. Reading the stream rather than the pub/sub channel
// means a restart resumes from the last seen entry instead of dropping
// events.
type Dispatcher struct {
	bus      streamReader
	stream   string
	notifier *Notifier
	logger   *slog.Logger
	lastID   string
}

// NewDispatcher creates a Dispatcher tailing the given stream.
func NewDispatcher(bus streamReader, stream string, notifier *Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		stream:   stream,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_dispatcher")),
		lastID:   "0",
	}
}

// Run polls the event stream until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.drain(ctx); err != nil {
				d.logger.WarnContext(ctx, "stream read failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// drain reads and dispatches every pending stream entry.
func (d *Dispatcher) drain(ctx context.Context) error {
	for {
		msgs, err := d.bus.StreamRead(ctx, d.stream, d.lastID, batchSize)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		for _, msg := range msgs {
			d.lastID = msg.ID
			d.handle(ctx, msg.Payload)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, payload []byte) {
	var event domain.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		d.logger.WarnContext(ctx, "undecodable event payload",
			slog.String("error", err.Error()),
		)
		return
	}

	title, message, ok := describe(event)
	if !ok {
		return
	}
	if err := d.notifier.Notify(ctx, event.Kind, title, message); err != nil {
		d.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("kind", event.Kind),
			slog.String("error", err.Error()),
		)
	}
}

// describe renders an operator-facing message for event kinds worth alerting
// on. Routine trade traffic is deliberately excluded; the event filter in the
// notifier narrows further.
func describe(event domain.Event) (title, message string, ok bool) {
	var fields map[string]any
	if len(event.Payload) > 0 {
		_ = json.Unmarshal(event.Payload, &fields)
	}

	switch event.Kind {
	case domain.EventOpinionCreated:
		return "Opinion created",
			fmt.Sprintf("Opinion %v created by %v at initial price %v.", fields["opinion_id"], fields["creator"], fields["initial_price"]),
			true
	case domain.EventFeesClaimed:
		return "Fees claimed",
			fmt.Sprintf("Account %v claimed %v in accrued fees.", fields["account"], fields["amount"]),
			true
	case domain.EventPoolExecuted:
		return "Pool executed",
			fmt.Sprintf("Pool %v executed on opinion %v at seq %d.", fields["pool_id"], fields["opinion_id"], event.Seq),
			true
	case domain.EventPoolExpired:
		return "Pool expired",
			fmt.Sprintf("Pool %v expired unfunded; contributors may withdraw.", fields["pool_id"]),
			true
	case domain.EventEnginePaused:
		return "Engine paused",
			fmt.Sprintf("All trading halted at seq %d.", event.Seq),
			true
	case domain.EventEngineUnpaused:
		return "Engine unpaused",
			fmt.Sprintf("Trading resumed at seq %d.", event.Seq),
			true
	case domain.EventQuestionSold:
		return "Question sold",
			fmt.Sprintf("Opinion %v question bought by %v for %v.", fields["opinion_id"], fields["buyer"], fields["paid"]),
			true
	default:
		return "", "", false
	}
}
