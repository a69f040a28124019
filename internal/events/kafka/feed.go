package kafka

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/dcastillo/maquila-ledger/internal/interfaces"
	"github.com/dcastillo/maquila-ledger/internal/models/events"
)

// Feed subscribes viewers to the closure-row change topic. Every subscription
// gets its own consumer group so each viewer sees the full stream, filtered
// down to its maquila id before the handler is invoked.
type Feed struct {
	brokers []string
	topic   string
	log     *logrus.Logger
}

func NewFeed(brokers []string, topic string, log *logrus.Logger) *Feed {
	if topic == "" {
		topic = DefaultTopic
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Feed{
		brokers: brokers,
		topic:   topic,
		log:     log,
	}
}

// readerConfig builds the reader for one subscription. Each viewer gets its
// own consumer group starting at the latest offset: the current state comes
// from the initial fetch, and replaying retained history would resurrect
// deleted rows and overwrite fresh values with stale ones.
func (f *Feed) readerConfig() kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:     f.brokers,
		Topic:       f.topic,
		GroupID:     "closure-viewer-" + uuid.NewString(),
		StartOffset: kafka.LastOffset,
	}
}

func (f *Feed) Subscribe(ctx context.Context, maquilaID string, handler func(events.RowChange)) (interfaces.Subscription, error) {
	reader := kafka.NewReader(f.readerConfig())

	ctx, cancel := context.WithCancel(ctx)
	sub := &feedSubscription{cancel: cancel, reader: reader}

	go func() {
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				// ReadMessage retries transient broker errors internally, so an
				// error here means the subscription was cancelled or the reader
				// closed.
				if ctx.Err() == nil {
					f.log.WithField("maquila_id", maquilaID).Warnf("change feed stopped: %v", err)
				}
				return
			}

			var ev events.RowChange
			if err := json.Unmarshal(msg.Value, &ev); err != nil {
				f.log.WithField("maquila_id", maquilaID).Warnf("discarding malformed change event: %v", err)
				continue
			}
			if ev.Row.MaquilaID != maquilaID {
				continue
			}
			handler(ev)
		}
	}()

	return sub, nil
}

type feedSubscription struct {
	cancel context.CancelFunc
	reader *kafka.Reader
}

func (s *feedSubscription) Unsubscribe() error {
	s.cancel()
	return s.reader.Close()
}

var _ interfaces.ChangeFeed = (*Feed)(nil)
