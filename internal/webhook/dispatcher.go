package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/cmssearch/internal/content"
	"github.com/fyrsmithlabs/cmssearch/internal/indexer"
	"github.com/fyrsmithlabs/cmssearch/internal/logging"
	"go.uber.org/zap"
)

// ErrUnrecognized is returned for payloads Parse could not classify.
var ErrUnrecognized = errors.New("unrecognized webhook payload")

// Indexer applies entry changes to the index. *indexer.Service satisfies it.
type Indexer interface {
	Reindex(ctx context.Context, entry content.Entry, contentTypeRaw, locale string) (indexer.Outcome, error)
	Remove(ctx context.Context, uid, locale string) error
}

// Result describes how an event was handled.
type Result struct {
	Event       string
	Action      Action
	EntryUID    string
	ContentType string
	Locale      string
	AssetUID    string

	// Skipped is set when a reindex found too little text to index.
	Skipped bool
}

// Dispatcher routes parsed events to an Indexer.
type Dispatcher struct {
	indexer Indexer
	logger  *logging.Logger
}

// NewDispatcher creates a Dispatcher. A nil logger discards output.
func NewDispatcher(idx Indexer, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{indexer: idx, logger: logger.Named("webhook")}
}

// Dispatch handles one event. Unrecognized payloads return ErrUnrecognized;
// asset events and unknown entry event names are acknowledged with
// ActionIgnore. Indexer failures are returned wrapped.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (Result, error) {
	switch ev := ev.(type) {
	case AssetEvent:
		d.logger.Info(ctx, "asset webhook acknowledged",
			zap.String("event", ev.Event),
			zap.String("asset_uid", ev.UID),
		)
		EventsTotal.WithLabelValues(kindAsset, string(ActionIgnore), resultSuccess).Inc()
		return Result{Event: ev.Event, Action: ActionIgnore, AssetUID: ev.UID}, nil

	case Recognized:
		return d.dispatchEntry(ctx, ev)

	case Unrecognized:
		d.logger.Warn(ctx, "unrecognized webhook payload",
			zap.String("event", ev.Event),
			zap.String("module", ev.Module),
			zap.String("reason", ev.Reason),
			zap.Strings("data_keys", ev.DataKeys),
		)
		EventsTotal.WithLabelValues(kindUnrecognized, string(ActionIgnore), resultError).Inc()
		return Result{Event: ev.Event, Action: ActionIgnore}, fmt.Errorf("%w: %s", ErrUnrecognized, ev.Reason)

	default:
		return Result{}, fmt.Errorf("%w: unexpected event type %T", ErrUnrecognized, ev)
	}
}

func (d *Dispatcher) dispatchEntry(ctx context.Context, ev Recognized) (Result, error) {
	ctx = logging.WithEntry(ctx, logging.EntryRef{ContentType: ev.ContentType, UID: ev.UID, Locale: ev.Locale})
	res := Result{
		Event:       ev.Event,
		Action:      ActionFor(ev.Event),
		EntryUID:    ev.UID,
		ContentType: ev.ContentType,
		Locale:      ev.Locale,
	}
	d.logger.Info(ctx, "webhook received", zap.String("event", ev.Event), zap.String("action", string(res.Action)))

	var err error
	switch res.Action {
	case ActionReindex:
		var out indexer.Outcome
		out, err = d.indexer.Reindex(ctx, ev.Entry, ev.ContentType, ev.Locale)
		res.Skipped = out.Skipped
	case ActionRemove:
		err = d.indexer.Remove(ctx, ev.UID, ev.Locale)
	default:
		d.logger.Info(ctx, "unhandled webhook event acknowledged", zap.String("event", ev.Event))
	}

	result := resultSuccess
	switch {
	case err != nil:
		result = resultError
	case res.Skipped:
		result = resultSkipped
	}
	EventsTotal.WithLabelValues(kindEntry, string(res.Action), result).Inc()

	if err != nil {
		d.logger.Error(ctx, "webhook processing failed", zap.String("event", ev.Event), zap.Error(err))
		return res, fmt.Errorf("handling %s for %s: %w", ev.Event, ev.UID, err)
	}
	return res, nil
}
