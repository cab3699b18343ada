// Package webhook turns Contentstack webhook payloads into index updates.
//
// Parse classifies a payload into exactly one of Recognized, AssetEvent or
// Unrecognized. Dispatcher routes recognized entry events to the indexer:
// publish and update reindex the entry, unpublish and delete remove it.
// Asset events and unknown event names are acknowledged without work.
package webhook

import (
	"sort"
	"strings"

	"github.com/fyrsmithlabs/cmssearch/internal/content"
	"github.com/tidwall/gjson"
)

// DefaultLocale is used when a payload carries no locale.
const DefaultLocale = "en-us"

// SupportedEvents lists the entry events that change the index.
var SupportedEvents = []string{"entry.publish", "entry.update", "entry.unpublish", "entry.delete"}

// AssetEvents lists the asset events that are acknowledged without work.
var AssetEvents = []string{"asset.publish", "asset.update", "asset.unpublish", "asset.delete"}

// Event is one parsed webhook payload: Recognized, AssetEvent or Unrecognized.
type Event interface {
	// Name returns the raw event name, possibly empty.
	Name() string
	isEvent()
}

// Recognized is an entry event with everything needed to index it.
type Recognized struct {
	Event       string
	Entry       content.Entry
	ContentType string
	UID         string
	Locale      string
}

// AssetEvent is an event about an asset rather than an entry.
type AssetEvent struct {
	Event string
	UID   string
}

// Unrecognized is a payload that could not be classified.
type Unrecognized struct {
	Event    string
	Reason   string
	Module   string
	DataKeys []string
}

func (e Recognized) Name() string   { return e.Event }
func (e AssetEvent) Name() string   { return e.Event }
func (e Unrecognized) Name() string { return e.Event }

func (Recognized) isEvent()   {}
func (AssetEvent) isEvent()   {}
func (Unrecognized) isEvent() {}

// Parse classifies a webhook body.
//
// Rules, in order: event and data are required; module "asset" or a
// data.asset.uid makes an asset event; module "entry" with data.entry is the
// nested shape; data.uid with data.content_type_uid is the flat shape.
// Anything else is unrecognized, including entries whose content type cannot
// be determined from the payload.
func Parse(body []byte) Event {
	if !gjson.ValidBytes(body) {
		return Unrecognized{Reason: "body is not valid JSON"}
	}
	root := gjson.ParseBytes(body)
	event := root.Get("event").String()
	module := root.Get("module").String()
	data := root.Get("data")

	if event == "" || !data.IsObject() {
		return Unrecognized{Event: event, Module: module, Reason: "missing event or data"}
	}

	if module == "asset" || data.Get("asset.uid").Exists() {
		uid := data.Get("asset.uid").String()
		if uid == "" {
			uid = data.Get("uid").String()
		}
		return AssetEvent{Event: event, UID: uid}
	}

	if module == "entry" && data.Get("entry").IsObject() {
		entry := asEntry(data.Get("entry"))
		ct := firstNonEmpty(
			entry.String("content_type_uid"),
			data.Get("content_type.uid").String(),
			data.Get("content_type_uid").String(),
		)
		if ct == "" {
			return Unrecognized{Event: event, Module: module, Reason: "entry payload without content type", DataKeys: keys(data)}
		}
		if entry.UID() == "" {
			return Unrecognized{Event: event, Module: module, Reason: "entry payload without uid", DataKeys: keys(data)}
		}
		return Recognized{
			Event:       event,
			Entry:       entry,
			ContentType: ct,
			UID:         entry.UID(),
			Locale:      firstNonEmpty(entry.String("locale"), data.Get("locale").String(), DefaultLocale),
		}
	}

	if data.Get("uid").String() != "" && data.Get("content_type_uid").String() != "" {
		entry := asEntry(data)
		return Recognized{
			Event:       event,
			Entry:       entry,
			ContentType: entry.String("content_type_uid"),
			UID:         entry.UID(),
			Locale:      entry.Locale(DefaultLocale),
		}
	}

	return Unrecognized{Event: event, Module: module, Reason: "unsupported payload structure", DataKeys: keys(data)}
}

// Action is what an event asks of the index.
type Action string

const (
	ActionReindex Action = "reindex"
	ActionRemove  Action = "remove"
	ActionIgnore  Action = "ignore"
)

// ActionFor maps an event name to an action. Names may be bare ("publish")
// or prefixed ("entry.publish"). Asset and unknown events are ignored.
func ActionFor(event string) Action {
	switch strings.TrimPrefix(strings.ToLower(event), "entry.") {
	case "publish", "update":
		return ActionReindex
	case "unpublish", "delete":
		return ActionRemove
	default:
		return ActionIgnore
	}
}

func asEntry(r gjson.Result) content.Entry {
	m, _ := r.Value().(map[string]any)
	return content.Entry(m)
}

func keys(r gjson.Result) []string {
	var out []string
	r.ForEach(func(key, _ gjson.Result) bool {
		out = append(out, key.String())
		return true
	})
	sort.Strings(out)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
