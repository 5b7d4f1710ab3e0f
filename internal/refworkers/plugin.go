// ============================================================================
// cardbus reference worker: plugin adapter
// ============================================================================
//
// Package: internal/refworkers
// File: plugin.go
// Function: EventWorker<CardScanned ∪ AccessCardPushed> wrapping one plugin
// (§4.6). Startup/Shutdown bracket the run loop; postEvent honours an
// optional Loop() facet via a monotonic next-call deadline; handleEvent
// dispatches to whichever scan/push facets the plugin implements. The core
// calls only the facets a given plugin actually implements (§6 "Plugin
// facet set").
//
// ============================================================================

package refworkers

import (
	"time"

	"github.com/chuliyu/cardbus/internal/eventworker"
	"github.com/chuliyu/cardbus/pkg/types"
)

// PluginStartupper is the optional Startup facet.
type PluginStartupper interface{ Startup() }

// PluginShutdowner is the optional Shutdown facet.
type PluginShutdowner interface{ Shutdown() }

// PluginCardScanner is the optional CardScanned facet.
type PluginCardScanner interface{ CardScanned(scan types.CardScan) }

// PluginCardPusher is the optional CardDataPushed facet.
type PluginCardPusher interface{ CardDataPushed(card types.AccessCard) }

// PluginLooper is the optional Loop facet: it returns how long the core
// should wait before calling it again.
type PluginLooper interface{ Loop() time.Duration }

// PluginAdapterHandler implements eventworker.Handler for one plugin,
// calling only the facets it implements.
type PluginAdapterHandler struct {
	plugin any

	nextCallDeadline time.Time
}

// NewPluginAdapterWorker constructs a plugin adapter wrapping plugin, named
// for diagnostics.
func NewPluginAdapterWorker(name string, plugin any) *eventworker.Worker {
	h := &PluginAdapterHandler{plugin: plugin}
	return eventworker.New(name, h, nil)
}

func (h *PluginAdapterHandler) ConsumedEvents() []types.EventType {
	return []types.EventType{types.EventCardScanned, types.EventAccessCardPushed}
}

func (h *PluginAdapterHandler) PreRun() {
	if s, ok := h.plugin.(PluginStartupper); ok {
		s.Startup()
	}
}

func (h *PluginAdapterHandler) PostRun() {
	if s, ok := h.plugin.(PluginShutdowner); ok {
		s.Shutdown()
	}
}

func (h *PluginAdapterHandler) PreEvent() {}

// PostEvent calls the plugin's optional Loop() facet once its previously
// returned deadline has passed, tracked as a monotonic time.Time rather
// than a countdown so a slow iteration never causes a burst of catch-up
// calls.
func (h *PluginAdapterHandler) PostEvent() {
	looper, ok := h.plugin.(PluginLooper)
	if !ok {
		return
	}
	now := time.Now()
	if now.Before(h.nextCallDeadline) {
		return
	}
	h.nextCallDeadline = now.Add(looper.Loop())
}

func (h *PluginAdapterHandler) HandleEvent(e types.Event) {
	switch ev := e.(type) {
	case types.CardScanned:
		if s, ok := h.plugin.(PluginCardScanner); ok {
			s.CardScanned(ev.Scan)
		}
	case types.AccessCardPushed:
		if p, ok := h.plugin.(PluginCardPusher); ok {
			p.CardDataPushed(ev.Card)
		}
	}
}
