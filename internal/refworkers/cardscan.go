// ============================================================================
// cardbus reference worker: card-scan watcher
// ============================================================================
//
// Package: internal/refworkers
// File: cardscan.go
// Function: EventWorker<LogDatabaseUpdated ∪ RawCommServerEvent> (§4.6).
// Tracks a watermark of the last reported scan time and emits CardScanned
// for recognised kinds from either the log store (on a DB-file change) or a
// freshly parsed vendor telemetry packet.
//
// ============================================================================

package refworkers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chuliyu/cardbus/internal/eventworker"
	"github.com/chuliyu/cardbus/internal/store"
	"github.com/chuliyu/cardbus/pkg/types"
)

var log = slog.Default()

// errUnparseableTime is returned by parseRowTime when a scan_log row's
// scan_time column is neither a RFC3339 string nor a time.Time.
var errUnparseableTime = errors.New("refworkers: unparseable scan_time value")

// CardScanHandler implements eventworker.Handler for the card-scan watcher.
type CardScanHandler struct {
	eventworker.NoopHooks

	logStore store.Session
	acsStore store.Session

	worker *eventworker.Worker

	mu        sync.Mutex
	watermark time.Time
}

// NewCardScanWorker constructs the card-scan watcher bound to the log store
// (where scan history lives) and the ACS store (used to resolve a
// card-number to a name for telemetry arriving directly off the wire).
func NewCardScanWorker(logStore, acsStore store.Session) *eventworker.Worker {
	h := &CardScanHandler{logStore: logStore, acsStore: acsStore}
	w := eventworker.New("card-scan-watcher", h, nil)
	h.worker = w
	return w
}

func (h *CardScanHandler) ConsumedEvents() []types.EventType {
	return []types.EventType{types.EventLogDatabaseUpdated, types.EventRawCommServerEvent}
}

func (h *CardScanHandler) HandleEvent(e types.Event) {
	switch ev := e.(type) {
	case types.LogDatabaseUpdated:
		h.handleLogUpdated()
	case types.RawCommServerEvent:
		h.handleRawEvent(ev)
	}
}

// handleLogUpdated queries every scan_log row strictly after the current
// watermark, ascending, emitting CardScanned for each recognised kind and
// advancing the watermark to the last row processed (§4.6).
func (h *CardScanHandler) handleLogUpdated() {
	h.mu.Lock()
	watermark := h.watermark
	h.mu.Unlock()

	rows, err := h.logStore.Execute(context.Background(),
		`SELECT card_number, name_id, scan_time, device, event_type, location_id
		   FROM scan_log WHERE scan_time > ? ORDER BY scan_time ASC`,
		watermark.Format(time.RFC3339Nano))
	if err != nil {
		log.Error("card-scan watcher: query scan_log", "error", err)
		return
	}

	var latest time.Time
	for _, row := range rows {
		kind, _ := row["event_type"].(int64)
		if !types.IsCardScanKind(int(kind)) {
			continue
		}
		scanTime, err := parseRowTime(row["scan_time"])
		if err != nil {
			log.Warn("card-scan watcher: unparseable scan_time", "error", err)
			continue
		}

		var nameID *int
		if v, ok := row["name_id"].(int64); ok {
			n := int(v)
			nameID = &n
		}
		cardNumber, _ := row["card_number"].(int64)
		device, _ := row["device"].(int64)
		locationID, _ := row["location_id"].(int64)

		h.worker.Emit(types.CardScanned{Scan: types.CardScan{
			NameID:     nameID,
			CardNumber: int(cardNumber),
			ScanTime:   scanTime,
			Device:     int(device),
			EventType:  types.CardEventType(kind),
			LocationID: int(locationID),
		}})

		if scanTime.After(latest) {
			latest = scanTime
		}
	}

	if !latest.IsZero() {
		h.mu.Lock()
		if latest.After(h.watermark) {
			h.watermark = latest
		}
		h.mu.Unlock()
	}
}

// handleRawEvent drops telemetry at or before the current watermark
// (§4.6 "drop if timestamp ≤ watermark"), otherwise resolves the scanning
// card's name and emits CardScanned, advancing the watermark to this
// packet's timestamp.
func (h *CardScanHandler) handleRawEvent(ev types.RawCommServerEvent) {
	if !types.IsCardScanKind(ev.Kind) {
		return
	}

	h.mu.Lock()
	watermark := h.watermark
	h.mu.Unlock()
	if !ev.Timestamp.After(watermark) {
		return
	}

	nameID := h.lookupNameID(ev.CardNumber)

	h.worker.Emit(types.CardScanned{Scan: types.CardScan{
		NameID:     nameID,
		CardNumber: ev.CardNumber,
		ScanTime:   ev.Timestamp,
		EventType:  types.CardEventType(ev.Kind),
		LocationID: ev.LocationID,
	}})

	h.mu.Lock()
	if ev.Timestamp.After(h.watermark) {
		h.watermark = ev.Timestamp
	}
	h.mu.Unlock()
}

func (h *CardScanHandler) lookupNameID(cardNumber int) *int {
	v, err := h.acsStore.Scalar(context.Background(),
		`SELECT name_id FROM access_cards WHERE card_number = ?`, cardNumber)
	if err != nil || v == nil {
		return nil
	}
	n, ok := v.(int64)
	if !ok {
		return nil
	}
	id := int(n)
	return &id
}

func parseRowTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		return time.Parse(time.RFC3339Nano, t)
	case time.Time:
		return t, nil
	default:
		return time.Time{}, errUnparseableTime
	}
}
