// ============================================================================
// cardbus reference worker: card-pushed watcher
// ============================================================================
//
// Package: internal/refworkers
// File: cardpush.go
// Function: EventWorker<AcsDatabaseUpdated ∪ AccessCardUpdated ∪
// LocCardUpdated> (§4.6). Tracks pending (location, cardId) rows per card
// against an allow-set of known locations; on AcsDatabaseUpdated, checks
// each pending row's downloaded flag and emits exactly one AccessCardPushed
// once every pending location for a card has cleared.
//
// ============================================================================

package refworkers

import (
	"context"
	"sync"

	"github.com/chuliyu/cardbus/internal/eventworker"
	"github.com/chuliyu/cardbus/internal/store"
	"github.com/chuliyu/cardbus/pkg/types"
)

// CardPushHandler implements eventworker.Handler for the card-pushed
// watcher.
type CardPushHandler struct {
	eventworker.NoopHooks

	acsStore       store.Session
	knownLocations map[int64]struct{}

	worker *eventworker.Worker

	mu      sync.Mutex
	cards   map[int64]types.AccessCard    // cardID -> last known identity
	pending map[int64]map[int64]struct{} // cardID -> set of locationIDs awaiting download
}

// NewCardPushWorker constructs the card-pushed watcher. knownLocations is
// the allow-set of controller-group locations this installation manages;
// LocCardUpdated rows for any other location are ignored.
func NewCardPushWorker(acsStore store.Session, knownLocations []int64) *eventworker.Worker {
	locs := make(map[int64]struct{}, len(knownLocations))
	for _, l := range knownLocations {
		locs[l] = struct{}{}
	}
	h := &CardPushHandler{
		acsStore:       acsStore,
		knownLocations: locs,
		cards:          make(map[int64]types.AccessCard),
		pending:        make(map[int64]map[int64]struct{}),
	}
	w := eventworker.New("card-push-watcher", h, nil)
	h.worker = w
	return w
}

func (h *CardPushHandler) ConsumedEvents() []types.EventType {
	return []types.EventType{
		types.EventAcsDatabaseUpdated,
		types.EventAccessCardUpdated,
		types.EventLocCardUpdated,
	}
}

func (h *CardPushHandler) HandleEvent(e types.Event) {
	switch ev := e.(type) {
	case types.AccessCardUpdated:
		h.mu.Lock()
		h.cards[ev.Card.ID] = ev.Card
		h.mu.Unlock()
	case types.LocCardUpdated:
		if _, known := h.knownLocations[ev.LocationID]; !known {
			return
		}
		h.mu.Lock()
		if h.pending[ev.CardID] == nil {
			h.pending[ev.CardID] = make(map[int64]struct{})
		}
		h.pending[ev.CardID][ev.LocationID] = struct{}{}
		h.mu.Unlock()
	case types.AcsDatabaseUpdated:
		h.checkPending()
	}
}

// checkPending re-queries the downloaded flag for every still-pending
// (card, location) row, clears the ones that have landed, and emits
// AccessCardPushed for any card whose pending set is now empty.
func (h *CardPushHandler) checkPending() {
	h.mu.Lock()
	cardIDs := make([]int64, 0, len(h.pending))
	for id := range h.pending {
		cardIDs = append(cardIDs, id)
	}
	h.mu.Unlock()

	for _, cardID := range cardIDs {
		h.mu.Lock()
		locs := make([]int64, 0, len(h.pending[cardID]))
		for loc := range h.pending[cardID] {
			locs = append(locs, loc)
		}
		h.mu.Unlock()

		for _, loc := range locs {
			downloaded, err := h.isDownloaded(cardID, loc)
			if err != nil {
				log.Warn("card-push watcher: query loc_cards", "error", err)
				continue
			}
			if downloaded {
				h.mu.Lock()
				delete(h.pending[cardID], loc)
				h.mu.Unlock()
			}
		}

		h.mu.Lock()
		cleared := len(h.pending[cardID]) == 0
		card, haveCard := h.cards[cardID]
		if cleared {
			delete(h.pending, cardID)
		}
		h.mu.Unlock()

		if cleared && !haveCard {
			// No AccessCardUpdated was seen for this card: read its
			// identity from the ACS store instead.
			card = types.AccessCard{ID: cardID}
			rows, err := h.acsStore.Execute(context.Background(),
				`SELECT card_number, name_id FROM access_cards WHERE id = ?`, cardID)
			if err == nil && len(rows) == 1 {
				number, _ := rows[0]["card_number"].(int64)
				nameID, _ := rows[0]["name_id"].(int64)
				card.CardNumber, card.NameID = int(number), int(nameID)
			}
		}
		if cleared {
			h.worker.Emit(types.AccessCardPushed{Card: card})
		}
	}
}

func (h *CardPushHandler) isDownloaded(cardID, locationID int64) (bool, error) {
	v, err := h.acsStore.Scalar(context.Background(),
		`SELECT downloaded FROM loc_cards WHERE card_id = ? AND location_id = ?`,
		cardID, locationID)
	if err != nil || v == nil {
		return false, err
	}
	n, _ := v.(int64)
	return n != 0, nil
}
