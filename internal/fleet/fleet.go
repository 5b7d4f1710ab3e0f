// ============================================================================
// cardbus fleet wiring
// ============================================================================
//
// Package: internal/fleet
// File: fleet.go
// Function: Wires config -> store sessions -> reference workers -> loop.
// This is the one place that knows about every concrete worker type; the
// rest of the codebase only depends on the loop's Worker/Subscriber
// interfaces.
//
// ============================================================================

package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/chuliyu/cardbus/internal/commproto"
	"github.com/chuliyu/cardbus/internal/config"
	"github.com/chuliyu/cardbus/internal/loop"
	"github.com/chuliyu/cardbus/internal/metrics"
	"github.com/chuliyu/cardbus/internal/refworkers"
	"github.com/chuliyu/cardbus/internal/resetclient"
	"github.com/chuliyu/cardbus/internal/store"
)

// stopTimeout bounds how long Stop waits for the loop (and, transitively,
// every monitor/worker) to quiesce.
const stopTimeout = 30 * time.Second

// Fleet owns every long-lived resource the worker fleet needs: the two
// store sessions, the comm-server client, and the loop itself.
type Fleet struct {
	Loop *loop.Loop

	acsStore *store.SQLiteSession
	logStore *store.SQLiteSession
	comm     *commproto.Client
}

// Build constructs a Fleet from cfg: opens both store sessions, dials the
// comm server, builds the DB-file watcher, card-scan, card-push,
// door-override, hardware-reset, comm-supervisor and socket-listener
// workers, and registers them all with a new Loop. Plugin adapters and the
// update bridge are not built here (see AddPlugin and UpdateBridge). The
// returned Fleet is ready for Loop.Start.
func Build(cfg *config.Config) (*Fleet, error) {
	acsStore, err := store.Open(cfg.Store.ACSPath, store.KindACS)
	if err != nil {
		return nil, fmt.Errorf("fleet: open ACS store: %w", err)
	}
	logStore, err := store.Open(cfg.Store.LogPath, store.KindLog)
	if err != nil {
		acsStore.Close()
		return nil, fmt.Errorf("fleet: open log store: %w", err)
	}

	comm := commproto.NewClient(fmt.Sprintf("%s:%d", cfg.CommServer.Host, cfg.CommServer.Port))
	if err := comm.DialTimeout(cfg.CommServer.DialTimeout); err != nil {
		logStore.Close()
		acsStore.Close()
		return nil, fmt.Errorf("fleet: dial comm server: %w", err)
	}

	reset := resetclient.New(cfg.DSXPI.Host, cfg.DSXPI.Secret)

	l := loop.New("event-loop")

	collector := metrics.NewCollector()
	l.SetMetrics(collector)

	knownLocations, err := allLocations(acsStore)
	if err != nil {
		return nil, fmt.Errorf("fleet: enumerate locations: %w", err)
	}

	dbWatcher, err := refworkers.NewDBWatcher(cfg.Store.ACSPath, cfg.Store.LogPath)
	if err != nil {
		return nil, fmt.Errorf("fleet: build db watcher: %w", err)
	}

	cardScan := refworkers.NewCardScanWorker(logStore, acsStore)
	cardScan.SetMetrics(collector)

	cardPush := refworkers.NewCardPushWorker(acsStore, knownLocations)
	cardPush.SetMetrics(collector)

	doorOverride := refworkers.NewDoorOverrideWorker(comm, cfg.CommServer.Workstation)
	doorOverride.SetMetrics(collector)

	hwReset := refworkers.NewHardwareResetWorker(acsStore, reset)
	hwReset.SetMetrics(collector)

	commSupervisor := refworkers.NewCommSupervisorWorker(refworkers.NewExecProcess("/usr/local/bin/dsxcommsvr"))
	commSupervisor.SetMetrics(collector)

	socketListener := refworkers.NewSocketListenerWorker(comm, cfg.CommServer.Workstation)

	l.Add(dbWatcher, cardScan, cardPush, doorOverride, hwReset, commSupervisor, socketListener)

	for _, pc := range cfg.Plugins {
		_ = pc // plugin construction is the embedder's responsibility; see AddPlugin
	}

	return &Fleet{Loop: l, acsStore: acsStore, logStore: logStore, comm: comm}, nil
}

// AddPlugin registers one plugin adapter (§4.6) before Loop.Start. Plugin
// construction is left to the caller, since it is config-path-driven and
// plugin-kind-specific; cmd/cardbusd registers no plugins.
func (f *Fleet) AddPlugin(name string, plugin any) {
	f.Loop.Add(refworkers.NewPluginAdapterWorker(name, plugin))
}

// UpdateBridge returns an update-callback bridge publishing onto this
// fleet's loop (§4.6); the caller wires it into the lookup layer that owns
// AccessCard/LocCards writes.
func (f *Fleet) UpdateBridge() *refworkers.UpdateBridge {
	return refworkers.NewUpdateBridge(f.Loop)
}

// Stop tears the loop down, then closes the store sessions and comm-server
// connection.
func (f *Fleet) Stop() error {
	err := f.Loop.Stop(stopTimeout)
	_ = f.comm.Close()
	_ = f.logStore.Close()
	_ = f.acsStore.Close()
	return err
}

func allLocations(acsStore *store.SQLiteSession) ([]int64, error) {
	rows, err := acsStore.Execute(context.Background(), `SELECT DISTINCT location_id FROM loc_cards`)
	if err != nil {
		return nil, err
	}
	locs := make([]int64, 0, len(rows))
	for _, row := range rows {
		if v, ok := row["location_id"].(int64); ok {
			locs = append(locs, v)
		}
	}
	return locs, nil
}
