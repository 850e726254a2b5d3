package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"

	"rmakedrv/config"
	"rmakedrv/worker"
)

// fleetStatePath is where a worker.Fleet's suspended-node set survives
// between separate CLI invocations, since each `rmakedrv status`/
// `suspend`/`resume` call is its own process and spec.md leaves the
// dispatcher's wire transport (and therefore any cross-process node
// table) out of scope. Persisting just the suspended set keeps the
// admin surface usable without inventing that transport.
func fleetStatePath(cfg *config.Config) string {
	return filepath.Join(cfg.BuildLogPath, "fleet-suspended.json")
}

// loadFleet builds a worker.Fleet over cfg.Nodes and replays any
// previously persisted suspensions onto it.
func loadFleet(cfg *config.Config) (*worker.Fleet, error) {
	fleet := worker.NewFleet(cfg.Nodes)

	data, err := os.ReadFile(fleetStatePath(cfg))
	if os.IsNotExist(err) {
		return fleet, nil
	}
	if err != nil {
		return nil, err
	}

	var suspended []string
	if err := json.Unmarshal(data, &suspended); err != nil {
		return nil, err
	}
	_ = fleet.Suspend(suspended) // unknown ids from a since-edited Nodes list are ignored here
	return fleet, nil
}

// saveFleet persists fleet's currently suspended node ids.
func saveFleet(cfg *config.Config, fleet *worker.Fleet) error {
	status := fleet.Status()
	var suspended []string
	for _, n := range status.Nodes {
		if n.Suspended {
			suspended = append(suspended, n.ID)
		}
	}

	data, err := json.MarshalIndent(suspended, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fleetStatePath(cfg), data, 0644)
}
