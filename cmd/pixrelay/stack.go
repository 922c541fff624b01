package main

import (
	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/hosts"
	"github.com/pixrelay/pixrelay/internal/remote"
	"github.com/pixrelay/pixrelay/internal/uploader"
)

// backendStack is the full upload pipeline for one process: dispatcher
// and progress bus, the execution contract with its pacing gates, the
// adapter registry and the retry coordinator on top.
type backendStack struct {
	Bus         *remote.Bus
	Dispatcher  *remote.Dispatcher
	Contract    *uploader.Contract
	Registry    *uploader.Registry
	Coordinator *uploader.Coordinator
}

// newBackendStack wires every known host against the given config.
// Metrics may be nil for one-shot commands.
func newBackendStack(cfg *config.Config, metrics *uploader.Metrics) *backendStack {
	bus := remote.NewBus()
	dispatcher := remote.NewDispatcher()
	hosts.RegisterCommands(dispatcher, bus)

	contract := uploader.NewContract(uploader.ContractConfig{
		Dispatcher: dispatcher,
		Bus:        bus,
		Gates:      hosts.BuildGates(&cfg.Backends),
		Metrics:    metrics,
	})

	registry := uploader.NewRegistry()
	hosts.RegisterAdapters(registry, contract, &cfg.Backends)

	orch := uploader.NewOrchestrator(uploader.OrchestratorConfig{
		Registry: registry,
		Metrics:  metrics,
	})
	coord := uploader.NewCoordinator(uploader.CoordinatorConfig{
		Orchestrator: orch,
		Metrics:      metrics,
	})

	return &backendStack{
		Bus:         bus,
		Dispatcher:  dispatcher,
		Contract:    contract,
		Registry:    registry,
		Coordinator: coord,
	}
}
