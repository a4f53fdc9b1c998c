package main

import (
	"context"
	"fmt"
	"runtime"

	"photosort/internal/classifier"
	"photosort/internal/clip"
	"photosort/internal/config"
	"photosort/internal/logging"
	"photosort/internal/pipeline"
	"photosort/internal/store"
)

// app holds the long-lived collaborators of one command invocation.
type app struct {
	cfg      *config.Config
	store    *store.Store
	registry *clip.Registry
	runtime  clip.Runtime
	cores    int
}

func openStore(c *config.Config) (*store.Store, error) {
	return store.Open(c.Storage.Path, store.Options{Driver: c.Storage.Driver})
}

// newApp opens the store and prepares an engine registry.
func newApp(c *config.Config) (*app, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	s, err := openStore(c)
	if err != nil {
		return nil, err
	}
	deps := clipDeps(c)
	return &app{
		cfg:      c,
		store:    s,
		registry: clip.NewRegistry(deps),
		runtime:  deps.Runtime,
		cores:    runtime.NumCPU(),
	}, nil
}

func (a *app) classifiers(c *config.Config) (classifier.Set, error) {
	return classifier.Build(c, classifier.Deps{Registry: a.registry, Cores: a.cores})
}

func (a *app) orchestrator(obs pipeline.Observer) (*pipeline.Orchestrator, error) {
	return pipeline.New(pipeline.Deps{
		Store:       a.store,
		Classifiers: a.classifiers,
		Observer:    obs,
		Cores:       a.cores,
	})
}

// warmup builds the local engine ahead of the first job.
func (a *app) warmup(ctx context.Context) (*clip.Handle, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "engine warmup")
	defer timer.StopWithInfo()
	return a.registry.Acquire(ctx, classifier.ClipOptions(a.cfg, a.cores))
}

func (a *app) Close() {
	a.registry.Close()
	if err := a.store.Close(); err != nil {
		logging.Get(logging.CategoryStore).Error("failed to close store: %v", err)
	}
	if ort, ok := a.runtime.(*clip.ORTRuntime); ok {
		_ = ort.Shutdown()
	}
}
