//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"tdx-data/internal/app"
)

// InitializeRunner builds the ingestion dependencies from a finalized config via Wire.
func InitializeRunner(cfg *app.Config) (*app.Runner, error) {
	wire.Build(
		app.ProvideLogger,
		app.ProvideSeriesSaver,
		app.ProvideStore,
		app.ProvideTracker,
		app.ProvideErrorSink,
		app.ProvideScanner,
		wire.Struct(new(app.Runner), "*"),
	)
	return nil, nil
}
