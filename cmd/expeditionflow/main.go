package main

import (
	"ExpeditionFlow/internal/bootstrap"
	"ExpeditionFlow/internal/logging"
	pkg "ExpeditionFlow/pkg/routes"

	"go.uber.org/fx"
)

func main() {
	bootstrap.Loadenv()
	app := fx.New(
		fx.WithLogger(logging.FxLogger),
		pkg.CoreModules,
		pkg.EchoModules,
	)

	app.Run()
}
