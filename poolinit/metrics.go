package poolinit

import "github.com/ethereum/go-ethereum/metrics"

var (
	splitsMeter       = metrics.NewRegisteredMeter("poolinit/splits", nil)
	admittedGauge     = metrics.NewRegisteredGauge("poolinit/admitted", nil)
	costPerOutputGauge = metrics.NewRegisteredGauge("poolinit/cost_per_output", nil)
	runTimer          = metrics.NewRegisteredTimer("poolinit/run", nil)
)
