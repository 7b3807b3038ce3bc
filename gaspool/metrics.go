package gaspool

import "github.com/ethereum/go-ethereum/metrics"

// Registered as package-level gauges, meters and timers: one var block,
// one flat namespace, no lazy registration.
var (
	reserveCountMeter       = metrics.NewRegisteredMeter("gaspool/reserve/count", nil)
	reserveInsufficientMeter = metrics.NewRegisteredMeter("gaspool/reserve/insufficient", nil)
	coinsPerReservationGauge = metrics.NewRegisteredGauge("gaspool/reserve/coins", nil)
	budgetGauge              = metrics.NewRegisteredGauge("gaspool/reserve/budget", nil)

	executeSuccessMeter = metrics.NewRegisteredMeter("gaspool/execute/success", nil)
	executeFailureMeter = metrics.NewRegisteredMeter("gaspool/execute/failure", nil)
	executeRejectedMeter = metrics.NewRegisteredMeter("gaspool/execute/rejected", nil)

	expirationsMeter = metrics.NewRegisteredMeter("gaspool/reaper/expirations", nil)
	lostCoinsMeter    = metrics.NewRegisteredMeter("gaspool/reaper/lost_coins", nil)

	executeTimer = metrics.NewRegisteredTimer("gaspool/execute/duration", nil)
	reapTimer    = metrics.NewRegisteredTimer("gaspool/reaper/duration", nil)
)
