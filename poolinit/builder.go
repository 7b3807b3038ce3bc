package poolinit

import (
	"encoding/json"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
)

// JSONSplitTxBuilder produces the same small JSON envelope
// gaspool.JSONTxDecoder expects, for dev/local deployments and tests that
// don't carry a full BCS transaction builder.
type JSONSplitTxBuilder struct{}

type splitTxEnvelope struct {
	GasOwner   string              `json:"gasOwner"`
	GasPayment []gastypes.ObjectRef `json:"gasPayment"`
	GasBudget  uint64              `json:"gasBudget"`
	GasPrice   uint64              `json:"gasPrice"`
	SplitCount int                 `json:"splitCount"`
}

func (JSONSplitTxBuilder) BuildPaySplitN(sender gastypes.Address, coin gastypes.ObjectRef, splitCount int, gasBudget, gasPrice uint64) ([]byte, error) {
	return json.Marshal(splitTxEnvelope{
		GasOwner:   sender.Hex(),
		GasPayment: []gastypes.ObjectRef{coin},
		GasBudget:  gasBudget,
		GasPrice:   gasPrice,
		SplitCount: splitCount,
	})
}
