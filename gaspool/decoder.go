package gaspool

import (
	"encoding/json"
	"fmt"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/mysclient"
)

// JSONTxDecoder decodes a transaction's gas-relevant fields from a small
// JSON envelope. The chain's real transaction encoding is BCS, outside
// this repository's concern (see TxDecoder); this decoder
// exists so the gas pool is independently testable and so a dev/local
// deployment has a working decoder without a full BCS implementation.
type JSONTxDecoder struct{}

type txEnvelope struct {
	GasOwner   string              `json:"gasOwner"`
	GasPayment []gastypes.ObjectRef `json:"gasPayment"`
	GasBudget  uint64              `json:"gasBudget"`
	GasPrice   uint64              `json:"gasPrice"`
}

func (JSONTxDecoder) Decode(txBytes []byte) (mysclient.TransactionKind, error) {
	var env txEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return mysclient.TransactionKind{}, fmt.Errorf("decoding transaction envelope: %w", err)
	}
	return mysclient.TransactionKind{
		GasOwner:   gastypes.HexToAddress(env.GasOwner),
		GasPayment: env.GasPayment,
		GasBudget:  env.GasBudget,
		GasPrice:   env.GasPrice,
		RawBytes:   txBytes,
	}, nil
}
