package mysclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
)

// requestTimeout bounds a single HTTP round trip to the full node. Retries
// happen at the retryForever/retryWithAttempts layer above this client,
// which is kept separate from the per-request timeout so a slow-but-alive
// node and a genuinely unreachable one are retried the same way.
const requestTimeout = 10 * time.Second

// RPCClient talks JSON-RPC 2.0 to a MySocial full node over plain HTTP: a
// bare *http.Client with a fixed timeout and manual envelope
// marshal/unmarshal, no generated client.
type RPCClient struct {
	url        string
	httpClient *http.Client
}

func NewRPCClient(url string) *RPCClient {
	return &RPCClient{
		url:        url,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", method, err)
	}
	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return fmt.Errorf("%s: decoding response: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, rr.Error.Code, rr.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rr.Result, out)
}

func (c *RPCClient) ListOwnedCoins(ctx context.Context, address gastypes.Address, minBalance uint64) ([]gastypes.Coin, error) {
	return retryForever(ctx, "ListOwnedCoins", func() ([]gastypes.Coin, error) {
		var coins []gastypes.Coin
		cursor := ""
		for {
			var page struct {
				Data        []gastypes.Coin `json:"data"`
				NextCursor  string          `json:"nextCursor"`
				HasNextPage bool            `json:"hasNextPage"`
			}
			if err := c.call(ctx, "mys_getCoins", []interface{}{address.Hex(), cursor}, &page); err != nil {
				return nil, err
			}
			for _, coin := range page.Data {
				if coin.Balance >= minBalance {
					coins = append(coins, coin)
				}
			}
			if !page.HasNextPage {
				break
			}
			cursor = page.NextCursor
		}
		log.Debug("listed owned coins", "address", address.Hex(), "count", len(coins))
		return coins, nil
	})
}

func (c *RPCClient) MultiGetOwnerAndVersion(ctx context.Context, ids []gastypes.ObjectID) (map[gastypes.ObjectID]OwnerAndVersion, error) {
	return retryWithAttempts(ctx, "MultiGetOwnerAndVersion", 3, func() (map[gastypes.ObjectID]OwnerAndVersion, error) {
		params := make([]interface{}, len(ids))
		for i, id := range ids {
			params[i] = id.Hex()
		}
		var raw []struct {
			ObjectID string `json:"objectId"`
			Owner    struct {
				Kind    string `json:"kind"`
				Address string `json:"address"`
			} `json:"owner"`
			Version uint64 `json:"version"`
		}
		if err := c.call(ctx, "mys_multiGetObjectOwners", params, &raw); err != nil {
			return nil, err
		}
		out := make(map[gastypes.ObjectID]OwnerAndVersion, len(raw))
		for _, r := range raw {
			out[gastypes.HexToAddress(r.ObjectID)] = OwnerAndVersion{
				Owner:   decodeOwner(r.Owner.Kind, r.Owner.Address),
				Version: r.Version,
			}
		}
		return out, nil
	})
}

func decodeOwner(kind, address string) gastypes.Owner {
	switch kind {
	case "AddressOwner":
		return gastypes.Owner{Kind: gastypes.OwnerAddressOwner, Address: gastypes.HexToAddress(address)}
	case "ObjectOwner":
		return gastypes.Owner{Kind: gastypes.OwnerObjectOwner, Address: gastypes.HexToAddress(address)}
	case "Shared":
		return gastypes.Owner{Kind: gastypes.OwnerShared}
	default:
		return gastypes.Owner{Kind: gastypes.OwnerImmutable}
	}
}

// chunkSize bounds request size for batched coin lookups.
const chunkSize = 50

// MultiGetCoin fans its chunks out concurrently with errgroup rather than
// walking them one at a time: chunks are independent RPCs against the same
// node, so there is no reason to pay their latency serially.
func (c *RPCClient) MultiGetCoin(ctx context.Context, ids []gastypes.ObjectID) (map[gastypes.ObjectID]*gastypes.Coin, error) {
	result := make(map[gastypes.ObjectID]*gastypes.Coin, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		g.Go(func() error {
			chunkResult, err := retryForever(gctx, "MultiGetCoin", func() (map[gastypes.ObjectID]*gastypes.Coin, error) {
				params := make([]interface{}, len(chunk))
				for i, id := range chunk {
					params[i] = id.Hex()
				}
				var raw []struct {
					ObjectID string         `json:"objectId"`
					Coin     *gastypes.Coin `json:"coin"`
				}
				if err := c.call(gctx, "mys_multiGetObjects", params, &raw); err != nil {
					return nil, err
				}
				out := make(map[gastypes.ObjectID]*gastypes.Coin, len(raw))
				for _, r := range raw {
					out[gastypes.HexToAddress(r.ObjectID)] = r.Coin
				}
				return out, nil
			})
			if err != nil {
				return err
			}
			mu.Lock()
			for k, v := range chunkResult {
				result[k] = v
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *RPCClient) ReferenceGasPrice(ctx context.Context) (uint64, error) {
	return retryForever(ctx, "ReferenceGasPrice", func() (uint64, error) {
		var price uint64
		err := c.call(ctx, "mysx_getReferenceGasPrice", nil, &price)
		return price, err
	})
}

func (c *RPCClient) DevInspect(ctx context.Context, sender gastypes.Address, coin gastypes.ObjectRef, splitCount int) (uint64, error) {
	return retryForever(ctx, "DevInspect", func() (uint64, error) {
		var result struct {
			Effects struct {
				GasUsed uint64 `json:"gasUsed"`
			} `json:"effects"`
		}
		err := c.call(ctx, "mys_devInspectPaySplitN", []interface{}{sender.Hex(), coin.ObjectID.Hex(), splitCount}, &result)
		return result.Effects.GasUsed, err
	})
}

func (c *RPCClient) ExecuteTransaction(ctx context.Context, tx SignedTransaction, attempts int) (*Effects, error) {
	return retryWithAttempts(ctx, "ExecuteTransaction", attempts, func() (*Effects, error) {
		return c.submitAndWait(ctx, tx)
	})
}

func (c *RPCClient) SubmitSplit(ctx context.Context, signed SignedTransaction, attempts int) (*Effects, error) {
	return retryWithAttempts(ctx, "SubmitSplit", attempts, func() (*Effects, error) {
		return c.submitAndWait(ctx, signed)
	})
}

func (c *RPCClient) submitAndWait(ctx context.Context, tx SignedTransaction) (*Effects, error) {
	var raw effectsWire
	err := c.call(ctx, "mys_executeTransactionBlock", []interface{}{tx.TxBytes, tx.UserSig, tx.SponsorSig}, &raw)
	if err != nil {
		return nil, err
	}
	return raw.toEffects(), nil
}

func (c *RPCClient) WaitForObject(ctx context.Context, ref gastypes.ObjectRef) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		var current struct {
			Version uint64 `json:"version"`
		}
		if err := c.call(ctx, "mys_getObject", []interface{}{ref.ObjectID.Hex()}, &current); err == nil {
			if current.Version >= ref.Version {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type effectsWire struct {
	Status  string `json:"status"`
	Reason  string `json:"reason"`
	GasUsed uint64 `json:"gasUsed"`
	Mutated []struct {
		ObjectID string `json:"objectId"`
		Version  uint64 `json:"version"`
		Digest   string `json:"digest"`
		Owner    struct {
			Kind    string `json:"kind"`
			Address string `json:"address"`
		} `json:"owner"`
		IsCoin  bool   `json:"isCoin"`
		Balance uint64 `json:"balance"`
	} `json:"mutated"`
	Created []struct {
		ObjectID string `json:"objectId"`
		Version  uint64 `json:"version"`
		Digest   string `json:"digest"`
		Owner    struct {
			Kind    string `json:"kind"`
			Address string `json:"address"`
		} `json:"owner"`
		IsCoin  bool   `json:"isCoin"`
		Balance uint64 `json:"balance"`
	} `json:"created"`
	Deleted []string `json:"deleted"`
}

func (w *effectsWire) toEffects() *Effects {
	e := &Effects{GasUsed: w.GasUsed}
	if w.Status == "success" {
		e.Status = StatusSuccess
	} else {
		e.Status = StatusFailure
		e.RejectReason = w.Reason
	}
	for _, m := range w.Mutated {
		var digest gastypes.Digest
		_ = digest.UnmarshalJSON([]byte(`"` + m.Digest + `"`))
		e.Mutated = append(e.Mutated, MutatedObject{
			Ref: gastypes.ObjectRef{
				ObjectID: gastypes.HexToAddress(m.ObjectID),
				Version:  m.Version,
				Digest:   digest,
			},
			Owner:   decodeOwner(m.Owner.Kind, m.Owner.Address),
			IsCoin:  m.IsCoin,
			Balance: m.Balance,
		})
	}
	for _, cr := range w.Created {
		var digest gastypes.Digest
		_ = digest.UnmarshalJSON([]byte(`"` + cr.Digest + `"`))
		e.Created = append(e.Created, CreatedObject{
			Ref: gastypes.ObjectRef{
				ObjectID: gastypes.HexToAddress(cr.ObjectID),
				Version:  cr.Version,
				Digest:   digest,
			},
			Owner:   decodeOwner(cr.Owner.Kind, cr.Owner.Address),
			IsCoin:  cr.IsCoin,
			Balance: cr.Balance,
		})
	}
	for _, d := range w.Deleted {
		e.Deleted = append(e.Deleted, gastypes.HexToAddress(d))
	}
	return e
}
