package txsigner

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gaserrors"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
)

const sidecarTimeout = 5 * time.Second

// Sidecar signs transactions by delegating to an HTTP signing service that
// holds the sponsor's private key: a bare *http.Client with a fixed
// timeout, manual JSON envelopes, no generated client.
type Sidecar struct {
	url        string
	httpClient *http.Client
	address    gastypes.Address
}

// NewSidecar resolves the sponsor address from the sidecar once at
// construction time and never again: the signer is immutable thereafter.
func NewSidecar(ctx context.Context, url string) (*Sidecar, error) {
	s := &Sidecar{
		url:        url,
		httpClient: &http.Client{Timeout: sidecarTimeout},
	}
	addr, err := s.fetchAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get pubkey address from signer sidecar at %s: %w", url, err)
	}
	s.address = addr
	log.Info("sidecar signer initialized", "url", url, "address", addr.Hex())
	return s, nil
}

func (s *Sidecar) fetchAddress(ctx context.Context) (gastypes.Address, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/get-pubkey-address", nil)
	if err != nil {
		return gastypes.Address{}, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return gastypes.Address{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gastypes.Address{}, err
	}
	var out struct {
		MysPubkeyAddress string `json:"mysPubkeyAddress"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return gastypes.Address{}, fmt.Errorf("parsing address response: %w", err)
	}
	return gastypes.HexToAddress(out.MysPubkeyAddress), nil
}

func (s *Sidecar) Address() gastypes.Address { return s.address }

func (s *Sidecar) Sign(ctx context.Context, txBytes []byte) ([]byte, error) {
	payload, err := json.Marshal(struct {
		TxBytes string `json:"txBytes"`
	}{TxBytes: base64.StdEncoding.EncodeToString(txBytes)})
	if err != nil {
		return nil, gaserrors.Signer(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/sign-transaction", bytes.NewReader(payload))
	if err != nil {
		return nil, gaserrors.Signer(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, gaserrors.Signer(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gaserrors.Signer(err)
	}
	var out struct {
		Signature string `json:"signature"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, gaserrors.Signer(fmt.Errorf("parsing sign response: %w", err))
	}
	if out.Error != "" {
		return nil, gaserrors.Signer(fmt.Errorf("sidecar: %s", out.Error))
	}
	sig, err := base64.StdEncoding.DecodeString(out.Signature)
	if err != nil {
		return nil, gaserrors.Signer(fmt.Errorf("decoding signature: %w", err))
	}
	return sig, nil
}
