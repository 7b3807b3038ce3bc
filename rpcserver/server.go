// Package rpcserver exposes the gas pool's two operations over plain HTTP
// JSON: a bare net/http.ServeMux, manual request/response structs, no
// generated framework. Authorization is a single bearer token read once at
// startup from GAS_STATION_AUTH; its absence is a fatal misconfiguration,
// not a runtime error.
package rpcserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gaserrors"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/mysclient"
)

// AuthEnvName is the environment variable holding the bearer token every
// request must present.
const AuthEnvName = "GAS_STATION_AUTH"

// ReadAuthEnv reads and validates AuthEnvName, panicking if it is unset:
// a gas station with no configured auth secret must never start serving.
func ReadAuthEnv() string {
	v, ok := os.LookupEnv(AuthEnvName)
	if !ok || v == "" {
		panic(fmt.Sprintf("%s environment variable must be specified", AuthEnvName))
	}
	return v
}

// GasPool is the subset of gaspool.Pool this server drives.
type GasPool interface {
	ReserveGas(ctx context.Context, budget uint64, durationSecs int64) (gastypes.ReservationID, []gastypes.ObjectRef, gastypes.Address, error)
	ExecuteTransaction(ctx context.Context, reservationID gastypes.ReservationID, txBytes []byte, userSig []byte) (*mysclient.Effects, error)
}

// Server wires the gas pool's two operations to HTTP.
type Server struct {
	pool       GasPool
	authToken  string
	httpServer *http.Server
}

func New(addr string, pool GasPool, authToken string) *Server {
	s := &Server{pool: pool, authToken: authToken}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/reserve_gas", s.handleReserveGas)
	mux.HandleFunc("/v1/execute_tx", s.handleExecuteTx)

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(mux)

	s.httpServer = &http.Server{Addr: addr, Handler: handler}
	return s
}

func (s *Server) ListenAndServe() error {
	log.Info("gas station rpc server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Close() error {
	return s.httpServer.Close()
}

func (s *Server) authorize(r *http.Request) bool {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	return len(h) > len(prefix) && h[:len(prefix)] == prefix && h[len(prefix):] == s.authToken
}

type reserveGasRequest struct {
	GasBudget           uint64 `json:"gas_budget"`
	ReserveDurationSecs int64  `json:"reserve_duration_secs"`
}

type coinRefJSON struct {
	ObjectID string `json:"objectId"`
	Version  uint64 `json:"version"`
	Digest   string `json:"digest"`
}

type reserveGasResult struct {
	SponsorAddress string        `json:"sponsor_address"`
	ReservationID  uint64        `json:"reservation_id"`
	GasCoins       []coinRefJSON `json:"gas_coins"`
}

type reserveGasResponse struct {
	Result *reserveGasResult `json:"result"`
	Error  *string           `json:"error"`
}

func (s *Server) handleReserveGas(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	if !s.authorize(r) {
		writeJSON(w, http.StatusUnauthorized, reserveGasResponse{Error: strPtr("unauthorized")})
		return
	}
	var req reserveGasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, reserveGasResponse{Error: strPtr("malformed request body")})
		return
	}

	id, refs, sponsor, err := s.pool.ReserveGas(r.Context(), req.GasBudget, req.ReserveDurationSecs)
	if err != nil {
		log.Warn("reserve_gas failed", "request_id", requestID, "err", err)
		writeJSON(w, statusForError(err), reserveGasResponse{Error: strPtr(err.Error())})
		return
	}

	coins := make([]coinRefJSON, len(refs))
	for i, ref := range refs {
		coins[i] = coinRefJSON{ObjectID: ref.ObjectID.Hex(), Version: ref.Version, Digest: ref.Digest.Hex()}
	}
	writeJSON(w, http.StatusOK, reserveGasResponse{Result: &reserveGasResult{
		SponsorAddress: sponsor.Hex(),
		ReservationID:  uint64(id),
		GasCoins:       coins,
	}})
}

type executeTxRequest struct {
	ReservationID uint64 `json:"reservation_id"`
	TxBytes       string `json:"tx_bytes"`
	UserSig       string `json:"user_sig"`
}

type executeTxResponse struct {
	Effects *mysclient.Effects `json:"effects"`
	Error   *string            `json:"error"`
}

func (s *Server) handleExecuteTx(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	if !s.authorize(r) {
		writeJSON(w, http.StatusUnauthorized, executeTxResponse{Error: strPtr("unauthorized")})
		return
	}
	var req executeTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, executeTxResponse{Error: strPtr("malformed request body")})
		return
	}
	txBytes, err := base64.StdEncoding.DecodeString(req.TxBytes)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, executeTxResponse{Error: strPtr("tx_bytes is not valid base64")})
		return
	}
	userSig, err := base64.StdEncoding.DecodeString(req.UserSig)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, executeTxResponse{Error: strPtr("user_sig is not valid base64")})
		return
	}

	effects, err := s.pool.ExecuteTransaction(r.Context(), gastypes.ReservationID(req.ReservationID), txBytes, userSig)
	if err != nil {
		log.Warn("execute_tx failed", "request_id", requestID, "err", err)
		writeJSON(w, statusForError(err), executeTxResponse{Effects: effects, Error: strPtr(err.Error())})
		return
	}
	writeJSON(w, http.StatusOK, executeTxResponse{Effects: effects})
}

// statusForError maps the gas station's error taxonomy to HTTP status
// codes; the JSON error string itself is what callers are expected to
// match on, the status code is advisory only.
func statusForError(err error) int {
	switch {
	case isErr(err, gaserrors.ErrInvalidRequest), isErr(err, gaserrors.ErrInvalidTransaction):
		return http.StatusBadRequest
	case isErr(err, gaserrors.ErrReservationNotFound):
		return http.StatusNotFound
	case isErr(err, gaserrors.ErrInsufficientPool):
		return http.StatusServiceUnavailable
	case isErr(err, gaserrors.ErrChainUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isErr(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("rpcserver: failed to encode response", "err", err)
	}
}

func strPtr(s string) *string { return &s }
