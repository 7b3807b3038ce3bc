package rpcserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gaserrors"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/mysclient"
)

type fakePool struct {
	reserveID    gastypes.ReservationID
	reserveRefs  []gastypes.ObjectRef
	reserveAddr  gastypes.Address
	reserveErr   error
	executeEffects *mysclient.Effects
	executeErr   error
}

func (f *fakePool) ReserveGas(ctx context.Context, budget uint64, durationSecs int64) (gastypes.ReservationID, []gastypes.ObjectRef, gastypes.Address, error) {
	return f.reserveID, f.reserveRefs, f.reserveAddr, f.reserveErr
}

func (f *fakePool) ExecuteTransaction(ctx context.Context, reservationID gastypes.ReservationID, txBytes []byte, userSig []byte) (*mysclient.Effects, error) {
	return f.executeEffects, f.executeErr
}

func TestReserveGasRequiresAuth(t *testing.T) {
	s := New(":0", &fakePool{}, "secret")
	req := httptest.NewRequest(http.MethodPost, "/v1/reserve_gas", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReserveGasSuccess(t *testing.T) {
	sponsor := gastypes.HexToAddress("0xaa")
	pool := &fakePool{
		reserveID:   7,
		reserveRefs: []gastypes.ObjectRef{{ObjectID: gastypes.HexToAddress("0x01"), Version: 1}},
		reserveAddr: sponsor,
	}
	s := New(":0", pool, "secret")

	body, _ := json.Marshal(reserveGasRequest{GasBudget: 100, ReserveDurationSecs: 60})
	req := httptest.NewRequest(http.MethodPost, "/v1/reserve_gas", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp reserveGasResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
	require.Equal(t, uint64(7), resp.Result.ReservationID)
	require.Equal(t, sponsor.Hex(), resp.Result.SponsorAddress)
}

func TestReserveGasInsufficientPoolMapsTo503(t *testing.T) {
	pool := &fakePool{reserveErr: gaserrors.ErrInsufficientPool}
	s := New(":0", pool, "secret")

	body, _ := json.Marshal(reserveGasRequest{GasBudget: 100, ReserveDurationSecs: 60})
	req := httptest.NewRequest(http.MethodPost, "/v1/reserve_gas", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestExecuteTxSuccess(t *testing.T) {
	pool := &fakePool{executeEffects: &mysclient.Effects{Status: mysclient.StatusSuccess}}
	s := New(":0", pool, "secret")

	body, _ := json.Marshal(executeTxRequest{
		ReservationID: 1,
		TxBytes:       base64.StdEncoding.EncodeToString([]byte("tx")),
		UserSig:       base64.StdEncoding.EncodeToString([]byte("sig")),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/execute_tx", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp executeTxResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
	require.Equal(t, mysclient.StatusSuccess, resp.Effects.Status)
}

func TestExecuteTxRejectsInvalidBase64(t *testing.T) {
	pool := &fakePool{}
	s := New(":0", pool, "secret")

	body, _ := json.Marshal(executeTxRequest{ReservationID: 1, TxBytes: "not-base64!!", UserSig: "also-not"})
	req := httptest.NewRequest(http.MethodPost, "/v1/execute_tx", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
