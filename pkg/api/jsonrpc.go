// Package api exposes the fund core over JSON-RPC 2.0.
package api

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/fund/pkg/fund"
)

// JSONRPCServer handles JSON-RPC 2.0 requests against the fund core.
type JSONRPCServer struct {
	funds     *fund.FundManager
	requestor *fund.Requestor
	logger    log.Logger
}

// NewJSONRPCServer creates a server over a fund manager and requestor.
func NewJSONRPCServer(funds *fund.FundManager, requestor *fund.Requestor, logger log.Logger) *JSONRPCServer {
	return &JSONRPCServer{funds: funds, requestor: requestor, logger: logger}
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// ServeHTTP implements http.Handler.
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, ParseError, "Parse error")
		return
	}
	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, InvalidRequest, "Invalid Request")
		return
	}

	result, err := s.handleMethod(req.Method, req.Params)
	if err != nil {
		s.logger.Debug("rpc call failed", "method", req.Method, "error", err)
		rpcErr, ok := err.(*RPCError)
		if !ok {
			rpcErr = &RPCError{Code: InternalError, Message: err.Error()}
		}
		s.sendError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

func (s *JSONRPCServer) handleMethod(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	// Fund lifecycle
	case "fund_createFund":
		return s.createFund(params)
	case "fund_getFund":
		return s.getFund(params)
	case "fund_listFunds":
		return s.listFunds()
	case "fund_shutDown":
		return s.shutDown(params)

	// Pricing
	case "fund_gav":
		return s.gav(params)
	case "fund_sharePrice":
		return s.sharePrice(params)
	case "fund_balanceOf":
		return s.balanceOf(params)

	// Share requests
	case "fund_requestShares":
		return s.requestShares(params)
	case "fund_executeRequest":
		return s.executeRequest(params)
	case "fund_cancelRequest":
		return s.cancelRequest(params)
	case "fund_getRequest":
		return s.getRequest(params)

	// Redemption, fees, trading
	case "fund_redeemShares":
		return s.redeemShares(params)
	case "fund_rewardAllFees":
		return s.rewardAllFees(params)
	case "fund_callOnIntegration":
		return s.callOnIntegration(params)

	case "fund_ping":
		return "pong", nil

	default:
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}
}

type fundParams struct {
	Fund string `json:"fund"`
}

type createFundParams struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Manager           string `json:"manager"`
	DenominationAsset string `json:"denominationAsset"`
	ManagementFeeBps  uint64 `json:"managementFeeBps"`
	PerformanceFeeBps uint64 `json:"performanceFeeBps"`
	FeePeriodSeconds  int64  `json:"feePeriodSeconds"`
}

func (s *JSONRPCServer) createFund(params json.RawMessage) (interface{}, error) {
	var p createFundParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	h, err := s.funds.CreateFund(fund.FundConfig{
		ID:                p.ID,
		Name:              p.Name,
		Manager:           p.Manager,
		DenominationAsset: p.DenominationAsset,
		ManagementFeeBps:  p.ManagementFeeBps,
		PerformanceFeeBps: p.PerformanceFeeBps,
		FeePeriod:         secondsToDuration(p.FeePeriodSeconds),
	})
	if err != nil {
		return nil, err
	}
	return s.fundInfo(h), nil
}

func (s *JSONRPCServer) getFund(params json.RawMessage) (interface{}, error) {
	h, err := s.lookupFund(params)
	if err != nil {
		return nil, err
	}
	return s.fundInfo(h), nil
}

func (s *JSONRPCServer) listFunds() (interface{}, error) {
	hubs := s.funds.ListFunds()
	out := make([]map[string]interface{}, 0, len(hubs))
	for _, h := range hubs {
		out = append(out, s.fundInfo(h))
	}
	return out, nil
}

type shutDownParams struct {
	Fund   string `json:"fund"`
	Caller string `json:"caller"`
}

func (s *JSONRPCServer) shutDown(params json.RawMessage) (interface{}, error) {
	var p shutDownParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	h, err := s.funds.GetFund(p.Fund)
	if err != nil {
		return nil, err
	}
	if err := h.ShutDown(p.Caller); err != nil {
		return nil, err
	}
	return map[string]interface{}{"fund": p.Fund, "state": h.State().String()}, nil
}

func (s *JSONRPCServer) gav(params json.RawMessage) (interface{}, error) {
	h, err := s.lookupFund(params)
	if err != nil {
		return nil, err
	}
	gav, err := h.Shares().CalcGAV()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"fund": h.ID, "gav": gav.String(), "denom": h.Shares().DenominationAsset()}, nil
}

func (s *JSONRPCServer) sharePrice(params json.RawMessage) (interface{}, error) {
	h, err := s.lookupFund(params)
	if err != nil {
		return nil, err
	}
	price, err := h.Shares().SharePrice()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"fund":        h.ID,
		"sharePrice":  price.String(),
		"totalSupply": h.Shares().TotalSupply().String(),
	}, nil
}

type ownerFundParams struct {
	Owner string `json:"owner"`
	Fund  string `json:"fund"`
}

func (s *JSONRPCServer) balanceOf(params json.RawMessage) (interface{}, error) {
	var p ownerFundParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	h, err := s.funds.GetFund(p.Fund)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"owner":   p.Owner,
		"fund":    p.Fund,
		"balance": h.Shares().BalanceOf(p.Owner).String(),
	}, nil
}

type requestSharesParams struct {
	Owner     string `json:"owner"`
	Fund      string `json:"fund"`
	Amount    string `json:"amount"`
	MinShares string `json:"minShares"`
}

func (s *JSONRPCServer) requestShares(params json.RawMessage) (interface{}, error) {
	var p requestSharesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	amount, err := parseBig(p.Amount)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	minShares, err := parseBig(p.MinShares)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	req, err := s.requestor.RequestShares(p.Owner, p.Fund, amount, minShares)
	if err != nil {
		return nil, err
	}
	return requestInfo(req), nil
}

type executeRequestParams struct {
	Caller string `json:"caller"`
	Owner  string `json:"owner"`
	Fund   string `json:"fund"`
}

func (s *JSONRPCServer) executeRequest(params json.RawMessage) (interface{}, error) {
	var p executeRequestParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	shares, err := s.requestor.ExecuteRequestFor(p.Caller, p.Owner, p.Fund)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"owner": p.Owner, "fund": p.Fund, "shares": shares.String()}, nil
}

func (s *JSONRPCServer) cancelRequest(params json.RawMessage) (interface{}, error) {
	var p ownerFundParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	if err := s.requestor.CancelRequest(p.Owner, p.Fund); err != nil {
		return nil, err
	}
	return map[string]interface{}{"owner": p.Owner, "fund": p.Fund, "canceled": true}, nil
}

func (s *JSONRPCServer) getRequest(params json.RawMessage) (interface{}, error) {
	var p ownerFundParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	req, ok := s.requestor.GetRequest(p.Owner, p.Fund)
	if !ok {
		return nil, fund.ErrNoRequest
	}
	return requestInfo(req), nil
}

func (s *JSONRPCServer) redeemShares(params json.RawMessage) (interface{}, error) {
	var p ownerFundParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	h, err := s.funds.GetFund(p.Fund)
	if err != nil {
		return nil, err
	}
	shares, payouts, err := h.Shares().RedeemShares(p.Owner)
	if err != nil {
		return nil, err
	}
	paid := make([]map[string]string, 0, len(payouts))
	for _, payout := range payouts {
		paid = append(paid, map[string]string{"asset": payout.Asset, "amount": payout.Amount.String()})
	}
	return map[string]interface{}{"owner": p.Owner, "fund": p.Fund, "shares": shares.String(), "payouts": paid}, nil
}

func (s *JSONRPCServer) rewardAllFees(params json.RawMessage) (interface{}, error) {
	h, err := s.lookupFund(params)
	if err != nil {
		return nil, err
	}
	minted, err := h.Fees().RewardAllFees()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"fund": h.ID, "minted": minted.String()}, nil
}

type callOnIntegrationParams struct {
	Caller   string          `json:"caller"`
	Fund     string          `json:"fund"`
	Adapter  string          `json:"adapter"`
	Selector string          `json:"selector"`
	Args     json.RawMessage `json:"args"`
}

func (s *JSONRPCServer) callOnIntegration(params json.RawMessage) (interface{}, error) {
	var p callOnIntegrationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	h, err := s.funds.GetFund(p.Fund)
	if err != nil {
		return nil, err
	}
	result, err := h.Vault().CallOnIntegration(p.Caller, p.Adapter, p.Selector, p.Args)
	if err != nil {
		return nil, err
	}
	incoming := make([]map[string]string, 0, len(result.Incoming))
	for _, in := range result.Incoming {
		incoming = append(incoming, map[string]string{"asset": in.Asset, "amount": in.Amount.String()})
	}
	outgoing := make([]map[string]string, 0, len(result.Outgoing))
	for _, out := range result.Outgoing {
		outgoing = append(outgoing, map[string]string{"asset": out.Asset, "amount": out.Amount.String()})
	}
	return map[string]interface{}{"incoming": incoming, "outgoing": outgoing}, nil
}

func (s *JSONRPCServer) lookupFund(params json.RawMessage) (*fund.Hub, error) {
	var p fundParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	return s.funds.GetFund(p.Fund)
}

func (s *JSONRPCServer) fundInfo(h *fund.Hub) map[string]interface{} {
	holdings := make([]map[string]string, 0)
	for _, held := range h.Vault().Holdings() {
		holdings = append(holdings, map[string]string{"asset": held.Asset, "amount": held.Amount.String()})
	}
	return map[string]interface{}{
		"id":          h.ID,
		"name":        h.Name,
		"manager":     h.Manager,
		"state":       h.State().String(),
		"denom":       h.Shares().DenominationAsset(),
		"totalSupply": h.Shares().TotalSupply().String(),
		"holdings":    holdings,
	}
}

func requestInfo(req *fund.Request) map[string]interface{} {
	return map[string]interface{}{
		"owner":     req.Owner,
		"fund":      req.Fund,
		"amount":    req.Amount.String(),
		"minShares": req.MinShares.String(),
		"incentive": req.Incentive.String(),
		"createdAt": req.CreatedAt.UnixNano(),
	}
}

func parseBig(v string) (*big.Int, error) {
	if v == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", v)
	}
	return n, nil
}

func secondsToDuration(sec int64) time.Duration {
	return time.Duration(sec) * time.Second
}

func (s *JSONRPCServer) sendError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &RPCError{Code: code, Message: message},
		ID:      id,
	})
}
