package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"
)

// FundClient drives a fundd node over JSON-RPC.
type FundClient struct {
	rpcURL string
	logger log.Logger
	client *http.Client
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int         `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewFundClient(rpcURL string, logger log.Logger) *FundClient {
	return &FundClient{
		rpcURL: rpcURL,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *FundClient) Call(method string, params interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Post(c.rpcURL, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var parsed rpcResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unparseable response: %s", string(body))
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	return parsed.Result, nil
}

func (c *FundClient) print(result json.RawMessage) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return
	}
	fmt.Println(pretty.String())
}

// watchEvents streams fund events over WebSocket until interrupted.
func watchEvents(wsURL, fundID string, logger log.Logger) error {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws", nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("connected", "url", wsURL)

	if fundID != "" {
		sub := map[string]interface{}{
			"type":     "subscribe",
			"channels": []string{"events:" + fundID},
		}
		if err := conn.WriteJSON(sub); err != nil {
			return err
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				logger.Warn("read error", "error", err)
				return
			}
			fmt.Println(string(message))
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
	return nil
}

func main() {
	var (
		server   = flag.String("server", "http://localhost:8080/rpc", "fundd JSON-RPC URL")
		wsServer = flag.String("ws", "ws://localhost:8081", "fundd WebSocket URL")
		action   = flag.String("action", "list", "Action: ping, create, get, list, price, gav, request, execute, cancel, redeem, watch")
		fundID   = flag.String("fund", "", "Fund ID")
		name     = flag.String("name", "", "Fund name (create)")
		manager  = flag.String("manager", "", "Fund manager account (create)")
		denom    = flag.String("denom", "USDC", "Denomination asset (create)")
		mgmtBps  = flag.Uint64("mgmt-bps", 0, "Management fee in basis points (create)")
		perfBps  = flag.Uint64("perf-bps", 0, "Performance fee in basis points (create)")
		owner    = flag.String("owner", "", "Investor account")
		caller   = flag.String("caller", "", "Calling account (execute)")
		amount   = flag.String("amount", "", "Investment amount (request)")
	)
	flag.Parse()

	level, _ := log.ToLevel("info")
	logger := log.NewTestLogger(level)

	client := NewFundClient(*server, logger)

	var (
		result json.RawMessage
		err    error
	)
	switch *action {
	case "ping":
		result, err = client.Call("fund_ping", map[string]interface{}{})
	case "create":
		result, err = client.Call("fund_createFund", map[string]interface{}{
			"id":                *fundID,
			"name":              *name,
			"manager":           *manager,
			"denominationAsset": *denom,
			"managementFeeBps":  *mgmtBps,
			"performanceFeeBps": *perfBps,
		})
	case "get":
		result, err = client.Call("fund_getFund", map[string]string{"fund": *fundID})
	case "list":
		result, err = client.Call("fund_listFunds", map[string]string{})
	case "price":
		result, err = client.Call("fund_sharePrice", map[string]string{"fund": *fundID})
	case "gav":
		result, err = client.Call("fund_gav", map[string]string{"fund": *fundID})
	case "request":
		result, err = client.Call("fund_requestShares", map[string]string{
			"owner": *owner, "fund": *fundID, "amount": *amount,
		})
	case "execute":
		result, err = client.Call("fund_executeRequest", map[string]string{
			"caller": *caller, "owner": *owner, "fund": *fundID,
		})
	case "cancel":
		result, err = client.Call("fund_cancelRequest", map[string]string{
			"owner": *owner, "fund": *fundID,
		})
	case "redeem":
		result, err = client.Call("fund_redeemShares", map[string]string{
			"owner": *owner, "fund": *fundID,
		})
	case "watch":
		if err := watchEvents(*wsServer, *fundID, logger); err != nil {
			logger.Error("watch failed", "error", err)
			os.Exit(1)
		}
		return
	default:
		logger.Error("unknown action", "action", *action)
		os.Exit(1)
	}

	if err != nil {
		logger.Error("call failed", "action", *action, "error", err)
		os.Exit(1)
	}
	client.print(result)
}
