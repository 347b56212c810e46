package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/delegation-mesh/internal/core"
)

// Timeouts per spec.md §4.14's three dispatch modes.
const (
	TimeoutFast        = 10 * time.Second
	TimeoutInteractive = 60 * time.Second
	TimeoutSimulation  = 15 * time.Second
)

// Handler is implemented by whatever owns the pipeline logic; the HTTP
// server below only does wire marshaling and dispatches into it.
type Handler interface {
	HandleHello(identity core.NodeIdentity) (core.PeerEntry, []core.SybilReport, error)
	HandleHeartbeat(nodeID string, latencyMs int64) error
	// HandleTaskRequest executes the task synchronously on the receiving
	// node and returns its outcome; task.request is an RPC, not a fire-
	// and-forget notification.
	HandleTaskRequest(req core.SwarmTaskRequest) (core.SwarmTaskResult, error)
	HandleTaskResult(result core.SwarmTaskResult) error
	HandleRFQ(rfq core.RFQ) error
	HandleBid(bid core.Bid) error
	HandleCheckpoint(cp core.TaskCheckpoint) error
}

type errorBody struct {
	ErrorCode string `json:"error_code"`
	Reason    string `json:"reason"`
}

// Server exposes PeerTransport's HTTP/JSON endpoints via gorilla/mux, with
// a CORS middleware registered through r.Use(), matching the teacher's
// internal/api/server.go.
type Server struct {
	router  *mux.Router
	handler Handler

	mu         sync.Mutex
	results    map[string]core.SwarmTaskResult // task_id -> cached outcome, for idempotent dispatch
	seenNotify map[string]bool                 // task_id -> result notification already processed
}

func NewServer(handler Handler) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		handler:    handler,
		results:    make(map[string]core.SwarmTaskResult),
		seenNotify: make(map[string]bool),
	}
	s.router.Use(corsMiddleware)
	s.routes()
	return s
}

func (s *Server) Router() *mux.Router { return s.router }

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) routes() {
	s.router.HandleFunc("/api/swarm/hello", s.handleHello).Methods(http.MethodPost)
	s.router.HandleFunc("/api/swarm/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	s.router.HandleFunc("/api/swarm/task.request", s.handleTaskRequest).Methods(http.MethodPost)
	s.router.HandleFunc("/api/swarm/task.result", s.handleTaskResult).Methods(http.MethodPost)
	s.router.HandleFunc("/api/swarm/rfq", s.handleRFQ).Methods(http.MethodPost)
	s.router.HandleFunc("/api/swarm/bid", s.handleBid).Methods(http.MethodPost)
	s.router.HandleFunc("/api/swarm/checkpoint", s.handleCheckpoint).Methods(http.MethodPost)
}

func writeError(w http.ResponseWriter, status int, code, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{ErrorCode: code, Reason: reason})
}

func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	var identity core.NodeIdentity
	if err := decode(r, &identity); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	peer, reports, err := s.handler.HandleHello(identity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, map[string]any{"peer": peer, "sybil_reports": reports})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NodeID    string `json:"node_id"`
		LatencyMs int64  `json:"latency_ms"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.handler.HandleHeartbeat(body.NodeID, body.LatencyMs); err != nil {
		writeError(w, http.StatusBadRequest, "unknown_peer", err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleTaskRequest(w http.ResponseWriter, r *http.Request) {
	var req core.SwarmTaskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if cached, ok := s.cachedResult(req.TaskID); ok {
		writeJSON(w, map[string]any{"ok": true, "duplicate": true, "result": cached})
		return
	}
	result, err := s.handler.HandleTaskRequest(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.cacheResult(req.TaskID, result)
	writeJSON(w, map[string]any{"ok": true, "result": result})
}

func (s *Server) handleTaskResult(w http.ResponseWriter, r *http.Request) {
	var result core.SwarmTaskResult
	if err := decode(r, &result); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.mu.Lock()
	duplicate := s.seenNotify[result.TaskID]
	s.seenNotify[result.TaskID] = true
	s.mu.Unlock()
	if duplicate {
		writeJSON(w, map[string]any{"ok": true, "duplicate": true})
		return
	}
	if err := s.handler.HandleTaskResult(result); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleRFQ(w http.ResponseWriter, r *http.Request) {
	var rfq core.RFQ
	if err := decode(r, &rfq); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.handler.HandleRFQ(rfq); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	var bid core.Bid
	if err := decode(r, &bid); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.handler.HandleBid(bid); err != nil {
		writeError(w, http.StatusBadRequest, "bid_rejected", err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	var cp core.TaskCheckpoint
	if err := decode(r, &cp); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.handler.HandleCheckpoint(cp); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) cachedResult(taskID string) (core.SwarmTaskResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[taskID]
	return r, ok
}

func (s *Server) cacheResult(taskID string, result core.SwarmTaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[taskID] = result
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Client dispatches requests to remote peers, circuit-breaker-protected
// per peer.
type Client struct {
	http     *http.Client
	breakers *Manager
	self     string
}

func NewClient(originatorNodeID string) *Client {
	return &Client{
		http:     &http.Client{},
		breakers: NewManager(),
		self:     originatorNodeID,
	}
}

func (c *Client) post(ctx context.Context, apiURL, path string, body interface{}, timeout time.Duration) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, apiURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Originator-Node-ID", c.self)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("transport: %s returned %d: %s", path, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

type taskRequestResponse struct {
	OK     bool                 `json:"ok"`
	Result core.SwarmTaskResult `json:"result"`
}

// DispatchTask sends a SwarmTaskRequest to peer, circuit-breaker-protected
// and bounded by the dispatch mode's timeout, and returns the peer's
// synchronous execution result.
func (c *Client) DispatchTask(ctx context.Context, peerNodeID, apiURL string, req core.SwarmTaskRequest, timeout time.Duration) (core.SwarmTaskResult, error) {
	cb := c.breakers.Get(peerNodeID)
	return ExecuteWithFallback(cb, ctx,
		func(ctx context.Context) (core.SwarmTaskResult, error) {
			body, err := c.post(ctx, apiURL, "/api/swarm/task.request", req, timeout)
			if err != nil {
				return core.SwarmTaskResult{}, err
			}
			var resp taskRequestResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return core.SwarmTaskResult{}, err
			}
			return resp.Result, nil
		},
		func(err error) (core.SwarmTaskResult, error) {
			return core.SwarmTaskResult{}, err
		},
	)
}

// SendHeartbeat pings a peer's heartbeat endpoint.
func (c *Client) SendHeartbeat(ctx context.Context, apiURL string, latencyMs int64) error {
	_, err := c.post(ctx, apiURL, "/api/swarm/heartbeat", map[string]any{
		"node_id": c.self, "latency_ms": latencyMs,
	}, TimeoutFast)
	return err
}

// BroadcastRFQ sends an RFQ to a peer.
func (c *Client) BroadcastRFQ(ctx context.Context, apiURL string, rfq core.RFQ) error {
	_, err := c.post(ctx, apiURL, "/api/swarm/rfq", rfq, TimeoutFast)
	return err
}

// SubmitBid sends a bid to the auction's originator.
func (c *Client) SubmitBid(ctx context.Context, apiURL string, bid core.Bid) error {
	_, err := c.post(ctx, apiURL, "/api/swarm/bid", bid, TimeoutFast)
	return err
}
