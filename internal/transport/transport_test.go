package transport

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocx/delegation-mesh/internal/core"
)

type fakeHandler struct {
	helloCalled  bool
	taskRequests []core.SwarmTaskRequest
	taskResults  []core.SwarmTaskResult
	heartbeats   int
}

func (f *fakeHandler) HandleHello(identity core.NodeIdentity) (core.PeerEntry, []core.SybilReport, error) {
	f.helloCalled = true
	return core.PeerEntry{NodeIdentity: identity, Status: core.PeerActive}, nil, nil
}

func (f *fakeHandler) HandleHeartbeat(nodeID string, latencyMs int64) error {
	f.heartbeats++
	return nil
}

func (f *fakeHandler) HandleTaskRequest(req core.SwarmTaskRequest) (core.SwarmTaskResult, error) {
	f.taskRequests = append(f.taskRequests, req)
	return core.SwarmTaskResult{TaskID: req.TaskID, Status: core.OutcomeCompleted}, nil
}

func (f *fakeHandler) HandleTaskResult(result core.SwarmTaskResult) error {
	f.taskResults = append(f.taskResults, result)
	return nil
}

func (f *fakeHandler) HandleRFQ(rfq core.RFQ) error { return nil }

func (f *fakeHandler) HandleBid(bid core.Bid) error { return nil }

func (f *fakeHandler) HandleCheckpoint(cp core.TaskCheckpoint) error { return nil }

func TestHelloEndpointReturnsActivePeer(t *testing.T) {
	h := &fakeHandler{}
	srv := NewServer(h)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	c := NewClient("self")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := c.post(ctx, ts.URL, "/api/swarm/hello", core.NodeIdentity{NodeID: "peer-a"}, TimeoutFast)
	require.NoError(t, err)
	require.True(t, h.helloCalled)
}

func TestTaskRequestDispatchedThroughCircuitBreaker(t *testing.T) {
	h := &fakeHandler{}
	srv := NewServer(h)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	c := NewClient("self")
	result, err := c.DispatchTask(context.Background(), "peer-a", ts.URL, core.SwarmTaskRequest{TaskID: "task-1"}, TimeoutFast)
	require.NoError(t, err)
	require.Equal(t, core.OutcomeCompleted, result.Status)
	require.Len(t, h.taskRequests, 1)
	require.Equal(t, "task-1", h.taskRequests[0].TaskID)
}

func TestDuplicateTaskRequestIsIdempotent(t *testing.T) {
	h := &fakeHandler{}
	srv := NewServer(h)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	c := NewClient("self")
	req := core.SwarmTaskRequest{TaskID: "task-1"}
	_, err1 := c.DispatchTask(context.Background(), "peer-a", ts.URL, req, TimeoutFast)
	_, err2 := c.DispatchTask(context.Background(), "peer-a", ts.URL, req, TimeoutFast)
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.Len(t, h.taskRequests, 1, "second dispatch of the same task_id must not re-invoke the handler")
}

func TestRepeatedDispatchFailuresTripCircuitBreaker(t *testing.T) {
	h := &fakeHandler{}
	srv := NewServer(h)
	ts := httptest.NewServer(srv.Router())
	ts.Close() // server is down: every dispatch fails

	c := NewClient("self")
	for i := 0; i < 3; i++ {
		_, err := c.DispatchTask(context.Background(), "peer-a", ts.URL, core.SwarmTaskRequest{TaskID: "task-x"}, TimeoutFast)
		require.Error(t, err)
	}

	cb := c.breakers.Get("peer-a")
	require.Equal(t, StateOpen, cb.State())

	_, err := c.DispatchTask(context.Background(), "peer-a", ts.URL, core.SwarmTaskRequest{TaskID: "task-y"}, TimeoutFast)
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestSendHeartbeatReachesHandler(t *testing.T) {
	h := &fakeHandler{}
	srv := NewServer(h)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	c := NewClient("self")
	require.NoError(t, c.SendHeartbeat(context.Background(), ts.URL, 42))
	require.Equal(t, 1, h.heartbeats)
}

func TestBroadcastRFQAndSubmitBidReachHandler(t *testing.T) {
	h := &fakeHandler{}
	srv := NewServer(h)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	c := NewClient("self")
	require.NoError(t, c.BroadcastRFQ(context.Background(), ts.URL, core.RFQ{RFQID: "rfq-1"}))
	require.NoError(t, c.SubmitBid(context.Background(), ts.URL, core.Bid{BidID: "bid-1", RFQID: "rfq-1"}))
}
