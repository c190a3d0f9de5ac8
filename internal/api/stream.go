package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event types sent to stream subscribers.
const (
	eventStarted    = "started"
	eventProgress   = "progress"
	eventPrediction = "prediction"
	eventComplete   = "complete"
	eventCancelled  = "cancelled"
	eventError      = "error"
)

// EvaluationEvent describes websocket payloads emitted during batch runs.
type EvaluationEvent struct {
	Type       string         `json:"type"`
	JobID      string         `json:"job_id"`
	BatchID    uint           `json:"batch_id"`
	ModelID    uint           `json:"model_id,omitempty"`
	Total      int64          `json:"total,omitempty"`
	Processed  int            `json:"processed,omitempty"`
	Prediction *PredictionDTO `json:"prediction,omitempty"`
	Message    string         `json:"message,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// wsClient wraps a websocket connection with write locking.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// EvaluationNotifier fans batch progress out to websocket subscribers and
// remembers the latest state for late joiners and the status endpoint.
type EvaluationNotifier struct {
	mu         sync.Mutex
	clients    map[*wsClient]struct{}
	lastStatus *EvaluationEvent
}

// NewEvaluationNotifier constructs a notifier instance.
func NewEvaluationNotifier() *EvaluationNotifier {
	return &EvaluationNotifier{clients: make(map[*wsClient]struct{})}
}

// Register attaches a websocket connection and replays the last status to it.
func (n *EvaluationNotifier) Register(conn *websocket.Conn) *wsClient {
	client := &wsClient{conn: conn}
	n.mu.Lock()
	n.clients[client] = struct{}{}
	status := n.lastStatus
	n.mu.Unlock()

	if status != nil {
		_ = client.writeJSON(*status)
	}
	return client
}

// Unregister removes the websocket client from the notifier and closes the socket.
func (n *EvaluationNotifier) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	n.mu.Lock()
	delete(n.clients, client)
	n.mu.Unlock()
	_ = client.conn.Close()
}

// Broadcast sends the event to every client. Clients that fail a write are
// dropped.
func (n *EvaluationNotifier) Broadcast(event EvaluationEvent) {
	event.Timestamp = time.Now().UTC()

	n.mu.Lock()
	snapshot := event
	if event.Prediction == nil && n.lastStatus != nil && n.lastStatus.JobID == event.JobID {
		snapshot.Prediction = n.lastStatus.Prediction
	}
	n.lastStatus = &snapshot

	for client := range n.clients {
		if err := client.writeJSON(event); err != nil {
			delete(n.clients, client)
			_ = client.conn.Close()
		}
	}
	n.mu.Unlock()
}

// Clients returns the number of connected subscribers.
func (n *EvaluationNotifier) Clients() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

func (c *wsClient) writeJSON(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}

// LastStatus returns a copy of the most recent event, nil before any run.
func (n *EvaluationNotifier) LastStatus() *EvaluationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastStatus == nil {
		return nil
	}
	status := *n.lastStatus
	return &status
}
