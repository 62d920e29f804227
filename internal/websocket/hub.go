package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/hnguyen/pitchside/internal/metrics"
	"github.com/hnguyen/pitchside/internal/models"
)

// Topic is a broadcast channel clients subscribe to.
type Topic string

const (
	// TopicAnalysis carries per-match progress while a batch analysis runs.
	TopicAnalysis Topic = "analysis"
	// TopicPicks carries pick-history changes (save, cycle, verify, delete).
	TopicPicks Topic = "picks"
	// TopicMatches carries match-list refreshes and scan results.
	TopicMatches Topic = "matches"
)

// Message types
const (
	MessageTypeAnalysisProgress = "analysis_progress"
	MessageTypeMatchesUpdate    = "matches_update"
	MessageTypePicksUpdate      = "picks_update"
	MessageTypeSubscribe        = "subscribe"
	MessageTypeUnsubscribe      = "unsubscribe"
	MessageTypeError            = "error"
	MessageTypeStatus           = "status"
	MessageTypePong             = "pong"
)

// Message represents a WebSocket message
type Message struct {
	Type      string             `json:"type"`
	Topic     string             `json:"topic,omitempty"`
	Message   string             `json:"message,omitempty"`
	Matches   []models.Match     `json:"matches,omitempty"`
	Picks     []models.SavedPick `json:"picks,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Error     string             `json:"error,omitempty"`
	Status    string             `json:"status,omitempty"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Client subscriptions by topic
	subscriptions map[Topic]map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex for thread-safe access
	mu sync.RWMutex

	// Metrics
	metrics *metrics.Metrics

	// Configuration
	maxConnections int
}

// NewHub creates a new Hub
func NewHub(m *metrics.Metrics, maxConnections int) *Hub {
	if maxConnections <= 0 {
		maxConnections = 1000
	}
	return &Hub{
		clients:        make(map[*Client]bool),
		subscriptions:  make(map[Topic]map[*Client]bool),
		register:       make(chan *Client, 256),
		unregister:     make(chan *Client, 256),
		metrics:        m,
		maxConnections: maxConnections,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Check connection limit
	if len(h.clients) >= h.maxConnections {
		log.Printf("WebSocket: Connection rejected - at capacity (%d)", h.maxConnections)
		errMsg := Message{
			Type:      MessageTypeError,
			Error:     "Server at capacity, please try again later",
			Timestamp: time.Now(),
		}
		data, _ := json.Marshal(errMsg)
		client.send <- data
		close(client.send)
		return
	}

	h.clients[client] = true
	h.metrics.RecordConnection()
	log.Printf("WebSocket: Client connected (total: %d)", len(h.clients))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)

		// Remove from all subscriptions
		for topic := range h.subscriptions {
			delete(h.subscriptions[topic], client)
			h.metrics.UpdateSubscriberCount(string(topic), int64(len(h.subscriptions[topic])))
		}

		close(client.send)
		h.metrics.RecordDisconnection()
		log.Printf("WebSocket: Client disconnected (total: %d)", len(h.clients))
	}
}

// Subscribe adds a client to a topic's subscription list
func (h *Hub) Subscribe(client *Client, topic Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscriptions[topic] == nil {
		h.subscriptions[topic] = make(map[*Client]bool)
	}
	h.subscriptions[topic][client] = true
	h.metrics.UpdateSubscriberCount(string(topic), int64(len(h.subscriptions[topic])))
	log.Printf("WebSocket: Client subscribed to %s (subscribers: %d)", topic, len(h.subscriptions[topic]))
}

// Unsubscribe removes a client from a topic's subscription list
func (h *Hub) Unsubscribe(client *Client, topic Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscriptions[topic] != nil {
		delete(h.subscriptions[topic], client)
		h.metrics.UpdateSubscriberCount(string(topic), int64(len(h.subscriptions[topic])))
	}
}

// AnalysisProgress broadcasts a progress line while a batch analysis runs.
func (h *Hub) AnalysisProgress(text string) {
	h.broadcast(TopicAnalysis, Message{
		Type:      MessageTypeAnalysisProgress,
		Topic:     string(TopicAnalysis),
		Message:   text,
		Timestamp: time.Now(),
	})
}

// MatchesUpdated broadcasts the new match list after a refresh or scan.
func (h *Hub) MatchesUpdated(matches []models.Match) {
	h.broadcast(TopicMatches, Message{
		Type:      MessageTypeMatchesUpdate,
		Topic:     string(TopicMatches),
		Matches:   matches,
		Timestamp: time.Now(),
	})
}

// PicksUpdated broadcasts the pick history after any mutation.
func (h *Hub) PicksUpdated(picks []models.SavedPick) {
	h.broadcast(TopicPicks, Message{
		Type:      MessageTypePicksUpdate,
		Topic:     string(TopicPicks),
		Picks:     picks,
		Timestamp: time.Now(),
	})
}

// broadcast sends a message to all clients subscribed to a topic
func (h *Hub) broadcast(topic Topic, message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("WebSocket: Failed to marshal broadcast message: %v", err)
		return
	}

	h.mu.RLock()
	subscribers := h.subscriptions[topic]
	clientCount := len(subscribers)
	h.mu.RUnlock()

	if clientCount == 0 {
		return
	}

	h.metrics.RecordBroadcast(len(data), clientCount)

	// Send to all subscribers
	var failedClients []*Client

	h.mu.RLock()
	for client := range subscribers {
		select {
		case client.send <- data:
			// Sent successfully
		default:
			// Client's buffer is full - mark for removal
			failedClients = append(failedClients, client)
			h.metrics.RecordMessageFailed()
		}
	}
	h.mu.RUnlock()

	// Remove failed clients
	for _, client := range failedClients {
		log.Printf("WebSocket: Removing slow client")
		h.unregister <- client
	}
}

// BroadcastStatus sends a status message to all clients
func (h *Hub) BroadcastStatus(status string) {
	message := Message{
		Type:      MessageTypeStatus,
		Status:    status,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Skip slow clients for status messages
		}
	}
}

// GetStats returns hub statistics
func (h *Hub) GetStats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	topicSubs := make(map[string]int)
	for topic, clients := range h.subscriptions {
		topicSubs[string(topic)] = len(clients)
	}

	return map[string]interface{}{
		"total_clients":   len(h.clients),
		"max_connections": h.maxConnections,
		"subscriptions":   topicSubs,
	}
}

// CanAccept returns whether the hub can accept new connections
func (h *Hub) CanAccept() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) < h.maxConnections
}

// ClientCount returns the current number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
