// Package webrtc pushes pose events to browsers over WebRTC data channels.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/metrics"
)

// ChannelLabel is the label of the data channel the browser opens.
const ChannelLabel = "poses"

// ErrTooManyClients is returned by HandleOffer when the client limit is reached.
var ErrTooManyClients = errors.New("maximum clients reached")

var log = logger.For("WebRTC")

// messageSender is the part of a data channel the client goroutine uses.
type messageSender interface {
	Send(data []byte) error
}

// Client represents a connected WebRTC client
type Client struct {
	id        string
	peerConn  *webrtc.PeerConnection
	eventChan chan []byte
	closeChan chan struct{}
	closeOnce sync.Once

	eventsSent    atomic.Uint64
	eventsDropped atomic.Uint64
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	pending    int // slots held by offers still negotiating
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics // may be nil
}

// NewServer creates a new WebRTC server. m may be nil.
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		if url == "" {
			continue
		}
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		metrics:    m,
	}
}

// HandleOffer answers a browser offer. The browser is expected to have
// created a data channel labelled "poses"; events flow once it opens.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	if !s.reserveSlot() {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}
	admitted := false
	defer func() {
		if !admitted {
			s.releaseSlot()
		}
	}()

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := newClient(uuid.NewString(), peerConn)

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			log.Debug("Client %s opened unexpected channel %q, ignoring", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			log.Info("Client %s data channel open", client.id)
			go s.sendEvents(client, dc)
		})
		dc.OnClose(func() {
			log.Debug("Client %s data channel closed", client.id)
			s.RemoveClient(client.id)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("Client %s connection state: %s", client.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			log.Info("Client %s connection lost (%s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.admit(client)
	admitted = true
	if s.metrics != nil {
		s.metrics.TotalClients.Add(1)
	}
	log.Info("Client %s connected", client.id)

	return answerJSON, nil
}

func newClient(id string, pc *webrtc.PeerConnection) *Client {
	return &Client{
		id:        id,
		peerConn:  pc,
		eventChan: make(chan []byte, 30),
		closeChan: make(chan struct{}),
	}
}

// reserveSlot holds a client slot for the length of a negotiation, so
// concurrent offers cannot push the count past maxClients.
func (s *Server) reserveSlot() bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if len(s.clients)+s.pending >= s.maxClients {
		return false
	}
	s.pending++
	return true
}

func (s *Server) releaseSlot() {
	s.clientsMu.Lock()
	s.pending--
	s.clientsMu.Unlock()
}

// admit turns a reserved slot into a connected client.
func (s *Server) admit(c *Client) {
	s.clientsMu.Lock()
	s.pending--
	s.clients[c.id] = c
	n := len(s.clients)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveClients.Store(int64(n))
	}
}

// SendEvent queues an event for every client without blocking. Slow clients
// lose events rather than hold up the others.
func (s *Server) SendEvent(ev *events.SerializedEvent) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.eventChan <- ev.ProtobufData:
		default:
			client.eventsDropped.Add(1)
			if s.metrics != nil {
				s.metrics.EventsDropped.Add(1)
			}
		}
	}
}

func (s *Server) sendEvents(client *Client, dc messageSender) {
	for {
		select {
		case <-client.closeChan:
			return
		case msg := <-client.eventChan:
			if err := dc.Send(msg); err != nil {
				log.Warn("Send to client %s failed: %v", client.id, err)
				if s.metrics != nil {
					s.metrics.WebRTCErrors.Add(1)
				}
				s.RemoveClient(client.id)
				return
			}
			client.eventsSent.Add(1)
			if s.metrics != nil {
				s.metrics.WebRTCEventsSent.Add(1)
			}
		}
	}
}

// RemoveClient removes a client by ID. Closing the peer connection fires
// state callbacks that call back into RemoveClient, so it runs unlocked.
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	n := len(s.clients)
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveClients.Store(int64(n))
	}

	client.close()
	log.Info("Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.eventsSent.Load(), client.eventsDropped.Load())
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		if c.peerConn != nil {
			if err := c.peerConn.Close(); err != nil {
				log.Debug("Client %s close: %v", c.id, err)
			}
		}
	})
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientStats is the per-client delivery count.
type ClientStats struct {
	EventsSent    uint64 `json:"events_sent"`
	EventsDropped uint64 `json:"events_dropped"`
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]ClientStats {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]ClientStats, len(s.clients))
	for id, client := range s.clients {
		stats[id] = ClientStats{
			EventsSent:    client.eventsSent.Load(),
			EventsDropped: client.eventsDropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
