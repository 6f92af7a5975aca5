// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/sphere_capture/internal/logging"
)

const (
	wsWriteWait  = 5 * time.Second
	wsClientBuf  = 16
	kindStatus   = "status"
	kindFrame    = "frame"
	kindPanorama = "panorama"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// wsMessage is what browser clients receive.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// statusHub keeps the latest payload per kind and fans updates out to
// websocket clients. Slow clients drop messages rather than block MQTT.
type statusHub struct {
	mu      sync.RWMutex
	latest  map[string]json.RawMessage
	clients map[chan []byte]struct{}
	log     *logging.Logger
}

func newStatusHub() *statusHub {
	return &statusHub{
		latest:  make(map[string]json.RawMessage),
		clients: make(map[chan []byte]struct{}),
		log:     logging.With("component", "web"),
	}
}

// update stores payload as the latest value of kind and broadcasts it.
func (h *statusHub) update(kind string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("%s payload is not JSON", kind)
	}
	data := json.RawMessage(append([]byte(nil), payload...))
	msg, err := json.Marshal(wsMessage{Type: kind, Data: data})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if kind != kindFrame {
		h.latest[kind] = data
	}
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			h.log.Debug("web: client too slow, message dropped", "type", kind)
		}
	}
	return nil
}

func (h *statusHub) get(kind string) (json.RawMessage, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.latest[kind]
	return v, ok
}

func (h *statusHub) subscribe() chan []byte {
	ch := make(chan []byte, wsClientBuf)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	// Replay the current state so a new page renders immediately.
	for _, kind := range []string{kindStatus, kindPanorama} {
		if data, ok := h.latest[kind]; ok {
			if msg, err := json.Marshal(wsMessage{Type: kind, Data: data}); err == nil {
				ch <- msg
			}
		}
	}
	h.mu.Unlock()
	return ch
}

func (h *statusHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// handleLatest serves the latest payload of kind as JSON.
func (h *statusHub) handleLatest(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, ok := h.get(kind)
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(data); err != nil {
			h.log.Debug("web: write response failed", "err", err)
		}
	}
}

// handleWS streams hub messages to one browser client.
func (h *statusHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("web: websocket upgrade error", "err", err)
		return
	}
	defer conn.Close()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	// The reader only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg := <-ch:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug("web: websocket write error", "err", err)
				return
			}
		}
	}
}

func (h *statusHub) routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/capture", h.handleLatest(kindStatus))
	mux.HandleFunc("/api/panorama", h.handleLatest(kindPanorama))
	mux.HandleFunc("/ws", h.handleWS)
}

// RunWeb bridges the capture MQTT topics to a JSON API and a websocket
// feed, and serves the static UI from ./web.
func RunWeb() error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	hub := newStatusHub()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	topics := map[string]string{
		cfg.TopicCaptureState: kindStatus,
		cfg.TopicCaptureFrame: kindFrame,
		cfg.TopicStitch:       kindPanorama,
	}
	for topic, kind := range topics {
		if err := subscribe(client, topic, func(_ mqtt.Client, msg mqtt.Message) {
			if err := hub.update(kind, msg.Payload()); err != nil {
				hub.log.Warn("web: MQTT payload rejected", "topic", msg.Topic(), "err", err)
			}
		}); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	hub.routes(mux)
	mux.Handle("/", http.FileServer(http.Dir("web")))

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	hub.log.Info("web: server listening", "addr", addr)
	return http.ListenAndServe(addr, mux)
}
