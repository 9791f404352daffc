package app

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/motion_logger/internal/config"
)

// statusStore keeps the latest status message for the JSON API.
type statusStore struct {
	mu   sync.RWMutex
	last Status
	have bool
}

func (s *statusStore) update(payload []byte) error {
	var st Status
	if err := json.Unmarshal(payload, &st); err != nil {
		return err
	}
	s.mu.Lock()
	s.last = st
	s.have = true
	s.mu.Unlock()
	return nil
}

func (s *statusStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.have {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.last); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

// RunWeb serves the logger's latest MQTT status at /api/status.
func RunWeb(addr string) error {
	cfg := config.Get()
	store := &statusStore{}

	// 1) Connect to MQTT broker
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole + "-web")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("connected to MQTT broker at %s", cfg.MQTTBroker)

	// 2) Subscribe to status topic and keep the latest message
	token := client.Subscribe(cfg.TopicStatus, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := store.update(msg.Payload()); err != nil {
			log.Printf("MQTT payload unmarshal error: %v", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("subscribed to MQTT topic %s", cfg.TopicStatus)

	// 3) JSON API endpoint: latest status
	http.Handle("/api/status", store)

	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}
