package bully

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/krantius/bullycast/shared/logging"
)

const maxMessageBody = 4096

// Router exposes the node over HTTP. metricsHandler may be nil.
func (n *Node) Router(metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()

	sr := r.PathPrefix("/api").Subrouter()
	sr.Path("/status").Methods("GET").HandlerFunc(n.StatusHandler)
	sr.Path("/members").Methods("GET").HandlerFunc(n.Members)
	sr.Path("/messages").Methods("POST").HandlerFunc(n.Write)

	if metricsHandler != nil {
		r.Path("/metrics").Methods("GET").Handler(metricsHandler)
	}

	return r
}

func (n *Node) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, n.Status())
}

func (n *Node) Members(w http.ResponseWriter, r *http.Request) {
	members := n.members.Snapshot()
	if members == nil {
		members = []Address{}
	}
	writeJSON(w, http.StatusOK, members)
}

// Write forwards the request body to the leader as a chat message.
func (n *Node) Write(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payload := strings.TrimSpace(string(body))
	if payload == "" {
		http.Error(w, "empty message", http.StatusBadRequest)
		return
	}

	if err := n.Send(payload); err != nil {
		if errors.Is(err, ErrNoLeader) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warningf("Failed to write response: %v", err)
	}
}
