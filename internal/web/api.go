package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// maxBody bounds POST bodies on the local API.
const maxBody = 16 << 10

// Kind identifies an API request answered by the control loop.
type Kind int

const (
	KindConfigGet Kind = iota
	KindConfigSet
	KindPumpOn
	KindPumpOff
)

// Reply is the control loop's answer to a Request.
type Reply struct {
	Status int
	Body   []byte
}

// Request is an API call forwarded to the control loop, which owns the
// pump and the configuration. The loop must call Respond exactly once.
type Request struct {
	Kind  Kind
	Body  []byte
	reply chan Reply
}

// Respond answers the request. It never blocks.
func (r Request) Respond(rep Reply) {
	select {
	case r.reply <- rep:
	default:
	}
}

// JSONReply builds a Reply with v marshalled as the body.
func JSONReply(status int, v any) Reply {
	data, err := json.Marshal(v)
	if err != nil {
		return Reply{Status: http.StatusInternalServerError, Body: []byte(`{"error":"encode"}`)}
	}
	return Reply{Status: status, Body: data}
}

// forward hands req to the control loop and writes its reply.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, req Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	req.reply = make(chan Reply, 1)
	select {
	case s.requests <- req:
	case <-ctx.Done():
		writeReply(w, JSONReply(http.StatusServiceUnavailable, map[string]string{"error": "busy"}))
		return
	}
	select {
	case rep := <-req.reply:
		writeReply(w, rep)
	case <-ctx.Done():
		writeReply(w, JSONReply(http.StatusGatewayTimeout, map[string]string{"error": "timeout"}))
	}
}

func writeReply(w http.ResponseWriter, rep Reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rep.Status)
	w.Write(rep.Body)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.forward(w, r, Request{Kind: KindConfigGet})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			writeReply(w, JSONReply(http.StatusRequestEntityTooLarge, map[string]string{"error": "body"}))
			return
		}
		s.forward(w, r, Request{Kind: KindConfigSet, Body: body})
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePump(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.forward(w, r, Request{Kind: kind})
	}
}

// SoilJSON is the /api/soil response.
type SoilJSON struct {
	Moisture int    `json:"moisture"`
	Raw      int    `json:"raw"`
	Soil     string `json:"soil"`
	Pump     bool   `json:"pump"`
}

func (s *Server) handleSoil(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	soil := string(snap.Soil)
	if soil == "" {
		soil = "UNKNOWN"
	}
	writeReply(w, JSONReply(http.StatusOK, SoilJSON{
		Moisture: snap.Moisture,
		Raw:      snap.Raw,
		Soil:     soil,
		Pump:     snap.Pump.On,
	}))
}
