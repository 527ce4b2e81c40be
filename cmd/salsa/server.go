package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/w1xm/salsa_interface/internal/metrics"
	"github.com/w1xm/salsa_interface/telescope"
)

type Server struct {
	c *telescope.Collection
	// interval between pushes on the sockets
	interval time.Duration
}

func NewServer(c *telescope.Collection, interval time.Duration) *Server {
	return &Server{c: c, interval: interval}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) Router(m *metrics.Collector, staticDir string) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/telescopes", s.TelescopesHandler).Methods(http.MethodGet)
	api.HandleFunc("/telescopes/{id}/info", s.InfoHandler).Methods(http.MethodGet)
	api.HandleFunc("/telescopes/{id}/ws", s.StatusSocketHandler)
	api.HandleFunc("/telescopes/{id}/spectrum", s.SpectrumSocketHandler)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}
	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return r
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) (*telescope.Handle, bool) {
	id := mux.Vars(r)["id"]
	h, ok := s.c.Get(id)
	if !ok {
		http.Error(w, fmt.Sprintf("no telescope %q", id), http.StatusNotFound)
	}
	return h, ok
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(v)
	if err != nil {
		log.Print(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

func (s *Server) TelescopesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.c.Names())
}

func (s *Server) InfoHandler(w http.ResponseWriter, r *http.Request) {
	h, ok := s.handle(w, r)
	if !ok {
		return
	}
	info, err := h.Info()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, info)
}

type Command struct {
	Command   string            `json:"command"`
	Target    *telescope.Target `json:"target,omitempty"`
	Integrate bool              `json:"integrate"`
}

// Reply answers a Command. Status pushes are bare telescope.Info objects.
type Reply struct {
	Command string      `json:"command"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func execute(h *telescope.Handle, data []byte) Reply {
	var msg Command
	if err := json.Unmarshal(data, &msg); err != nil {
		return Reply{Error: fmt.Sprintf("parsing command: %v", err)}
	}
	reply := Reply{Command: msg.Command}
	var err error
	switch msg.Command {
	case "set_target":
		if msg.Target == nil {
			err = fmt.Errorf("missing target")
			break
		}
		reply.Result, err = h.SetTarget(*msg.Target)
	case "set_receiver":
		reply.Result, err = h.SetReceiverConfiguration(telescope.ReceiverConfiguration{Integrate: msg.Integrate})
	case "restart":
		err = h.Restart()
	default:
		err = fmt.Errorf("unknown command %q", msg.Command)
	}
	if err != nil {
		reply.Result = nil
		reply.Error = err.Error()
	}
	return reply
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	h, ok := s.handle(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	// Read and process incoming messages
	replies := make(chan Reply)
	go func() {
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			reply := execute(h, data)
			if reply.Error != "" {
				log.Printf("%s: %s: %s", h.Name(), reply.Command, reply.Error)
			}
			select {
			case replies <- reply:
			case <-ctx.Done():
				return
			}
		}
	}()

	send := func(v interface{}) bool {
		data, err := json.Marshal(v)
		if err != nil {
			log.Print(err)
			return false
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Print(err)
			return false
		}
		return true
	}
	sendInfo := func() bool {
		info, err := h.Info()
		if err != nil {
			return send(Reply{Command: "info", Error: err.Error()})
		}
		return send(info)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	if !sendInfo() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case reply := <-replies:
			if !send(reply) || !sendInfo() {
				return
			}
		case <-ticker.C:
			if !sendInfo() {
				return
			}
		}
	}
}

// SpectrumSocketHandler pushes the latest observation as packed binary
// pairs.
func (s *Server) SpectrumSocketHandler(w http.ResponseWriter, r *http.Request) {
	h, ok := s.handle(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if info, err := h.Info(); err == nil && info.LatestObservation != nil {
			if err := conn.WriteMessage(websocket.BinaryMessage, telescope.PackSpectrum(*info.LatestObservation)); err != nil {
				log.Print(err)
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
