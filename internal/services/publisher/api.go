// Package publisher exposes HTTP control of the telemetry publisher.
package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Andria35/SmartRoom/internal/model"
	"github.com/Andria35/SmartRoom/internal/telemetry"
)

// Controller is satisfied by *telemetry.Coordinator.
type Controller interface {
	StartPublishing(ctx context.Context) error
	StopPublishing(ctx context.Context) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Status(ctx context.Context) (telemetry.Status, error)
}

// StatusResponse is the /status body.
type StatusResponse struct {
	ClientID   string               `json:"client_id"`
	State      string               `json:"state"`
	Reason     string               `json:"reason,omitempty"`
	Publishing bool                 `json:"publishing"`
	Published  uint64               `json:"published"`
	Snapshot   model.SensorSnapshot `json:"snapshot"`
}

func toResponse(st telemetry.Status) StatusResponse {
	return StatusResponse{
		ClientID:   st.ClientID,
		State:      st.State.Phase.String(),
		Reason:     st.State.Reason,
		Publishing: st.Publishing,
		Published:  st.Published,
		Snapshot:   st.Local,
	}
}

const callTimeout = 2 * time.Second

// API wires the control routes.
type API struct {
	ctl Controller
	log *slog.Logger
}

func NewAPI(ctl Controller, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{ctl: ctl, log: logger.With("component", "publisher-api")}
}

// Register adds every route to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /publish/start", a.command("start publishing", a.ctl.StartPublishing))
	mux.HandleFunc("POST /publish/stop", a.command("stop publishing", a.ctl.StopPublishing))
	mux.HandleFunc("POST /broker/connect", a.command("connect", a.ctl.Connect))
	mux.HandleFunc("POST /broker/disconnect", a.command("disconnect", a.ctl.Disconnect))
	mux.HandleFunc("GET /status", a.status)
	mux.HandleFunc("GET /healthz", a.health)
	mux.HandleFunc("GET /readyz", a.ready)
}

// command runs op and answers 202 with the resulting status. Connection
// progress is reported through /status, never as an HTTP error.
func (a *API) command(name string, op func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), callTimeout)
		defer cancel()
		if err := op(ctx); err != nil {
			a.log.Error("command failed", "command", name, "err", err)
			http.Error(w, "coordinator unavailable", http.StatusServiceUnavailable)
			return
		}
		a.log.Info("command accepted", "command", name)
		st, err := a.ctl.Status(ctx)
		if err != nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(w, http.StatusAccepted, toResponse(st))
	}
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), callTimeout)
	defer cancel()
	st, err := a.ctl.Status(ctx)
	if err != nil {
		http.Error(w, "coordinator unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(st))
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	type status struct {
		Status        string `json:"status"`
		MQTTConnected bool   `json:"mqtt_connected"`
		Publishing    bool   `json:"publishing"`
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	out := status{Status: "down"}
	if st, err := a.ctl.Status(ctx); err == nil {
		out.MQTTConnected = st.State.Connected()
		out.Publishing = st.Publishing
		out.Status = "degraded"
		if out.MQTTConnected {
			out.Status = "ok"
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	st, err := a.ctl.Status(ctx)
	ready := err == nil && st.State.Connected()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]bool{"ready": ready})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
