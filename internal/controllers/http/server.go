package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Agrid-Dev/ditraheat/internal/account"
	"github.com/Agrid-Dev/ditraheat/internal/ports"
	"github.com/Agrid-Dev/ditraheat/schluter"
)

type Server struct {
	svc ports.ThermostatService
	srv *http.Server
	log *zap.SugaredLogger
}

// New returns a runnable server.
func New(svc ports.ThermostatService, addr string, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	mux := http.NewServeMux()
	s := &Server{svc: svc, log: log}

	// Read
	mux.HandleFunc("GET /v1/thermostats", s.handleList)
	mux.HandleFunc("GET /v1/thermostats/{serial}", s.handleGet)

	// Write
	mux.HandleFunc("POST /v1/thermostats/{serial}/temperature", s.handlePostTemperature)
	mux.HandleFunc("POST /v1/thermostats/{serial}/regulation_mode", s.handlePostRegulationMode)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ---- DTOs ----

type thermostatDTO struct {
	SerialNumber        string  `json:"serial_number"`
	Name                string  `json:"name"`
	GroupID             int     `json:"group_id"`
	GroupName           string  `json:"group_name"`
	Temperature         float64 `json:"temperature"`
	SetPointTemperature float64 `json:"set_point_temperature"`
	ManualTemperature   float64 `json:"manual_temperature"`
	MinTemperature      float64 `json:"min_temperature"`
	MaxTemperature      float64 `json:"max_temperature"`
	RegulationMode      string  `json:"regulation_mode"`
	Online              bool    `json:"online"`
	Heating             bool    `json:"heating"`
	VacationEnabled     bool    `json:"vacation_enabled"`
	SoftwareVersion     string  `json:"software_version"`
	LoadMeasuredWatt    int     `json:"load_measured_watt"`
	KwhCharge           float64 `json:"kwh_charge"`
}

func toDTO(t schluter.Thermostat) thermostatDTO {
	return thermostatDTO{
		SerialNumber:        t.SerialNumber,
		Name:                t.Name,
		GroupID:             t.GroupID,
		GroupName:           t.GroupName,
		Temperature:         t.Temperature,
		SetPointTemperature: t.SetPointTemperature,
		ManualTemperature:   t.ManualTemperature,
		MinTemperature:      t.MinTemperature,
		MaxTemperature:      t.MaxTemperature,
		RegulationMode:      t.RegulationMode.String(),
		Online:              t.IsOnline,
		Heating:             t.IsHeating,
		VacationEnabled:     t.VacationEnabled,
		SoftwareVersion:     t.SoftwareVersion,
		LoadMeasuredWatt:    t.LoadMeasuredWatt,
		KwhCharge:           t.KwhCharge,
	}
}

type setResultDTO struct {
	SerialNumber string `json:"serial_number"`
	Success      bool   `json:"success"`
}

// ---- Handlers ----

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ts, err := s.svc.Thermostats(r.Context())
	if err != nil {
		s.writeServiceErr(w, err)
		return
	}
	out := make([]thermostatDTO, 0, len(ts))
	for _, t := range ts {
		out = append(out, toDTO(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Thermostat(r.Context(), r.PathValue("serial"))
	if err != nil {
		s.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(t))
}

func (s *Server) handlePostTemperature(w http.ResponseWriter, r *http.Request) {
	// body: {"value": 21.5}
	serial := r.PathValue("serial")
	postValue(s, w, r, func(v float64) (bool, error) {
		return s.svc.SetTemperature(r.Context(), serial, v)
	})
}

func (s *Server) handlePostRegulationMode(w http.ResponseWriter, r *http.Request) {
	// body: {"value": "away"}
	serial := r.PathValue("serial")
	postValue(s, w, r, func(v string) (bool, error) {
		m, err := schluter.ParseRegulationMode(v)
		if err != nil {
			return false, badRequest{err}
		}
		return s.svc.SetRegulationMode(r.Context(), serial, m)
	})
}

// ---- generic helpers ----

// badRequest marks a caller input error raised inside an apply func.
type badRequest struct{ error }

func postValue[T any](s *Server, w http.ResponseWriter, r *http.Request, apply func(T) (bool, error)) {
	dec := json.NewDecoder(r.Body)
	var req struct {
		Value *T `json:"value"`
	}
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Value == nil {
		writeErr(w, http.StatusBadRequest, "missing field 'value'")
		return
	}

	ok, err := apply(*req.Value)
	if err != nil {
		s.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setResultDTO{SerialNumber: r.PathValue("serial"), Success: ok})
}

func (s *Server) writeServiceErr(w http.ResponseWriter, err error) {
	var br badRequest
	switch {
	case errors.As(err, &br):
		writeErr(w, http.StatusBadRequest, br.Error())
	case errors.Is(err, account.ErrInvalidRegulationMode):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, account.ErrUnknownThermostat):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeErr(w, http.StatusGatewayTimeout, err.Error())
	default:
		// Credentials, session and API failures all come from upstream.
		s.log.Warnw("schluter request failed", "err", err)
		writeErr(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
