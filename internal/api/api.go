// Package api exposes the controller's REST surface and the WebSocket push
// channel.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/heatctl/heatctl/internal/config"
	"github.com/heatctl/heatctl/internal/control"
	"github.com/heatctl/heatctl/internal/model"
	"github.com/heatctl/heatctl/internal/ws"
)

type Server struct {
	engine *control.Engine
	hub    *ws.Hub
	cfg    *config.Config
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(engine *control.Engine, hub *ws.Hub, cfg *config.Config) *Server {
	return &Server{engine: engine, hub: hub, cfg: cfg}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/zones", s.listZones).Methods(http.MethodGet)
	api.HandleFunc("/zones", s.createZone).Methods(http.MethodPost)
	api.HandleFunc("/zones/import", s.importZone).Methods(http.MethodPost)
	api.HandleFunc("/zones/{id}", s.getZone).Methods(http.MethodGet)
	api.HandleFunc("/zones/{id}", s.updateZone).Methods(http.MethodPut)
	api.HandleFunc("/zones/{id}", s.deleteZone).Methods(http.MethodDelete)
	api.HandleFunc("/zones/{id}/export", s.exportZone).Methods(http.MethodGet)

	api.HandleFunc("/zones/{id}/temperature", s.setTemperature).Methods(http.MethodPut)
	api.HandleFunc("/zones/{id}/preset", s.setPreset).Methods(http.MethodPut)
	api.HandleFunc("/zones/{id}/boost", s.setBoost).Methods(http.MethodPut)
	api.HandleFunc("/zones/{id}/nightboost", s.setNightBoost).Methods(http.MethodPut)
	api.HandleFunc("/zones/{id}/hysteresis", s.setHysteresis).Methods(http.MethodPut)
	api.HandleFunc("/zones/{id}/enable", s.enableZone).Methods(http.MethodPost)
	api.HandleFunc("/zones/{id}/disable", s.disableZone).Methods(http.MethodPost)
	api.HandleFunc("/zones/{id}/resume", s.resumeAuto).Methods(http.MethodPost)

	api.HandleFunc("/zones/{id}/devices", s.addDevice).Methods(http.MethodPost)
	api.HandleFunc("/zones/{id}/devices/{deviceID}", s.removeDevice).Methods(http.MethodDelete)
	api.HandleFunc("/zones/{id}/schedules", s.addSchedule).Methods(http.MethodPost)
	api.HandleFunc("/zones/{id}/schedules/{scheduleID}", s.updateSchedule).Methods(http.MethodPut)
	api.HandleFunc("/zones/{id}/schedules/{scheduleID}", s.deleteSchedule).Methods(http.MethodDelete)

	api.HandleFunc("/zones/{id}/history", s.zoneHistory).Methods(http.MethodGet)
	api.HandleFunc("/zones/{id}/learning", s.zoneLearning).Methods(http.MethodGet)

	api.HandleFunc("/vacation", s.getVacation).Methods(http.MethodGet)
	api.HandleFunc("/vacation", s.setVacation).Methods(http.MethodPut)
	api.HandleFunc("/vacation", s.clearVacation).Methods(http.MethodDelete)
	api.HandleFunc("/vacation/arrive", s.arrive).Methods(http.MethodPost)

	api.HandleFunc("/safety", s.getSafety).Methods(http.MethodGet)
	api.HandleFunc("/safety/sensors", s.setSafetySensor).Methods(http.MethodPut)

	api.Handle("/ws", s.hub).Methods(http.MethodGet)

	return cors(r)
}

// Start serves the API until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.cfg.APIPort)
	log.Info().Str("address", addr).Msg("Starting REST API server")
	return http.ListenAndServe(addr, s.Router())
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listZones(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) createZone(w http.ResponseWriter, r *http.Request) {
	var z model.Zone
	if err := json.NewDecoder(r.Body).Decode(&z); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	created, err := s.engine.CreateZone(z)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getZone(w http.ResponseWriter, r *http.Request) {
	zone, err := s.engine.Zone(mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, zone)
}

func (s *Server) updateZone(w http.ResponseWriter, r *http.Request) {
	var z model.Zone
	if err := json.NewDecoder(r.Body).Decode(&z); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	s.respond(w, s.engine.UpdateZone(mux.Vars(r)["id"], z))
}

func (s *Server) deleteZone(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.engine.DeleteZone(mux.Vars(r)["id"]))
}

func (s *Server) exportZone(w http.ResponseWriter, r *http.Request) {
	doc, err := s.engine.ExportZone(mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) importZone(w http.ResponseWriter, r *http.Request) {
	var doc control.ZoneExport
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	zone, err := s.engine.ImportZone(doc)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, zone)
}

func (s *Server) setTemperature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Temperature float64 `json:"temperature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	s.respond(w, s.engine.SetTemperature(mux.Vars(r)["id"], req.Temperature))
}

func (s *Server) setPreset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Preset *string `json:"preset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	s.respond(w, s.engine.SetPreset(mux.Vars(r)["id"], req.Preset))
}

func (s *Server) setBoost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Boost *model.Boost `json:"boost"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	s.respond(w, s.engine.SetBoost(mux.Vars(r)["id"], req.Boost))
}

func (s *Server) setNightBoost(w http.ResponseWriter, r *http.Request) {
	var nb model.NightBoost
	if err := json.NewDecoder(r.Body).Decode(&nb); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	s.respond(w, s.engine.SetNightBoost(mux.Vars(r)["id"], nb))
}

func (s *Server) setHysteresis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hysteresis *float64 `json:"hysteresis"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	s.respond(w, s.engine.SetHysteresis(mux.Vars(r)["id"], req.Hysteresis))
}

func (s *Server) enableZone(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.engine.EnableZone(mux.Vars(r)["id"]))
}

func (s *Server) disableZone(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.engine.DisableZone(mux.Vars(r)["id"]))
}

func (s *Server) resumeAuto(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.engine.ResumeAuto(mux.Vars(r)["id"]))
}

func (s *Server) addDevice(w http.ResponseWriter, r *http.Request) {
	var dev model.Device
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	created, err := s.engine.AddDevice(mux.Vars(r)["id"], dev)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) removeDevice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.respond(w, s.engine.RemoveDevice(vars["id"], vars["deviceID"]))
}

func (s *Server) addSchedule(w http.ResponseWriter, r *http.Request) {
	var sched model.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	created, err := s.engine.AddSchedule(mux.Vars(r)["id"], sched)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var sched model.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	sched.ID = vars["scheduleID"]
	s.respond(w, s.engine.UpdateSchedule(vars["id"], sched))
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.respond(w, s.engine.DeleteSchedule(vars["id"], vars["scheduleID"]))
}

func (s *Server) zoneHistory(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid hours parameter")
			return
		}
		hours = parsed
	}
	readings, err := s.engine.History(mux.Vars(r)["id"], time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, readings)
}

func (s *Server) zoneLearning(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.LearningStats(mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getVacation(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Vacation())
}

func (s *Server) setVacation(w http.ResponseWriter, r *http.Request) {
	var v model.VacationState
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	s.respond(w, s.engine.SetVacation(v))
}

func (s *Server) clearVacation(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.engine.ClearVacation())
}

func (s *Server) arrive(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.engine.Arrive())
}

func (s *Server) getSafety(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Safety())
}

func (s *Server) setSafetySensor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SensorID  string  `json:"sensor_id"`
		Threshold float64 `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SensorID == "" {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	s.respond(w, s.engine.SetSafetySensor(req.SensorID, req.Threshold))
}

func (s *Server) respond(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeJSON(w, http.StatusBadRequest, verr)
	case errors.Is(err, control.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, control.ErrStopped):
		s.writeError(w, http.StatusServiceUnavailable, "Controller shutting down")
	default:
		log.Error().Err(err).Msg("API request failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
