package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/switchboard/internal/auth"
	"github.com/nerrad567/switchboard/internal/device"
)

// URL segments accepted by /lamp/{lampID} and /tirai/{tiraiLoc}.
var (
	lampIDs = map[string]string{
		"one":   device.LampOne,
		"two":   device.LampTwo,
		"three": device.LampThree,
	}
	tiraiLocs = map[string]string{
		"left":  device.TiraiLeft,
		"right": device.TiraiRight,
	}
)

const groupAll = "all"

func (s *Server) handleGetLamp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "lampID")
	if id == groupAll {
		s.writeGroup(w, r, device.Lamps, "successfully getting all lamp condition")
		return
	}
	name, ok := lampIDs[id]
	if !ok {
		writeNotFound(w, "lamp_id must be either one, two, three, or all")
		return
	}
	s.writeCondition(w, r, name, fmt.Sprintf("successfully getting lamp %s condition", id))
}

func (s *Server) handleToggleLamp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "lampID")
	name, ok := lampIDs[id]
	if !ok {
		writeNotFound(w, "lamp_id must be either one, two, or three")
		return
	}
	s.toggle(w, r, name, fmt.Sprintf("successfully switch for lamp %s", id))
}

// handleSetLamps switches every lamp to "on" or "off". All lamps must exist
// before any is written; each write then commits on its own.
func (s *Server) handleSetLamps(w http.ResponseWriter, r *http.Request) {
	condition := chi.URLParam(r, "condition")
	var on bool
	switch condition {
	case "on":
		on = true
	case "off":
	default:
		writeBadRequest(w, "condition is not valid, use on or off")
		return
	}

	if _, err := s.registry.GetMany(r.Context(), device.Lamps); err != nil {
		s.writeDeviceError(w, r, err)
		return
	}

	resp := map[string]any{
		"message":   "lamp successfully turn " + condition,
		"condition": on,
	}
	for _, name := range device.Lamps {
		d, err := s.registry.SetActive(r.Context(), name, on)
		if err != nil {
			s.writeDeviceError(w, r, err)
			return
		}
		resp[d.Name] = d.Active
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTirai(w http.ResponseWriter, r *http.Request) {
	loc := chi.URLParam(r, "tiraiLoc")
	if loc == groupAll {
		s.writeGroup(w, r, device.Tirai, "successfully getting all tirai condition")
		return
	}
	name, ok := tiraiLocs[loc]
	if !ok {
		writeNotFound(w, "tirai_loc must be either left, right, or all")
		return
	}
	s.writeCondition(w, r, name, fmt.Sprintf("successfully getting tirai %s condition", loc))
}

func (s *Server) handleToggleTirai(w http.ResponseWriter, r *http.Request) {
	name, ok := tiraiLocs[chi.URLParam(r, "tiraiLoc")]
	if !ok {
		writeNotFound(w, "tirai_direction must be either left or right")
		return
	}
	s.toggle(w, r, name, "successfully switch "+name)
}

// handleGetCondition serves GET for a device that only has an active flag.
func (s *Server) handleGetCondition(name string) http.HandlerFunc {
	message := fmt.Sprintf("successfully getting %s condition", name)
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeCondition(w, r, name, message)
	}
}

// handleToggleCondition serves the toggle verb for name.
func (s *Server) handleToggleCondition(name, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.toggle(w, r, name, message)
	}
}

func (s *Server) writeCondition(w http.ResponseWriter, r *http.Request, name, message string) {
	d, err := s.registry.Get(r.Context(), name)
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   message,
		"condition": d.Active,
	})
}

// writeGroup answers with one key per device name.
func (s *Server) writeGroup(w http.ResponseWriter, r *http.Request, names []string, message string) {
	devices, err := s.registry.GetMany(r.Context(), names)
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	resp := map[string]any{"message": message}
	for _, d := range devices {
		resp[d.Name] = d.Active
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request, name, message string) {
	active, err := s.registry.Toggle(r.Context(), name)
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   message,
		"condition": active,
	})
}

func (s *Server) handleGetFan(w http.ResponseWriter, r *http.Request) {
	st, err := s.registry.Fan(r.Context())
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fanResponse("successfully getting fan condition", st))
}

func (s *Server) handleSetFanSpeed(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "speed")
	n, err := strconv.Atoi(raw)
	speed := device.Speed(n)
	if err != nil || !speed.Valid() {
		writeBadRequest(w, "fan_speed must be either 1, 2, or 3")
		return
	}

	st, err := s.registry.UpdateFan(r.Context(), device.FanUpdate{Speed: &speed})
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fanResponse("successfully change fan speed to "+raw, st))
}

func fanResponse(message string, st device.FanState) map[string]any {
	return map[string]any{
		"message":    message,
		"condition":  st.On,
		"speed_mode": st.Speed,
	}
}

func (s *Server) handleGetAC(w http.ResponseWriter, r *http.Request) {
	st, err := s.registry.AC(r.Context())
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acResponse("successfully getting ac condition", st))
}

func (s *Server) handleSetACTemperature(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "temperature")
	t, err := strconv.ParseFloat(raw, 64)
	if err != nil || !device.ValidTemperature(t) {
		writeBadRequest(w, fmt.Sprintf("ac_temperature must be in range of %d until %d",
			device.MinTemperature, device.MaxTemperature))
		return
	}

	st, err := s.registry.UpdateAC(r.Context(), device.ACUpdate{Temperature: &t})
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	message := "successfully change ac temperature to " + strconv.FormatFloat(t, 'f', -1, 64)
	writeJSON(w, http.StatusOK, acResponse(message, st))
}

func acResponse(message string, st device.ACState) map[string]any {
	return map[string]any{
		"message":     message,
		"condition":   st.On,
		"temperature": st.Temperature,
	}
}

// handleGetSnapshot is polled by the household controller.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Snapshot(r.Context())
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "success in getting device",
		"lamp_one":    snap.LampOne,
		"lamp_two":    snap.LampTwo,
		"lamp_three":  snap.LampThree,
		"terminal":    snap.Terminal,
		"tirai_left":  snap.TiraiLeft,
		"tirai_right": snap.TiraiRight,
		"fan":         snap.Fan,
		"ac":          snap.AC,
	})
}

// handleApplyReport accepts the controller's full state push.
func (s *Server) handleApplyReport(w http.ResponseWriter, r *http.Request) {
	var rep device.ControllerReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		writeBadRequest(w, "invalid controller report body")
		return
	}

	ctx := device.WithSource(r.Context(), device.SourceController)
	if err := s.registry.ApplyReport(ctx, rep); err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "successfully applying controller report",
	})
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleCheckPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid request body")
		return
	}

	ok, err := s.password.Check(req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrNoPassword) {
			s.logger.Error("password check failed", "error", err)
		}
		ok = false
	}
	if !ok {
		s.metrics.ErrorCounter(ErrCodeUnauthorized)
		writeUnauthorized(w, "wrong password, please try again")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "login success"})
}
