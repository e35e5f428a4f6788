package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/switchboard/internal/device"
)

// DeviceResponse is a stored device plus its decoded composite state.
type DeviceResponse struct {
	device.Device
	Kind device.Kind      `json:"kind"`
	Fan  *device.FanState `json:"fan,omitempty"`
	AC   *device.ACState  `json:"ac,omitempty"`
}

func newDeviceResponse(d device.Device) DeviceResponse {
	resp := DeviceResponse{Device: d, Kind: device.KindOf(d.Name)}
	switch resp.Kind {
	case device.KindFan:
		st := device.DecodeFan(d)
		resp.Fan = &st
	case device.KindAC:
		st := device.DecodeAC(d)
		resp.AC = &st
	}
	return resp
}

// handleListDevices returns every device, or those whose name starts with ?prefix=.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var (
		devices []device.Device
		err     error
	)
	if prefix := r.URL.Query().Get("prefix"); prefix != "" {
		devices, err = s.registry.ListByPrefix(r.Context(), prefix)
	} else {
		devices, err = s.registry.List(r.Context())
	}
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}

	out := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, newDeviceResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeviceResponse(*d))
}

func (s *Server) handleToggleDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	active, err := s.registry.Toggle(r.Context(), name)
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":   name,
		"active": active,
	})
}

// handleDeviceHistory returns recent committed changes, newest first.
// ?limit= defaults to 50 and is capped at 200 by the reader.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.metrics.ErrorCounter(ErrCodeUnavailable)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable,
			"state history is not recorded by this storage driver")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	name := chi.URLParam(r, "name")
	if _, err := s.registry.Get(r.Context(), name); err != nil {
		s.writeDeviceError(w, r, err)
		return
	}

	entries, err := s.history.GetHistory(r.Context(), name, limit)
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device":  name,
		"history": entries,
		"count":   len(entries),
	})
}
