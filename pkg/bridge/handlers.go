package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nasa/XPlaneConnect/pkg/protocol"
	"github.com/nasa/XPlaneConnect/pkg/transport"
)

// Position is the JSON form of an aircraft position. On PUT, omitted
// fields are left unchanged.
type Position struct {
	Aircraft  int      `json:"aircraft"`
	Latitude  *float32 `json:"latitude,omitempty"`
	Longitude *float32 `json:"longitude,omitempty"`
	Altitude  *float32 `json:"altitude,omitempty"`
	Pitch     *float32 `json:"pitch,omitempty"`
	Roll      *float32 `json:"roll,omitempty"`
	Heading   *float32 `json:"heading,omitempty"`
	Gear      *float32 `json:"gear,omitempty"`
}

func (p *Position) fields() []**float32 {
	return []**float32{&p.Latitude, &p.Longitude, &p.Altitude, &p.Pitch, &p.Roll, &p.Heading, &p.Gear}
}

// Controls is the JSON form of aircraft controls. On PUT, omitted fields
// are left unchanged; the speedbrake is only sent when given.
type Controls struct {
	Aircraft   int      `json:"aircraft"`
	Elevator   *float32 `json:"elevator,omitempty"`
	Aileron    *float32 `json:"aileron,omitempty"`
	Rudder     *float32 `json:"rudder,omitempty"`
	Throttle   *float32 `json:"throttle,omitempty"`
	Gear       *float32 `json:"gear,omitempty"`
	Flaps      *float32 `json:"flaps,omitempty"`
	Speedbrake *float32 `json:"speedbrake,omitempty"`
}

func (c *Controls) fields() []**float32 {
	return []**float32{&c.Elevator, &c.Aileron, &c.Rudder, &c.Throttle, &c.Gear, &c.Flaps, &c.Speedbrake}
}

// fill points each field at the matching value; values equal to the
// unchanged marker stay nil.
func fill(fields []**float32, values []float32) {
	for i, f := range fields {
		if i < len(values) && values[i] != protocol.Unchanged {
			v := values[i]
			*f = &v
		}
	}
}

// collect returns the values of fields, Unchanged where nil. Trailing nil
// fields past keep are dropped.
func collect(fields []**float32, keep int) []float32 {
	n := len(fields)
	for n > keep && *fields[n-1] == nil {
		n--
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = protocol.Unchanged
		if *fields[i] != nil {
			out[i] = **fields[i]
		}
	}
	return out
}

type pauseRequest struct {
	Code int `json:"code"`
}

type viewRequest struct {
	View string `json:"view"`
}

type textRequest struct {
	Message string `json:"message"`
	X       *int   `json:"x,omitempty"`
	Y       *int   `json:"y,omitempty"`
}

type waypointRequest struct {
	Op     string       `json:"op"`
	Points [][3]float32 `json:"points"`
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func aircraft(r *http.Request) (int, error) {
	ac, err := strconv.Atoi(chi.URLParam(r, "ac"))
	if err != nil || ac < 0 || ac > protocol.MaxAircraft {
		return 0, fmt.Errorf("aircraft must be an integer in 0..%d", protocol.MaxAircraft)
	}
	return ac, nil
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	ac, err := aircraft(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	values, err := s.sim.GetPOSI(r.Context(), ac)
	if err != nil {
		s.fail(w, err)
		return
	}
	p := Position{Aircraft: ac}
	fill(p.fields(), values)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutPosition(w http.ResponseWriter, r *http.Request) {
	ac, err := aircraft(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var p Position
	if !decode(w, r, &p) {
		return
	}
	if err := s.sim.SendPOSI(r.Context(), ac, collect(p.fields(), 1)...); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetControls(w http.ResponseWriter, r *http.Request) {
	ac, err := aircraft(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	values, err := s.sim.GetCTRL(r.Context(), ac)
	if err != nil {
		s.fail(w, err)
		return
	}
	c := Controls{Aircraft: ac}
	fill(c.fields(), values)
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handlePutControls(w http.ResponseWriter, r *http.Request) {
	ac, err := aircraft(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var c Controls
	if !decode(w, r, &c) {
		return
	}
	// Without a speedbrake the six ordinary controls are always sent.
	if err := s.sim.SendCTRL(r.Context(), ac, collect(c.fields(), 6)...); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetDatarefs(w http.ResponseWriter, r *http.Request) {
	names := r.URL.Query()["name"]
	if len(names) == 0 {
		writeError(w, http.StatusBadRequest, "at least one name query parameter is required")
		return
	}
	values, err := s.sim.GetDREFs(r.Context(), names...)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make(map[string][]float32, len(names))
	for i, name := range names {
		out[name] = values[i]
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePutDatarefs(w http.ResponseWriter, r *http.Request) {
	var body map[string][]float32
	if !decode(w, r, &body) {
		return
	}
	names := make([]string, 0, len(body))
	for name := range body {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]protocol.DrefValue, len(names))
	for i, name := range names {
		entries[i] = protocol.DrefValue{Name: name, Values: body[name]}
	}
	if err := s.sim.SendDREFs(r.Context(), entries...); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !decode(w, r, &req) {
		return
	}
	s.sent(w, s.sim.PauseSim(r.Context(), req.Code))
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if !decode(w, r, &req) {
		return
	}
	view, ok := protocol.ParseView(req.View)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown view %q", req.View))
		return
	}
	s.sent(w, s.sim.SendVIEW(r.Context(), view))
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	x, y := -1, -1
	if req.X != nil {
		x = *req.X
	}
	if req.Y != nil {
		y = *req.Y
	}
	s.sent(w, s.sim.SendTEXT(r.Context(), req.Message, x, y))
}

func (s *Server) handleWaypoints(w http.ResponseWriter, r *http.Request) {
	var req waypointRequest
	if !decode(w, r, &req) {
		return
	}
	var op protocol.WaypointOp
	switch req.Op {
	case "add":
		op = protocol.WaypointAdd
	case "remove":
		op = protocol.WaypointRemove
	case "clear":
		op = protocol.WaypointClear
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown waypoint op %q", req.Op))
		return
	}
	points := make([]float32, 0, 3*len(req.Points))
	for _, p := range req.Points {
		points = append(points, p[:]...)
	}
	s.sent(w, s.sim.SendWYPT(r.Context(), op, points))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decode(w, r, &req) {
		return
	}
	s.sent(w, s.sim.SendCOMM(r.Context(), req.Command))
}

// sent answers a fire-and-forget operation.
func (s *Server) sent(w http.ResponseWriter, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps client errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Warn("simulator request failed")
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var ve *protocol.ValidationError
	var pe *protocol.ProtocolError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, transport.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &pe):
		return http.StatusBadGateway
	case errors.Is(err, transport.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
