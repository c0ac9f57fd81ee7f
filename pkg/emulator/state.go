package emulator

import (
	"sort"
	"sync"

	"github.com/nasa/XPlaneConnect/pkg/protocol"
)

const aircraftSlots = protocol.MaxAircraft + 1

// State is the simulated world the emulator mutates and reports. All
// methods are safe for concurrent use.
type State struct {
	mu        sync.Mutex
	positions [aircraftSlots][7]float32
	controls  [aircraftSlots][7]float32
	paused    [aircraftSlots]bool
	datarefs  map[string][]float32
	rows      map[int][8]float32
	view      protocol.ViewType
	text      protocol.Text
	waypoints []float32
	commands  []string
}

// NewState returns a world with every aircraft at the origin, gear down.
func NewState() *State {
	s := &State{
		datarefs: make(map[string][]float32),
		rows:     make(map[int][8]float32),
		view:     protocol.ViewForwards,
		text:     protocol.Text{X: -1, Y: -1},
	}
	for ac := range s.positions {
		s.positions[ac][6] = 1
		s.controls[ac][4] = 1
	}
	return s
}

func merge(dst []float32, src []float32) {
	for i, v := range src {
		if i < len(dst) && v != protocol.Unchanged {
			dst[i] = v
		}
	}
}

func (s *State) setPosition(ac int, values []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merge(s.positions[ac][:], values)
}

// Position returns the seven position values of aircraft ac.
func (s *State) Position(ac int) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.positions[ac]
	return out[:]
}

func (s *State) setControls(ac int, values []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merge(s.controls[ac][:], values)
}

// Controls returns the seven control values of aircraft ac.
func (s *State) Controls(ac int) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.controls[ac]
	return out[:]
}

func (s *State) pause(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case code == protocol.SimuResume, code == protocol.SimuPause:
		for ac := range s.paused {
			s.paused[ac] = code == protocol.SimuPause
		}
	case code == protocol.SimuToggle:
		for ac := range s.paused {
			s.paused[ac] = !s.paused[ac]
		}
	case code >= protocol.SimuResumeAircraft:
		s.paused[code-protocol.SimuResumeAircraft] = false
	case code >= protocol.SimuPauseAircraft:
		s.paused[code-protocol.SimuPauseAircraft] = true
	}
}

// Paused reports whether aircraft ac is paused.
func (s *State) Paused(ac int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused[ac]
}

// SetDataref stores values under name.
func (s *State) SetDataref(name string, values ...float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datarefs[name] = append([]float32(nil), values...)
}

// Dataref returns the values stored under name, or nil.
func (s *State) Dataref(name string) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float32(nil), s.datarefs[name]...)
}

// scalar is the first value of name, the one an RREF stream carries.
func (s *State) scalar(name string) float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v := s.datarefs[name]; len(v) > 0 {
		return v[0]
	}
	return 0
}

// Datarefs lists the stored dataref names in order.
func (s *State) Datarefs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.datarefs))
	for name := range s.datarefs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *State) setRows(rows []protocol.DataRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		cur := s.rows[r.Index]
		merge(cur[:], r.Values[:])
		s.rows[r.Index] = cur
	}
}

// DataRow returns the eight values of row idx.
func (s *State) DataRow(idx int) [8]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[idx]
}

func (s *State) setView(v protocol.ViewType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v
}

// View returns the current camera view.
func (s *State) View() protocol.ViewType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *State) setText(t protocol.Text) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = t
}

// Text returns the on-screen message and its position.
func (s *State) Text() (msg string, x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.Message, s.text.X, s.text.Y
}

func (s *State) waypoint(op protocol.WaypointOp, points []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch op {
	case protocol.WaypointAdd:
		s.waypoints = append(s.waypoints, points...)
	case protocol.WaypointClear:
		s.waypoints = nil
	case protocol.WaypointRemove:
		for i := 0; i+2 < len(points); i += 3 {
			s.waypoints = removeTriple(s.waypoints, points[i:i+3])
		}
	}
}

func removeTriple(list, t []float32) []float32 {
	for i := 0; i+2 < len(list); i += 3 {
		if list[i] == t[0] && list[i+1] == t[1] && list[i+2] == t[2] {
			return append(list[:i:i], list[i+3:]...)
		}
	}
	return list
}

// Waypoints returns the flat list of latitude, longitude, altitude triples.
func (s *State) Waypoints() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float32(nil), s.waypoints...)
}

func (s *State) command(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
}

// Commands returns every command run so far, oldest first.
func (s *State) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}
