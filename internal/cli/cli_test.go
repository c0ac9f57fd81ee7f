package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"gopkg.in/yaml.v3"

	"github.com/nasa/XPlaneConnect/pkg/config"
	"github.com/nasa/XPlaneConnect/pkg/emulator"
	"github.com/nasa/XPlaneConnect/pkg/protocol"
)

func startEmulator(t *testing.T) *emulator.Server {
	t.Helper()
	emu := emulator.New()
	if err := emu.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start emulator: %v", err)
	}
	t.Cleanup(emu.Stop)
	return emu
}

// executeCommand runs xpcctl against emu with a missing config file and
// returns everything it printed.
func executeCommand(t *testing.T, emu *emulator.Server, args ...string) (string, error) {
	t.Helper()
	global := []string{
		"--config", filepath.Join(t.TempDir(), "config.yaml"),
		"--host", "127.0.0.1",
		"--timeout", "1s",
	}
	if emu != nil {
		global = append(global, "--port", fmt.Sprint(emu.Addr().Port))
	}
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append(global, args...))
	err := root.Execute()
	return buf.String(), err
}

func TestVersion(t *testing.T) {
	g := NewWithT(t)
	out, err := executeCommand(t, nil, "version")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(Equal("xpcctl version " + version + "\n"))
}

func TestCompletion(t *testing.T) {
	g := NewWithT(t)
	out, err := executeCommand(t, nil, "completion", "bash")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(ContainSubstring("bash completion"))

	_, err = executeCommand(t, nil, "completion", "powershell-classic")
	g.Expect(err).To(HaveOccurred())
}

func TestPosiSetAndGet(t *testing.T) {
	g := NewWithT(t)
	emu := startEmulator(t)

	_, err := executeCommand(t, emu, "posi", "set", "--lat", "37.524", "--lon=-122.069", "--alt", "2500")
	g.Expect(err).NotTo(HaveOccurred())
	g.Eventually(func() float32 { return emu.State().Position(0)[2] }).Should(Equal(float32(2500)))

	out, err := executeCommand(t, emu, "-o", "json", "posi", "get")
	g.Expect(err).NotTo(HaveOccurred())
	var pos Position
	g.Expect(json.Unmarshal([]byte(out), &pos)).To(Succeed())
	g.Expect(pos).To(Equal(Position{Latitude: 37.524, Longitude: -122.069, Altitude: 2500, Gear: 1}))
}

func TestPosiSetKeepsUnsetFields(t *testing.T) {
	g := NewWithT(t)
	emu := startEmulator(t)

	_, err := executeCommand(t, emu, "posi", "set", "--ac", "2", "--lat", "10", "--alt", "500")
	g.Expect(err).NotTo(HaveOccurred())
	_, err = executeCommand(t, emu, "posi", "set", "--ac", "2", "--heading", "270")
	g.Expect(err).NotTo(HaveOccurred())

	g.Eventually(func() []float32 { return emu.State().Position(2) }).
		Should(Equal([]float32{10, 0, 500, 0, 0, 270, 1}))
}

func TestCtrlSetAndGet(t *testing.T) {
	g := NewWithT(t)
	emu := startEmulator(t)

	_, err := executeCommand(t, emu, "ctrl", "set", "--throttle", "0.8", "--elevator=-0.1")
	g.Expect(err).NotTo(HaveOccurred())
	g.Eventually(func() float32 { return emu.State().Controls(0)[3] }).Should(Equal(float32(0.8)))

	out, err := executeCommand(t, emu, "-o", "yaml", "ctrl", "get")
	g.Expect(err).NotTo(HaveOccurred())
	var ctrl Controls
	g.Expect(yaml.Unmarshal([]byte(out), &ctrl)).To(Succeed())
	g.Expect(ctrl.Throttle).To(Equal(float32(0.8)))
	g.Expect(ctrl.Elevator).To(Equal(float32(-0.1)))
	g.Expect(ctrl.Gear).To(Equal(float32(1)))
}

func TestSetNeedsAValue(t *testing.T) {
	g := NewWithT(t)
	emu := startEmulator(t)

	for _, args := range [][]string{
		{"posi", "set"},
		{"ctrl", "set", "--ac", "1"},
		{"dref", "set", "sim/a"},
	} {
		_, err := executeCommand(t, emu, args...)
		g.Expect(err).To(MatchError(ContainSubstring("nothing to set")), strings.Join(args, " "))
	}
}

func TestDrefSetAndGet(t *testing.T) {
	g := NewWithT(t)
	emu := startEmulator(t)

	_, err := executeCommand(t, emu, "dref", "set", "sim/test/array", "--values", "1,2,3")
	g.Expect(err).NotTo(HaveOccurred())
	g.Eventually(func() []float32 { return emu.State().Dataref("sim/test/array") }).
		Should(Equal([]float32{1, 2, 3}))

	out, err := executeCommand(t, emu, "-o", "json", "dref", "get", "sim/test/array", "sim/test/missing")
	g.Expect(err).NotTo(HaveOccurred())
	var drefs []Dataref
	g.Expect(json.Unmarshal([]byte(out), &drefs)).To(Succeed())
	g.Expect(drefs).To(HaveLen(2))
	g.Expect(drefs[0]).To(Equal(Dataref{Name: "sim/test/array", Values: []float32{1, 2, 3}}))
	g.Expect(drefs[1].Values).To(BeEmpty())
}

func TestDrefGetTable(t *testing.T) {
	g := NewWithT(t)
	emu := startEmulator(t)
	emu.State().SetDataref("sim/test/value", 42)

	out, err := executeCommand(t, emu, "dref", "get", "sim/test/value")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(ContainSubstring("NAME"))
	g.Expect(out).To(ContainSubstring("sim/test/value"))
	g.Expect(out).To(ContainSubstring("42"))
}

func TestSimCommands(t *testing.T) {
	g := NewWithT(t)
	emu := startEmulator(t)
	st := emu.State()

	steps := [][]string{
		{"pause", "pause", "--aircraft", "3"},
		{"view", "chase"},
		{"text", "hello", "--x", "100", "--y", "200"},
		{"wypt", "add", "--point", "37.5,-122.2,2500", "--point", "37.6,-122.3,3000"},
		{"wypt", "remove", "--point", "37.5,-122.2,2500"},
		{"comm", "sim/operation/pause_toggle"},
	}
	for _, args := range steps {
		_, err := executeCommand(t, emu, args...)
		g.Expect(err).NotTo(HaveOccurred(), strings.Join(args, " "))
	}

	g.Eventually(st.Commands).Should(ConsistOf("sim/operation/pause_toggle"))
	g.Expect(st.Paused(3)).To(BeTrue())
	g.Expect(st.Paused(0)).To(BeFalse())
	g.Expect(st.View()).To(Equal(protocol.ViewChase))
	msg, x, y := st.Text()
	g.Expect(msg).To(Equal("hello"))
	g.Expect([]int{x, y}).To(Equal([]int{100, 200}))
	g.Expect(st.Waypoints()).To(Equal([]float32{37.6, -122.3, 3000}))

	_, err := executeCommand(t, emu, "wypt", "clear")
	g.Expect(err).NotTo(HaveOccurred())
	g.Eventually(st.Waypoints).Should(BeEmpty())
}

func TestArgumentErrors(t *testing.T) {
	g := NewWithT(t)
	emu := startEmulator(t)

	_, err := executeCommand(t, emu, "view", "sideways")
	g.Expect(err).To(MatchError(ContainSubstring("unknown view")))

	_, err = executeCommand(t, emu, "wypt", "add", "--point", "1,2")
	g.Expect(err).To(MatchError(ContainSubstring("want lat,lon,alt")))

	_, err = executeCommand(t, emu, "pause", "toggle", "--aircraft", "1")
	g.Expect(err).To(HaveOccurred())

	_, err = executeCommand(t, emu, "-o", "xml", "posi", "get")
	g.Expect(err).To(HaveOccurred())

	_, err = executeCommand(t, emu, "comm", "")
	var ve *protocol.ValidationError
	g.Expect(errors.As(err, &ve)).To(BeTrue())
}

func TestTimeoutReportsError(t *testing.T) {
	g := NewWithT(t)
	emu := startEmulator(t)
	port := emu.Addr().Port
	emu.Stop()

	root := NewRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "config.yaml"),
		"--host", "127.0.0.1", "--port", fmt.Sprint(port), "--timeout", "50ms",
		"posi", "get",
	})
	start := time.Now()
	g.Expect(root.Execute()).To(HaveOccurred())
	g.Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
}

func TestPauseCode(t *testing.T) {
	g := NewWithT(t)
	cases := []struct {
		mode     string
		aircraft int
		want     int
	}{
		{"pause", -1, protocol.SimuPause},
		{"resume", -1, protocol.SimuResume},
		{"toggle", -1, protocol.SimuToggle},
		{"pause", 4, protocol.SimuPauseAircraft + 4},
		{"resume", 0, protocol.SimuResumeAircraft},
	}
	for _, c := range cases {
		got, err := pauseCode(c.mode, c.aircraft)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(got).To(Equal(c.want), c.mode)
	}
	_, err := pauseCode("stop", -1)
	g.Expect(err).To(HaveOccurred())
}

func TestSubscriptionsMerge(t *testing.T) {
	g := NewWithT(t)
	configured := []config.Monitor{{Name: "sim/a", Freq: 1}, {Name: "sim/b", Freq: 2}}

	got := subscriptions(configured, []string{"sim/b", "sim/c"}, 20)
	g.Expect(got).To(Equal([]config.Monitor{
		{Name: "sim/a", Freq: 1},
		{Name: "sim/b", Freq: 20},
		{Name: "sim/c", Freq: 20},
	}))
	g.Expect(configured[1].Freq).To(Equal(2))
}

func TestParsePoint(t *testing.T) {
	g := NewWithT(t)
	p, err := parsePoint("37.5, -122.25, 1000")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(p).To(Equal([]float32{37.5, -122.25, 1000}))

	_, err = parsePoint("a,b,c")
	g.Expect(err).To(HaveOccurred())
}
