package output

import (
	"strings"
	"testing"

	. "github.com/onsi/gomega"
)

type position struct {
	Aircraft int     `json:"aircraft" yaml:"aircraft"`
	Lat      float32 `json:"lat" yaml:"lat"`
	Alt      float64 `json:"alt" yaml:"alt"`
}

func TestNewFormatter(t *testing.T) {
	g := NewWithT(t)
	for _, name := range []string{"", "table", "JSON", "yaml"} {
		f, err := NewFormatter(name)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(f).NotTo(BeNil())
	}
	_, err := NewFormatter("xml")
	g.Expect(err).To(MatchError(ContainSubstring("xml")))
}

func TestTableSliceOfStructs(t *testing.T) {
	g := NewWithT(t)
	out, err := (&TableFormatter{}).Format([]position{{0, 37.5, 1000}, {1, -12.25, 2}})
	g.Expect(err).NotTo(HaveOccurred())
	lines := strings.Split(strings.TrimSpace(out), "\n")
	g.Expect(lines).To(HaveLen(3))
	g.Expect(strings.Fields(lines[0])).To(Equal([]string{"AIRCRAFT", "LAT", "ALT"}))
	g.Expect(strings.Fields(lines[2])).To(Equal([]string{"1", "-12.25", "2"}))
}

func TestTableStructAndMap(t *testing.T) {
	g := NewWithT(t)
	out, err := (&TableFormatter{}).Format(&position{Aircraft: 3, Lat: 1.5})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(ContainSubstring("aircraft:"))
	g.Expect(out).To(ContainSubstring("1.5"))

	out, err = (&TableFormatter{}).Format(map[string][]float32{"sim/b": {1, 2}, "sim/a": {3}})
	g.Expect(err).NotTo(HaveOccurred())
	lines := strings.Split(strings.TrimSpace(out), "\n")
	g.Expect(strings.Fields(lines[0])).To(Equal([]string{"sim/a", "3"}))
	g.Expect(strings.Fields(lines[1])).To(Equal([]string{"sim/b", "1", "2"}))
}

func TestTableEmptySlice(t *testing.T) {
	g := NewWithT(t)
	out, err := (&TableFormatter{}).Format([]position{})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(Equal("No results.\n"))
}

func TestJSONAndYAML(t *testing.T) {
	g := NewWithT(t)
	p := position{Aircraft: 2, Lat: 0.5, Alt: 10}

	out, err := (&JSONFormatter{}).Format(p)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(MatchJSON(`{"aircraft":2,"lat":0.5,"alt":10}`))

	out, err = (&YAMLFormatter{}).Format(p)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(MatchYAML("aircraft: 2\nlat: 0.5\nalt: 10\n"))

	_, err = (&JSONFormatter{}).Format(make(chan int))
	g.Expect(err).To(HaveOccurred())
}
