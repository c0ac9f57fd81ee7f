package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/onsi/gomega"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	g := gomega.NewWithT(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(cfg).To(gomega.Equal(Default()))
	g.Expect(cfg.Port).To(gomega.Equal(49009))
}

func TestLoadOverridesDefaults(t *testing.T) {
	g := gomega.NewWithT(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`host: 10.0.0.5
port: 49010
timeout: 250ms
output_format: json
monitor:
  - name: sim/flightmodel/position/latitude
    freq: 5
`)
	g.Expect(os.WriteFile(path, data, 0o600)).To(gomega.Succeed())

	cfg, err := Load(path)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(cfg.Host).To(gomega.Equal("10.0.0.5"))
	g.Expect(cfg.Timeout).To(gomega.Equal(250 * time.Millisecond))
	g.Expect(cfg.OutputFormat).To(gomega.Equal("json"))
	g.Expect(cfg.LogLevel).To(gomega.Equal("warn"))
	g.Expect(cfg.Monitor).To(gomega.Equal([]Monitor{{Name: "sim/flightmodel/position/latitude", Freq: 5}}))

	tc := cfg.Transport()
	g.Expect(tc.Port).To(gomega.Equal(49010))
	g.Expect(tc.Timeout).To(gomega.Equal(250 * time.Millisecond))
}

func TestLoadRejectsBadValues(t *testing.T) {
	g := gomega.NewWithT(t)
	dir := t.TempDir()
	for name, body := range map[string]string{
		"port.yaml":    "port: 70000\n",
		"timeout.yaml": "timeout: -1s\n",
		"monitor.yaml": "monitor:\n  - name: sim/a\n    freq: 0\n",
		"syntax.yaml":  "port: [\n",
	} {
		path := filepath.Join(dir, name)
		g.Expect(os.WriteFile(path, []byte(body), 0o600)).To(gomega.Succeed())
		_, err := Load(path)
		g.Expect(err).To(gomega.HaveOccurred(), name)
	}
}
