package config

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Config", func() {
	var dir string

	writeConfig := func(contents string) string {
		path := filepath.Join(dir, "agent.toml")
		Expect(os.WriteFile(path, []byte(contents), 0o600)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	When("the file is complete", func() {
		It("loads every field", func() {
			path := writeConfig(`
log_level = "debug"
log_path = "/var/log/remora/agent.log"

[[channels]]
address = "https://controller/c/session|--ua curl/8.0"

[[channels]]
address = "wss://controller/stream"
`)

			config, err := Load(path)
			Expect(err).ToNot(HaveOccurred(), "failed to load config: %s", err)
			Expect(config.LogLevel).To(Equal("debug"))
			Expect(config.LogPath).To(Equal("/var/log/remora/agent.log"))
			Expect(config.Channels).To(HaveLen(2))
			Expect(config.Channels[0].Address).To(Equal("https://controller/c/session|--ua curl/8.0"))
		})
	})

	When("optional fields are missing", func() {
		It("applies defaults", func() {
			path := writeConfig(`
[[channels]]
address = "https://controller/c"
`)

			config, err := Load(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(config.LogLevel).To(Equal("info"))
		})
	})

	When("no channels are assigned", func() {
		It("refuses to load", func() {
			path := writeConfig(`log_level = "info"`)

			_, err := Load(path)
			Expect(err).To(HaveOccurred(), "an agent with no channels cannot run")
		})
	})

	When("a channel has no address", func() {
		It("refuses to load", func() {
			path := writeConfig(`
[[channels]]
address = ""
`)

			_, err := Load(path)
			Expect(err).To(HaveOccurred())
		})
	})

	When("the file does not exist", func() {
		It("reports the failure", func() {
			_, err := Load(filepath.Join(dir, "missing.toml"))
			Expect(err).To(HaveOccurred())
		})
	})
})
