package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Watcher", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-watcher-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
		Expect(os.WriteFile(configFile, []byte("database:\n  url: \"postgres://localhost/telemetry\"\nlogging:\n  level: \"info\"\n"), 0644)).To(Succeed())
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	It("reloads the config when the file changes", func() {
		w, err := NewWatcher(configFile, nil)
		Expect(err).NotTo(HaveOccurred())
		defer w.Close()

		Expect(w.Get().Logging.Level).To(Equal("info"))

		Expect(os.WriteFile(configFile, []byte("database:\n  url: \"postgres://localhost/telemetry\"\nlogging:\n  level: \"debug\"\n"), 0644)).To(Succeed())

		Eventually(func() string {
			return w.Get().Logging.Level
		}, 2*time.Second, 50*time.Millisecond).Should(Equal("debug"))
	})

	It("retains the previous config when a reload fails validation", func() {
		w, err := NewWatcher(configFile, nil)
		Expect(err).NotTo(HaveOccurred())
		defer w.Close()

		Expect(os.WriteFile(configFile, []byte("logging:\n  level: \"debug\"\n"), 0644)).To(Succeed())

		Consistently(func() string {
			return w.Get().Database.URL
		}, 500*time.Millisecond, 50*time.Millisecond).Should(Equal("postgres://localhost/telemetry"))
	})
})
