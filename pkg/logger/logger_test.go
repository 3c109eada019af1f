package logger_test

import (
	"bytes"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Venkie07/kyla-api/pkg/logger"
)

var _ = Describe("Logger", func() {
	Describe("NewLoggerTo", func() {
		It("suppresses debug entries unless debug is enabled", func() {
			var buf bytes.Buffer
			l := logger.NewLoggerTo(&buf, false, true)

			l.Debug("hidden")
			l.Info("shown")
			Expect(l.Sync()).To(Succeed())

			Expect(buf.String()).NotTo(ContainSubstring("hidden"))
			Expect(buf.String()).To(ContainSubstring("shown"))
		})

		It("emits debug entries when debug is enabled", func() {
			var buf bytes.Buffer
			l := logger.NewLoggerTo(&buf, true, true)

			l.Debug("visible")
			Expect(l.Sync()).To(Succeed())

			Expect(buf.String()).To(ContainSubstring("visible"))
		})

		It("writes one JSON object per entry in json mode", func() {
			var buf bytes.Buffer
			l := logger.NewLoggerTo(&buf, false, true)

			l.Info("hello")
			Expect(l.Sync()).To(Succeed())

			var entry map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &entry)).To(Succeed())
			Expect(entry["msg"]).To(Equal("hello"))
			Expect(entry["level"]).To(Equal("info"))
			Expect(entry).To(HaveKey("time"))
		})
	})

	Describe("Preview", func() {
		It("returns short strings unchanged", func() {
			Expect(logger.Preview("hi", 10)).To(Equal("hi"))
		})

		It("flattens newlines", func() {
			Expect(logger.Preview("a\nb", 10)).To(Equal("a b"))
		})

		It("truncates long strings with an ellipsis", func() {
			Expect(logger.Preview("abcdefghij", 4)).To(Equal("abcd..."))
		})
	})
})
