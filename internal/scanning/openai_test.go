package scanning

import (
	"context"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

func completionBody(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
}

var _ = Describe("OpenAI", func() {
	var (
		server *ghttp.Server
		client *OpenAI
		out    string
		err    error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var cErr error
		client, cErr = NewOpenAI(OpenAIConfig{
			BaseURL: server.URL() + "/api/v1/",
			APIKey:  "test-key",
			Model:   "test-model",
			Title:   "receipt-ledger",
		})
		Expect(cErr).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Complete", func() {
		JustBeforeEach(func() {
			out, err = client.Complete(context.Background(), "extract this")
		})

		When("the endpoint answers", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/api/v1/chat/completions"),
					ghttp.VerifyHeaderKV("Authorization", "Bearer test-key"),
					ghttp.VerifyHeaderKV("X-Title", "receipt-ledger"),
					ghttp.VerifyJSONRepresenting(chatRequest{
						Model:    "test-model",
						Messages: []chatMessage{{Role: "user", Content: "extract this"}},
					}),
					ghttp.RespondWithJSONEncoded(http.StatusOK, completionBody("```json\n[]\n```")),
				))
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the first choice content verbatim", func() {
				Expect(out).To(Equal("```json\n[]\n```"))
			})

			It("should make one request", func() {
				Expect(server.ReceivedRequests()).To(HaveLen(1))
			})
		})

		When("the envelope has no choices", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"choices": []any{}}))
			})

			It("should return an empty answer without an error", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(out).To(BeEmpty())
			})
		})

		When("the envelope is not json", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "<html>oops</html>"))
			})

			It("should return an empty answer without an error", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(out).To(BeEmpty())
			})
		})

		When("the endpoint is unreachable", func() {
			BeforeEach(func() {
				server.Close()
			})

			It("should return a TransientError", func() {
				Expect(IsTransient(err)).To(BeTrue())
			})
		})
	})

	DescribeTable("status classification",
		func(status int, check func(error) bool) {
			server.AppendHandlers(ghttp.RespondWith(status, `{"error":"nope"}`))
			_, err := client.Complete(context.Background(), "x")
			Expect(err).To(HaveOccurred())
			Expect(check(err)).To(BeTrue())
		},
		Entry("401 is a configuration error", http.StatusUnauthorized, isConfigurationError),
		Entry("403 is a configuration error", http.StatusForbidden, isConfigurationError),
		Entry("429 is transient", http.StatusTooManyRequests, IsTransient),
		Entry("500 is transient", http.StatusInternalServerError, IsTransient),
		Entry("503 is transient", http.StatusServiceUnavailable, IsTransient),
		Entry("400 is neither", http.StatusBadRequest, func(err error) bool {
			return !IsTransient(err) && !isConfigurationError(err)
		}),
	)

	Describe("NewOpenAI", func() {
		It("should require an API key", func() {
			_, err := NewOpenAI(OpenAIConfig{APIKey: "  "})
			Expect(isConfigurationError(err)).To(BeTrue())
		})
	})
})

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		client *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		client, err = NewOllama(server.URL(), "llama3.1")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("should return the message content", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"message": map[string]string{"role": "assistant", "content": "[]"},
				"done":    true,
			}),
		))
		out, err := client.Complete(context.Background(), "x")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("[]"))
	})

	It("should classify server errors as transient", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusBadGateway, "model loading"))
		_, err := client.Complete(context.Background(), "x")
		Expect(IsTransient(err)).To(BeTrue())
	})
})


func isConfigurationError(err error) bool {
	var cErr *ConfigurationError
	return errors.As(err, &cErr)
}
