package httpclient

import (
	"context"
	"io"
	"net/http"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"remora.dev/agent/logger"
	"remora.dev/agent/tests"
)

func TestHttpClient(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "HttpClient Suite")
}

var _ = Describe("HttpClient", func() {
	var client *HttpClient
	var server *tests.MockServer

	log := logger.MockLogger(GinkgoWriter)
	ctx := context.Background()

	AfterEach(func() {
		if server != nil {
			server.Close()
			server = nil
		}
	})

	Context("Headers", func() {
		When("the client was built with fixed headers", func() {
			var status int

			fakeAgent := "totally-a-browser"

			BeforeEach(func() {
				server = tests.NewMockServer(tests.MockHandler{
					Endpoint: "/",
					HandlerFunc: func(w http.ResponseWriter, r *http.Request) {
						if r.Header.Get("User-Agent") == fakeAgent && r.Header.Get("Content-Type") == "application/octet-stream" {
							w.WriteHeader(http.StatusOK)
						} else {
							w.WriteHeader(http.StatusBadRequest)
						}
					},
				})

				client = New(log, HTTPOptions{
					Headers:     http.Header{"User-Agent": {fakeAgent}},
					ContentType: "application/octet-stream",
				})
				status, _, _ = client.Get(ctx, server.Addr)
			})

			It("sends them on every request", func() {
				Expect(status).To(Equal(http.StatusOK), "server did not see the headers we were supposed to send")
			})
		})
	})

	Context("Post", func() {
		When("posting a payload", func() {
			var status int
			var seenBody []byte

			payload := []byte("queued agent output")

			BeforeEach(func() {
				server = tests.NewMockServer(tests.MockHandler{
					Endpoint: "/",
					HandlerFunc: func(w http.ResponseWriter, r *http.Request) {
						seenBody, _ = io.ReadAll(r.Body)
						if r.Method == http.MethodPost {
							w.WriteHeader(http.StatusOK)
						} else {
							w.WriteHeader(http.StatusBadRequest)
						}
					},
				})

				client = New(log, HTTPOptions{})
				status, _, _ = client.Post(ctx, server.Addr, payload)
			})

			It("delivers the entire payload as the request body", func() {
				Expect(status).To(Equal(http.StatusOK))
				Expect(seenBody).To(Equal(payload))
			})
		})
	})

	Context("Status reporting", func() {
		When("the server answers with an error status", func() {
			var status int
			var err error

			BeforeEach(func() {
				server = tests.NewMockServer(tests.MockHandler{
					Endpoint: "/",
					HandlerFunc: func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusServiceUnavailable)
					},
				})

				client = New(log, HTTPOptions{})
				status, _, err = client.Get(ctx, server.Addr)
			})

			It("reports the status instead of failing", func() {
				Expect(err).ToNot(HaveOccurred(), "a completed exchange is not a transport failure")
				Expect(status).To(Equal(http.StatusServiceUnavailable))
			})
		})

		When("nothing is listening on the endpoint", func() {
			var status int
			var err error

			BeforeEach(func() {
				client = New(log, HTTPOptions{})
				status, _, err = client.Get(ctx, "http://localhost:1")
			})

			It("reports a transport-level failure as status zero", func() {
				Expect(err).To(HaveOccurred())
				Expect(status).To(Equal(0))
			})
		})
	})

	Context("TLS", func() {
		When("peer verification is disabled", func() {
			var status int
			var err error

			BeforeEach(func() {
				server = tests.NewMockTLSServer(tests.MockHandler{
					Endpoint: "/",
					HandlerFunc: func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusOK)
					},
				})

				client = New(log, HTTPOptions{SkipTLSVerify: true})
				status, _, err = client.Get(ctx, server.Addr)
			})

			It("accepts a self-signed controller certificate", func() {
				Expect(err).ToNot(HaveOccurred(), "client rejected the self-signed certificate: %s", err)
				Expect(status).To(Equal(http.StatusOK))
			})
		})

		When("peer verification is enabled", func() {
			var err error

			BeforeEach(func() {
				server = tests.NewMockTLSServer(tests.MockHandler{
					Endpoint: "/",
					HandlerFunc: func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusOK)
					},
				})

				client = New(log, HTTPOptions{})
				_, _, err = client.Get(ctx, server.Addr)
			})

			It("rejects a self-signed controller certificate", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})
})
