package httpserver_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tcp-load-balancer/internal/httpserver"
)

var noop = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

var _ = Describe("HTTP Server", func() {
	Context("server creation", func() {
		DescribeTable("accepted addresses",
			func(addr string) {
				srv, err := httpserver.New(addr, noop)
				Expect(err).NotTo(HaveOccurred())
				Expect(srv).NotTo(BeNil())
			},
			Entry("host name", "localhost:9090"),
			Entry("IP address", "127.0.0.1:9090"),
			Entry("port only", ":9090"),
		)

		DescribeTable("rejected addresses",
			func(addr string) {
				srv, err := httpserver.New(addr, noop)
				Expect(err).To(HaveOccurred())
				Expect(srv).To(BeNil())
			},
			Entry("too many colons", "invalid:host:port"),
			Entry("missing port", "localhost"),
			Entry("empty port", "localhost:"),
			Entry("non-numeric port", "localhost:metrics"),
		)
	})

	Context("server lifecycle", func() {
		var (
			testServer *httpserver.Server
			ln         net.Listener
			served     chan error
		)

		start := func(handler http.Handler) {
			var err error
			testServer, err = httpserver.New("127.0.0.1:0", handler)
			Expect(err).NotTo(HaveOccurred())

			ln, err = net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())

			done := make(chan error, 1)
			served = done
			go func(s *httpserver.Server, l net.Listener) {
				done <- s.Serve(l)
			}(testServer, ln)
		}

		AfterEach(func() {
			if testServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = testServer.Shutdown(ctx)
			}
		})

		It("starts and handles requests", func() {
			start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			}))

			var resp *http.Response
			Eventually(func() error {
				var err error
				resp, err = http.Get("http://" + ln.Addr().String() + "/healthz")
				return err
			}).Should(Succeed())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("ok"))
		})

		It("returns nil from Serve after a graceful shutdown", func() {
			start(noop)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			Expect(testServer.Shutdown(ctx)).To(Succeed())
			Eventually(served).Should(Receive(BeNil()))
		})
	})

	Context("Start", func() {
		It("fails when the address is already in use", func() {
			occupied, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			defer occupied.Close()

			srv, err := httpserver.New(occupied.Addr().String(), noop)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Start()).To(MatchError(ContainSubstring("listen on")))
		})
	})
})
