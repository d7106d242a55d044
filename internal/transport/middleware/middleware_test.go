package middleware_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/fleet-portal/api"
	"github.com/frahmantamala/fleet-portal/internal/transport/middleware"
)

func TestMiddleware(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Transport Middleware Suite")
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"token":"abc","name":"ana"}`))
})

func errorCode(rec *httptest.ResponseRecorder) string {
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
	return body.Error.Code
}

var _ = Describe("CSRF", func() {
	var handler http.Handler

	BeforeEach(func() {
		handler = middleware.CSRF([]string{"https://portal.example.com/"}, nil)(ok)
	})

	send := func(method string, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "http://gateway.internal/api/v1/session/login", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	It("lets safe methods through", func() {
		Expect(send(http.MethodGet, nil).Code).To(Equal(http.StatusOK))
	})

	It("accepts an allowed origin regardless of case", func() {
		Expect(send(http.MethodPost, map[string]string{"Origin": "https://Portal.example.com"}).Code).To(Equal(http.StatusOK))
	})

	It("accepts the gateway's own host", func() {
		Expect(send(http.MethodPost, map[string]string{"Origin": "http://gateway.internal"}).Code).To(Equal(http.StatusOK))
	})

	It("falls back to the referer", func() {
		rec := send(http.MethodPost, map[string]string{"Referer": "https://portal.example.com/app/signin?next=x"})
		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	DescribeTable("rejects foreign or missing sources",
		func(headers map[string]string) {
			rec := send(http.MethodPost, headers)
			Expect(rec.Code).To(Equal(http.StatusForbidden))
			Expect(errorCode(rec)).To(Equal("CSRF_REJECTED"))
		},
		Entry("foreign origin", map[string]string{"Origin": "https://evil.example.com"}),
		Entry("foreign referer", map[string]string{"Referer": "https://evil.example.com/page"}),
		Entry("nothing", map[string]string{}),
		Entry("garbage referer", map[string]string{"Referer": "::not a url"}),
	)
})

var _ = Describe("CORS", func() {
	var handler http.Handler

	BeforeEach(func() {
		handler = middleware.CORS([]string{"https://portal.example.com"})(ok)
	})

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/session/login", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	It("answers preflight for an allowed origin", func() {
		rec := preflight("https://portal.example.com")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://portal.example.com"))
		Expect(rec.Header().Get("Access-Control-Allow-Credentials")).To(Equal("true"))
		Expect(rec.Header().Get("Access-Control-Allow-Methods")).To(Equal(http.MethodPost))
		Expect(rec.Header().Get("Access-Control-Max-Age")).To(Equal("600"))
	})

	It("does not grant other origins", func() {
		rec := preflight("https://evil.example.com")
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
		Expect(rec.Header().Get("Access-Control-Allow-Credentials")).To(BeEmpty())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/access", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
	})

	It("exposes the trace and access headers on actual requests", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/access", nil)
		req.Header.Set("Origin", "https://portal.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://portal.example.com"))
		Expect(rec.Header().Get("Access-Control-Expose-Headers")).To(ContainSubstring("X-Access-Level"))
	})

	It("echoes any origin when configured with a wildcard", func() {
		handler = middleware.CORS([]string{"*"})(ok)
		rec := preflight("https://anywhere.example.com")
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://anywhere.example.com"))
	})

	It("does not decorate same-origin requests", func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/access", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
	})
})

var _ = Describe("RateLimiter", func() {
	It("throttles a client once its burst is spent", func() {
		limiter := middleware.NewRateLimiter(3)
		handler := limiter.Handler(ok)

		codes := make([]int, 0, 4)
		for i := 0; i < 4; i++ {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/session/login", nil)
			req.RemoteAddr = "10.0.0.1:5555"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			codes = append(codes, rec.Code)
			if rec.Code == http.StatusTooManyRequests {
				Expect(rec.Header().Get("Retry-After")).NotTo(BeEmpty())
				Expect(errorCode(rec)).To(Equal("TOO_MANY_ATTEMPTS"))
			}
		}
		Expect(codes).To(Equal([]int{200, 200, 200, 429}))
	})

	It("keeps clients apart", func() {
		limiter := middleware.NewRateLimiter(1)
		Expect(limiter.Allow("10.0.0.1")).To(BeTrue())
		Expect(limiter.Allow("10.0.0.1")).To(BeFalse())
		Expect(limiter.Allow("10.0.0.2")).To(BeTrue())
	})
})

var _ = Describe("RequestValidator", func() {
	var handler http.Handler

	BeforeEach(func() {
		v, err := middleware.NewRequestValidator(api.OpenAPI, nil)
		Expect(err).NotTo(HaveOccurred())
		handler = v.Handler(ok)
	})

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	It("accepts a well-formed login", func() {
		Expect(post("/api/v1/session/login", `{"identifier":"ana","password":"pw"}`).Code).To(Equal(http.StatusOK))
	})

	It("rejects a login without a password", func() {
		rec := post("/api/v1/session/login", `{"identifier":"ana"}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(errorCode(rec)).To(Equal("INVALID_REQUEST"))
	})

	It("does not echo submitted values", func() {
		rec := post("/api/v1/session/login", `{"identifier":"ana","password":12345678}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(rec.Body.String()).NotTo(ContainSubstring("12345678"))
	})

	It("requires the path parameter of a route decision", func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/access/route", nil))
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("passes undocumented paths through", func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app/dashboard", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})

var _ = Describe("Recovery", func() {
	It("hides the panic value", func() {
		boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("db password is hunter2") })
		rec := httptest.NewRecorder()
		middleware.Recovery(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))(boom).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).NotTo(ContainSubstring("hunter2"))
		Expect(errorCode(rec)).To(Equal("UNKNOWN"))
	})
})

var _ = Describe("RequestID and Logging", func() {
	It("propagates the caller's trace id", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.TraceHeader, "trace-1")
		rec := httptest.NewRecorder()
		middleware.RequestID(ok).ServeHTTP(rec, req)
		Expect(rec.Header().Get(middleware.TraceHeader)).To(Equal("trace-1"))
	})

	It("mints a trace id when none is sent", func() {
		rec := httptest.NewRecorder()
		middleware.RequestID(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		Expect(rec.Header().Get(middleware.TraceHeader)).To(HaveLen(36))
	})

	It("filters secrets out of logged bodies at debug level", func() {
		var buf bytes.Buffer
		lg := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/session/login", strings.NewReader(`{"identifier":"ana","password":"hunter2"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Cookie", "portal_session=abc")
		rec := httptest.NewRecorder()
		middleware.Logging(lg)(ok).ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(buf.String()).NotTo(ContainSubstring("hunter2"))
		Expect(buf.String()).NotTo(ContainSubstring("portal_session=abc"))
		Expect(buf.String()).NotTo(ContainSubstring(`\"abc\"`))
		Expect(buf.String()).To(ContainSubstring("ana"))
	})

	It("leaves bodies out at info level", func() {
		var buf bytes.Buffer
		lg := slog.New(slog.NewJSONHandler(&buf, nil))
		rec := httptest.NewRecorder()
		middleware.Logging(lg)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/access", nil))

		Expect(buf.String()).To(ContainSubstring(`"status_code":200`))
		Expect(buf.String()).NotTo(ContainSubstring("ana"))
	})
})
