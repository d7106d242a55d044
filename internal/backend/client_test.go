package backend_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/fleet-portal/internal/backend"
	"github.com/frahmantamala/fleet-portal/internal/backend/mockserver"
	"github.com/frahmantamala/fleet-portal/internal/identity"
)

func TestBackend(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Backend Client Suite")
}

var _ = Describe("Backend Client", func() {
	var (
		mock   *mockserver.Server
		server *httptest.Server
		client *backend.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		mock = mockserver.New(logger)
		Expect(mock.Seed()).To(Succeed())
		server = httptest.NewServer(mock.Handler())
		client = backend.NewClient(backend.Config{BaseURL: server.URL, Timeout: time.Second}, logger)
		ctx = context.Background()
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Login", func() {
		It("returns the user with a token", func() {
			u, err := client.Login(ctx, "admin", mockserver.DemoPassword)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.ID).To(Equal("u-admin"))
			Expect(u.Role).To(Equal("admin"))
			Expect(u.Token).NotTo(BeEmpty())
		})

		It("accepts the email as identifier", func() {
			u, err := client.Login(ctx, "operator@fleet.local", mockserver.DemoPassword)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Username).To(Equal("operator"))
		})

		It("maps 401 to invalid credentials", func() {
			_, err := client.Login(ctx, "admin", "wrong")
			Expect(errors.Is(err, backend.ErrInvalidCredentials)).To(BeTrue())
		})

		It("maps 409 to an inactive account", func() {
			_, err := client.Login(ctx, "former", mockserver.DemoPassword)
			Expect(errors.Is(err, backend.ErrInactiveAccount)).To(BeTrue())
		})

		It("maps 404 to unreachable", func() {
			mock.FailWith("/login", http.StatusNotFound)
			_, err := client.Login(ctx, "admin", mockserver.DemoPassword)
			Expect(errors.Is(err, backend.ErrUnreachable)).To(BeTrue())
		})

		It("maps a closed server to unreachable", func() {
			server.Close()
			_, err := client.Login(ctx, "admin", mockserver.DemoPassword)
			Expect(errors.Is(err, backend.ErrUnreachable)).To(BeTrue())
		})

		It("maps a timeout to unreachable", func() {
			client = backend.NewClient(backend.Config{BaseURL: server.URL, Timeout: 20 * time.Millisecond}, nil)
			mock.SetLatency(200 * time.Millisecond)
			_, err := client.Login(ctx, "admin", mockserver.DemoPassword)
			Expect(errors.Is(err, backend.ErrUnreachable)).To(BeTrue())
		})

		It("treats other statuses as unexpected", func() {
			mock.FailWith("/login", http.StatusInternalServerError)
			_, err := client.Login(ctx, "admin", mockserver.DemoPassword)
			Expect(errors.Is(err, backend.ErrUnexpected)).To(BeTrue())
		})
	})

	Describe("Ping", func() {
		It("succeeds while the server answers", func() {
			Expect(client.Ping(ctx)).To(Succeed())
		})

		It("reports a closed server as unreachable", func() {
			server.Close()
			Expect(errors.Is(client.Ping(ctx), backend.ErrUnreachable)).To(BeTrue())
		})
	})

	Describe("authenticated calls", func() {
		var token string

		BeforeEach(func() {
			u, err := client.Login(ctx, "operator", mockserver.DemoPassword)
			Expect(err).NotTo(HaveOccurred())
			token = u.Token
		})

		It("fetches the user by id", func() {
			u, err := client.GetUserByID(ctx, token, "u-operator")
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Tag).To(Equal("night-shift"))
			Expect(u.VehicleGroups).To(Equal([]string{"north"}))
		})

		It("rejects a revoked token", func() {
			mock.Revoke("u-operator")
			_, err := client.GetUserByID(ctx, token, "u-operator")
			Expect(errors.Is(err, backend.ErrUnauthorized)).To(BeTrue())
		})

		It("fetches permission records", func() {
			u, err := client.GetUserByID(ctx, token, "u-operator")
			Expect(err).NotTo(HaveOccurred())

			records, err := client.FetchPermissionRecords(ctx, u)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
			Expect(records[1].Role).To(Equal("operator"))
			Expect(records[1].TabsAccess[0].Key).To(Equal("dashboard"))
		})

		Describe("UpdatePassword", func() {
			It("changes the password", func() {
				Expect(client.UpdatePassword(ctx, token, "u-operator", mockserver.DemoPassword, "n3w")).To(Succeed())

				_, err := client.Login(ctx, "operator", "n3w")
				Expect(err).NotTo(HaveOccurred())
			})

			It("maps a wrong old password to bad request", func() {
				err := client.UpdatePassword(ctx, token, "u-operator", "nope", "n3w")
				Expect(errors.Is(err, backend.ErrBadRequest)).To(BeTrue())
			})

			It("maps an unknown user to not found", func() {
				err := client.UpdatePassword(ctx, token, "u-ghost", mockserver.DemoPassword, "n3w")
				Expect(errors.Is(err, backend.ErrNotFound)).To(BeTrue())
			})
		})
	})

	Describe("wire format", func() {
		var (
			mu     sync.Mutex
			bodies map[string]string
			roles  string
			raw    *httptest.Server
		)

		sent := func(key string) string {
			mu.Lock()
			defer mu.Unlock()
			return bodies[key]
		}

		serveRoles := func(body string) {
			mu.Lock()
			roles = body
			mu.Unlock()
		}

		BeforeEach(func() {
			bodies = map[string]string{}
			raw = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				mu.Lock()
				bodies[r.Method+" "+r.URL.Path] = string(body)
				reply := roles
				mu.Unlock()
				w.Header().Set("Content-Type", "application/json")
				switch r.URL.Path {
				case "/login":
					_, _ = io.WriteString(w, `{"data":{"id":"u1","username":"alice","role":"ops","token":"t1"}}`)
				case "/roles/u1":
					_, _ = io.WriteString(w, reply)
				default:
					_, _ = io.WriteString(w, `{"message":"ok"}`)
				}
			}))
			client = backend.NewClient(backend.Config{BaseURL: raw.URL, Timeout: time.Second}, nil)
		})

		AfterEach(func() {
			raw.Close()
		})

		It("sends the login as username and password", func() {
			_, err := client.Login(ctx, "alice", "pw")
			Expect(err).NotTo(HaveOccurred())
			Expect(sent("POST /login")).To(MatchJSON(`{"username":"alice","password":"pw"}`))
		})

		It("sends the password change with id, oldPassword and newPassword", func() {
			Expect(client.UpdatePassword(ctx, "t1", "u1", "old", "new")).To(Succeed())
			Expect(sent("PUT /user/updatepass")).To(MatchJSON(`{"id":"u1","oldPassword":"old","newPassword":"new"}`))
		})

		It("decodes a bare array of permission records", func() {
			serveRoles(`[{"_id":"r1","role":"ops","tabs_access":[{"group":2}],"report_access":["R1"]}]`)
			records, err := client.FetchPermissionRecords(ctx, &identity.User{ID: "u1", Token: "t1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Role).To(Equal("ops"))
			Expect(records[0].ReportAccess).To(ConsistOf("R1"))
		})

		It("also accepts records wrapped in a data envelope", func() {
			serveRoles(`{"data":[{"_id":"r1","role":"ops","tabs_access":[],"report_access":[]}]}`)
			records, err := client.FetchPermissionRecords(ctx, &identity.User{ID: "u1", Token: "t1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
		})

		It("decodes an empty array as no records", func() {
			serveRoles(`[]`)
			records, err := client.FetchPermissionRecords(ctx, &identity.User{ID: "u1", Token: "t1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})
	})
})
