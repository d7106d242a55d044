package session_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/fleet-portal/internal/access"
	"github.com/frahmantamala/fleet-portal/internal/backend"
	"github.com/frahmantamala/fleet-portal/internal/backend/mockserver"
	"github.com/frahmantamala/fleet-portal/internal/core/events"
	"github.com/frahmantamala/fleet-portal/internal/identity"
	"github.com/frahmantamala/fleet-portal/internal/session"
)

func TestSession(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Session Suite")
}

// memStore is a Store shared across "requests" the way a browser shares
// its cookie jar.
type memStore struct {
	mu      sync.Mutex
	snap    *session.Snapshot
	saveErr error
}

func (m *memStore) Load(context.Context) (*session.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, session.ErrNoSnapshot
	}
	s := *m.snap
	s.User = s.User.Clone()
	return &s, nil
}

func (m *memStore) Save(_ context.Context, snap session.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snap = &snap
	return nil
}

func (m *memStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = nil
	return nil
}

func (m *memStore) current() *session.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

var sessionConfig = session.Config{
	HomeRoute:    "/dashboard",
	SignInRoute:  "/signin",
	PublicRoutes: []string{"/signin", "/forgot-password"},
	TTL:          time.Hour,
	LogoutWindow: 50 * time.Millisecond,
}

var _ = Describe("Session Provider", func() {
	var (
		mock    *mockserver.Server
		server  *httptest.Server
		client  *backend.Client
		store   *memStore
		bus     *events.EventBus
		scope   *access.Scope
		ctx     context.Context
		newProv func() *session.Provider
	)

	BeforeEach(func() {
		logger := quietLogger()
		mock = mockserver.New(logger)
		Expect(mock.Seed()).To(Succeed())
		server = httptest.NewServer(mock.Handler())
		client = backend.NewClient(backend.Config{BaseURL: server.URL, Timeout: time.Second}, logger)
		store = &memStore{}
		ctx = context.Background()

		newProv = func() *session.Provider {
			bus = events.NewEventBus(logger)
			scope = access.NewScope(client, logger, time.Second)
			bus.Subscribe(events.EventTypeIdentityChanged, scope.HandleIdentityChanged)
			return session.NewProvider(client, store, bus, sessionConfig, logger)
		}
	})

	AfterEach(func() {
		server.Close()
	})

	It("starts unauthenticated", func() {
		p := newProv()
		Expect(p.State()).To(Equal(session.StateUnauthenticated))
		Expect(p.CurrentUser()).To(BeNil())
		Expect(p.IsLoggingOut()).To(BeFalse())
	})

	Describe("Login", func() {
		It("authenticates, persists and loads permissions", func() {
			p := newProv()
			Expect(p.Login(ctx, "operator", mockserver.DemoPassword)).To(BeTrue())

			Expect(p.State()).To(Equal(session.StateAuthenticated))
			Expect(p.IsAuthenticated()).To(BeTrue())
			Expect(p.CurrentUser().Role).To(Equal("operator"))
			Expect(p.RedirectTarget()).To(Equal("/dashboard"))
			Expect(p.Reason()).To(Equal(session.ReasonNone))

			snap := store.current()
			Expect(snap).NotTo(BeNil())
			Expect(snap.Token).NotTo(BeEmpty())
			Expect(snap.ExpiresAt).To(BeTemporally("~", time.Now().Add(time.Hour), 5*time.Second))

			perms := scope.Permissions()
			Expect(perms.Checked).To(BeTrue())
			Expect(perms.Record.Role).To(Equal("operator"))
		})

		It("returns to the remembered path", func() {
			p := newProv()
			p.RememberPath("/manage/group")
			Expect(p.Login(ctx, "operator", mockserver.DemoPassword)).To(BeTrue())
			Expect(p.RedirectTarget()).To(Equal("/manage/group"))
			Expect(p.RememberedPath()).To(BeEmpty())
		})

		It("ignores a remembered public path", func() {
			p := newProv()
			p.RememberPath("/signin")
			Expect(p.Login(ctx, "operator", mockserver.DemoPassword)).To(BeTrue())
			Expect(p.RedirectTarget()).To(Equal("/dashboard"))
		})

		DescribeTable("never redirects off the portal",
			func(next string) {
				p := newProv()
				p.RememberPath(next)
				Expect(p.RememberedPath()).To(BeEmpty())
				Expect(p.Login(ctx, "operator", mockserver.DemoPassword)).To(BeTrue())
				Expect(p.RedirectTarget()).To(Equal("/dashboard"))
			},
			Entry("absolute URL", "https://evil.example/phish"),
			Entry("scheme-relative URL", "//evil.example"),
			Entry("backslash host", "/\\evil.example"),
			Entry("javascript URL", "javascript:alert(1)"),
			Entry("relative path", "manage/group"),
		)

		It("keeps the query of a remembered path", func() {
			p := newProv()
			p.RememberPath("/vehicles?page=2")
			Expect(p.Login(ctx, "operator", mockserver.DemoPassword)).To(BeTrue())
			Expect(p.RedirectTarget()).To(Equal("/vehicles?page=2"))
		})

		DescribeTable("categorizes failures",
			func(setup func(), identifier, password string, reason session.Reason) {
				setup()
				p := newProv()
				Expect(p.Login(ctx, identifier, password)).To(BeFalse())
				Expect(p.Reason()).To(Equal(reason))
				Expect(p.State()).To(Equal(session.StateUnauthenticated))
				Expect(store.current()).To(BeNil())
			},
			Entry("wrong password", func() {}, "operator", "wrong", session.ReasonInvalidCredentials),
			Entry("empty identifier", func() {}, "", "x", session.ReasonInvalidCredentials),
			Entry("empty password", func() {}, "operator", "", session.ReasonInvalidCredentials),
			Entry("inactive account", func() {}, "former", mockserver.DemoPassword, session.ReasonInactiveAccount),
			Entry("missing endpoint", func() { mock.FailWith("/login", http.StatusNotFound) }, "operator", mockserver.DemoPassword, session.ReasonEndpointUnreachable),
			Entry("server error", func() { mock.FailWith("/login", http.StatusInternalServerError) }, "operator", mockserver.DemoPassword, session.ReasonUnknown),
		)

		It("does not call the backend for empty input", func() {
			server.Close()
			p := newProv()
			Expect(p.Login(ctx, "  ", "pw")).To(BeFalse())
			Expect(p.Reason()).To(Equal(session.ReasonInvalidCredentials))
		})

		It("reports an unreachable backend", func() {
			server.Close()
			p := newProv()
			Expect(p.Login(ctx, "operator", mockserver.DemoPassword)).To(BeFalse())
			Expect(p.Reason()).To(Equal(session.ReasonEndpointUnreachable))
		})

		It("fails as unknown when the snapshot cannot be stored", func() {
			store.saveErr = context.Canceled
			p := newProv()
			Expect(p.Login(ctx, "operator", mockserver.DemoPassword)).To(BeFalse())
			Expect(p.Reason()).To(Equal(session.ReasonUnknown))
			Expect(p.CurrentUser()).To(BeNil())
		})
	})

	Describe("Logout", func() {
		It("clears the user, storage and access, then ends the logging-out window", func() {
			p := newProv()
			Expect(p.Login(ctx, "admin", mockserver.DemoPassword)).To(BeTrue())

			p.Logout(ctx)

			Expect(p.CurrentUser()).To(BeNil())
			Expect(p.State()).To(Equal(session.StateUnauthenticated))
			Expect(store.current()).To(BeNil())
			Expect(scope.Permissions().Record).To(BeNil())
			Expect(scope.Permissions().Checked).To(BeFalse())

			Expect(p.IsLoggingOut()).To(BeTrue())
			Eventually(p.IsLoggingOut).Should(BeFalse())
		})

		It("is idempotent", func() {
			p := newProv()
			p.Logout(ctx)
			p.Logout(ctx)
			Expect(p.State()).To(Equal(session.StateUnauthenticated))
			Expect(p.IsLoggingOut()).To(BeFalse())
		})
	})

	Describe("Restore", func() {
		BeforeEach(func() {
			Expect(newProv().Login(ctx, "operator", mockserver.DemoPassword)).To(BeTrue())
		})

		It("reproduces the same user in a new provider", func() {
			before := store.current().User

			p := newProv()
			<-p.Restore(ctx, "/dashboard")

			Expect(p.State()).To(Equal(session.StateAuthenticated))
			Expect(identity.Equal(p.CurrentUser(), before)).To(BeTrue())
			Expect(scope.Permissions().Record.Role).To(Equal("operator"))
		})

		It("is validating until the backend answers", func() {
			mock.SetLatency(100 * time.Millisecond)
			p := newProv()
			done := p.Restore(ctx, "/dashboard")

			Expect(p.State()).To(Equal(session.StateValidating))
			Expect(p.CurrentUser()).NotTo(BeNil())

			Eventually(done).Should(BeClosed())
			Expect(p.State()).To(Equal(session.StateAuthenticated))
		})

		It("signs out and remembers the page when validation fails", func() {
			mock.Revoke("u-operator")

			p := newProv()
			<-p.Restore(ctx, "/manage/group")

			Expect(p.State()).To(Equal(session.StateUnauthenticated))
			Expect(p.CurrentUser()).To(BeNil())
			Expect(store.current()).To(BeNil())
			Expect(p.RedirectTarget()).To(Equal("/signin"))
			Expect(p.RememberedPath()).To(Equal("/manage/group"))
		})

		It("does not remember public pages", func() {
			mock.Revoke("u-operator")

			p := newProv()
			<-p.Restore(ctx, "/signin")

			Expect(p.RedirectTarget()).To(BeEmpty())
			Expect(p.RememberedPath()).To(BeEmpty())
		})

		It("signs out when the backend is down", func() {
			server.Close()

			p := newProv()
			<-p.Restore(ctx, "/vehicles")
			Expect(p.State()).To(Equal(session.StateUnauthenticated))
			Expect(store.current()).To(BeNil())
		})

		It("drops expired snapshots without asking the backend", func() {
			snap := store.current()
			snap.ExpiresAt = time.Now().Add(-time.Minute)

			p := newProv()
			<-p.Restore(ctx, "/vehicles")
			Expect(p.State()).To(Equal(session.StateUnauthenticated))
			Expect(store.current()).To(BeNil())
		})

		It("discards a validation that finishes after logout", func() {
			mock.SetLatency(100 * time.Millisecond)
			p := newProv()
			done := p.Restore(ctx, "/dashboard")
			p.Logout(ctx)

			Eventually(done).Should(BeClosed())
			Expect(p.State()).To(Equal(session.StateUnauthenticated))
			Expect(p.CurrentUser()).To(BeNil())
		})
	})

	Describe("UpdatePassword", func() {
		It("requires a signed-in user", func() {
			p := newProv()
			Expect(p.UpdatePassword(ctx, "a", "b")).To(BeFalse())
			Expect(p.Reason()).To(Equal(session.ReasonNoCurrentUser))
		})

		It("changes the password without touching the user", func() {
			p := newProv()
			Expect(p.Login(ctx, "operator", mockserver.DemoPassword)).To(BeTrue())
			before := p.CurrentUser()

			Expect(p.UpdatePassword(ctx, mockserver.DemoPassword, "s3cret")).To(BeTrue())
			Expect(identity.Equal(p.CurrentUser(), before)).To(BeTrue())
			Expect(newProv().Login(ctx, "operator", "s3cret")).To(BeTrue())
		})

		It("reports a wrong old password", func() {
			p := newProv()
			Expect(p.Login(ctx, "operator", mockserver.DemoPassword)).To(BeTrue())
			Expect(p.UpdatePassword(ctx, "nope", "s3cret")).To(BeFalse())
			Expect(p.Reason()).To(Equal(session.ReasonWrongOldPassword))
		})

		It("reports a missing user", func() {
			p := newProv()
			Expect(p.Login(ctx, "operator", mockserver.DemoPassword)).To(BeTrue())
			mock.FailWith("/user/updatepass", http.StatusNotFound)
			Expect(p.UpdatePassword(ctx, mockserver.DemoPassword, "s3cret")).To(BeFalse())
			Expect(p.Reason()).To(Equal(session.ReasonUserNotFound))
		})

		It("reports an unreachable backend", func() {
			p := newProv()
			Expect(p.Login(ctx, "operator", mockserver.DemoPassword)).To(BeTrue())
			server.Close()
			Expect(p.UpdatePassword(ctx, mockserver.DemoPassword, "s3cret")).To(BeFalse())
			Expect(p.Reason()).To(Equal(session.ReasonEndpointUnreachable))
		})
	})

	Describe("identity switch", func() {
		It("never shows the previous user's access to the next one", func() {
			p := newProv()
			Expect(p.Login(ctx, "admin", mockserver.DemoPassword)).To(BeTrue())
			resolver := access.Default()
			Expect(resolver.ResolveRouteAccess(scope.Permissions().Record, "/manage/user")).To(Equal(access.Both))

			p.Logout(ctx)
			Expect(p.Login(ctx, "operator", mockserver.DemoPassword)).To(BeTrue())

			Expect(scope.Permissions().Record.Role).To(Equal("operator"))
			Expect(resolver.ResolveRouteAccess(scope.Permissions().Record, "/manage/user")).To(Equal(access.None))
		})
	})
})
