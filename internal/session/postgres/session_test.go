package postgres_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	sessionDatamodel "github.com/frahmantamala/fleet-portal/internal/core/datamodel/session"
	"github.com/frahmantamala/fleet-portal/internal/identity"
	"github.com/frahmantamala/fleet-portal/internal/session"
	"github.com/frahmantamala/fleet-portal/internal/session/cookie"
	sessionPostgres "github.com/frahmantamala/fleet-portal/internal/session/postgres"
)

func TestSessionPostgres(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Session Postgres Suite")
}

var _ = Describe("Session PostgreSQL Repository", func() {
	var (
		db   *gorm.DB
		repo session.RepositoryAPI
		ctx  context.Context
	)

	BeforeEach(func() {
		var err error
		// Use SQLite in-memory database for testing
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(db.AutoMigrate(&sessionDatamodel.PortalSession{})).To(Succeed())

		repo = sessionPostgres.NewSessionRepository(db)
		ctx = context.Background()
	})

	Describe("Upsert and Get", func() {
		It("inserts then updates the same row", func() {
			row := &sessionDatamodel.PortalSession{
				ID: "s1", UserID: "u1", Token: "t1", UserData: `{"id":"u1"}`,
				ExpiresAt: time.Now().UTC().Add(time.Hour),
			}
			Expect(repo.Upsert(ctx, row)).To(Succeed())

			row2 := &sessionDatamodel.PortalSession{
				ID: "s1", UserID: "u1", Token: "t2", UserData: `{"id":"u1"}`,
				ExpiresAt: time.Now().UTC().Add(2 * time.Hour),
			}
			Expect(repo.Upsert(ctx, row2)).To(Succeed())

			got, err := repo.Get(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Token).To(Equal("t2"))

			var count int64
			Expect(db.Model(&sessionDatamodel.PortalSession{}).Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(1)))
		})

		It("returns nil for a missing row", func() {
			got, err := repo.Get(ctx, "missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeNil())
		})
	})

	Describe("DeleteExpired", func() {
		It("removes only expired rows", func() {
			now := time.Now().UTC()
			Expect(repo.Upsert(ctx, &sessionDatamodel.PortalSession{ID: "old", UserID: "u", Token: "t", UserData: "{}", ExpiresAt: now.Add(-time.Hour)})).To(Succeed())
			Expect(repo.Upsert(ctx, &sessionDatamodel.PortalSession{ID: "new", UserID: "u", Token: "t", UserData: "{}", ExpiresAt: now.Add(time.Hour)})).To(Succeed())

			n, err := repo.DeleteExpired(ctx, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			got, err := repo.Get(ctx, "new")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).NotTo(BeNil())
		})
	})

	Describe("Store", func() {
		var opener *sessionPostgres.Opener

		BeforeEach(func() {
			codec := cookie.NewCodec("0123456789abcdef0123456789abcdef")
			jar := cookie.NewJar("portal_session", "", false)
			opener = sessionPostgres.NewOpener(repo, cookie.NewIDCarrier(codec, jar))
		})

		It("keeps the snapshot server-side behind a session id cookie", func() {
			user := &identity.User{ID: "u1", Username: "ana", Role: "ops", Token: "tok", CustomerGroups: []string{"acme"}}
			rec := httptest.NewRecorder()
			store := opener.Open(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			Expect(store.Save(ctx, session.Snapshot{Token: "tok", User: user, ExpiresAt: time.Now().Add(time.Hour)})).To(Succeed())

			cookies := rec.Result().Cookies()
			Expect(cookies).To(HaveLen(1))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(cookies[0])
			second := opener.Open(httptest.NewRecorder(), req)

			loaded, err := second.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Token).To(Equal("tok"))
			Expect(loaded.User.Token).To(Equal("tok"))
			Expect(loaded.User.CustomerGroups).To(Equal([]string{"acme"}))

			Expect(second.Clear(ctx)).To(Succeed())

			var count int64
			Expect(db.Model(&sessionDatamodel.PortalSession{}).Count(&count).Error).To(Succeed())
			Expect(count).To(BeZero())
		})

		It("rotates the session id on every save", func() {
			user := &identity.User{ID: "u1", Username: "ana", Role: "ops", Token: "tok"}
			rec := httptest.NewRecorder()
			store := opener.Open(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			Expect(store.Save(ctx, session.Snapshot{Token: "tok", User: user, ExpiresAt: time.Now().Add(time.Hour)})).To(Succeed())
			first := rec.Result().Cookies()[0]

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(first)
			rec = httptest.NewRecorder()
			relogin := opener.Open(rec, req)
			Expect(relogin.Save(ctx, session.Snapshot{Token: "tok2", User: user, ExpiresAt: time.Now().Add(time.Hour)})).To(Succeed())
			second := rec.Result().Cookies()[0]
			Expect(second.Value).NotTo(Equal(first.Value))

			var rows []sessionDatamodel.PortalSession
			Expect(db.Find(&rows).Error).To(Succeed())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].Token).To(Equal("tok2"))

			stale := httptest.NewRequest(http.MethodGet, "/", nil)
			stale.AddCookie(first)
			_, err := opener.Open(httptest.NewRecorder(), stale).Load(ctx)
			Expect(err).To(MatchError(session.ErrNoSnapshot))

			loaded, err := relogin.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Token).To(Equal("tok2"))
		})

		It("has nothing to load without a cookie", func() {
			_, err := opener.Open(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil)).Load(ctx)
			Expect(err).To(MatchError(session.ErrNoSnapshot))
		})
	})
})
