package access_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/fleet-portal/internal/access"
	"github.com/frahmantamala/fleet-portal/internal/core/events"
	"github.com/frahmantamala/fleet-portal/internal/identity"
)

type fakeFetcher struct {
	mu      sync.Mutex
	records map[string][]access.PermissionRecord
	err     error
	gate    chan struct{}
	calls   int
}

func (f *fakeFetcher) FetchPermissionRecords(ctx context.Context, user *identity.User) ([]access.PermissionRecord, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	records, err := f.records[user.ID], f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return records, err
}

var _ = Describe("Access Scope", func() {
	var (
		fetcher *fakeFetcher
		scope   *access.Scope
		alice   *identity.User
		bob     *identity.User
		ctx     context.Context
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		ctx = context.Background()
		alice = &identity.User{ID: "u-alice", Role: "ops", Token: "t1"}
		bob = &identity.User{ID: "u-bob", Role: "viewer", Token: "t2"}
		fetcher = &fakeFetcher{records: map[string][]access.PermissionRecord{
			"u-alice": {
				{Role: "viewer", TabsAccess: []access.TabAccess{{Key: "group", Code: 1, Valid: true}}},
				{Role: "ops", TabsAccess: []access.TabAccess{{Key: "group", Code: 2, Valid: true}}},
			},
			"u-bob": {
				{Role: "viewer", TabsAccess: []access.TabAccess{{Key: "map", Code: 1, Valid: true}}},
			},
		}}
		scope = access.NewScope(fetcher, logger, time.Second)
	})

	It("starts unchecked with no record", func() {
		p := scope.Permissions()
		Expect(p.Checked).To(BeFalse())
		Expect(p.Record).To(BeNil())
	})

	It("picks the record matching the user's role", func() {
		scope.Begin(alice)
		Expect(scope.Permissions().Checked).To(BeFalse())

		Expect(scope.Load(ctx)).To(Succeed())

		p := scope.Permissions()
		Expect(p.Checked).To(BeTrue())
		Expect(p.Record.Role).To(Equal("ops"))
		Expect(access.ResolveFeatureAccess(p.Record, "group")).To(Equal(access.Both))
	})

	It("fails closed when no record matches the role", func() {
		scope.Begin(&identity.User{ID: "u-alice", Role: "auditor", Token: "t"})

		err := scope.Load(ctx)
		Expect(errors.Is(err, access.ErrNoRoleMatched)).To(BeTrue())

		p := scope.Permissions()
		Expect(p.Checked).To(BeTrue())
		Expect(p.Record).To(BeNil())
	})

	It("fails closed when the fetch errors", func() {
		fetcher.err = errors.New("boom")
		scope.Begin(alice)

		Expect(scope.Load(ctx)).To(HaveOccurred())

		p := scope.Permissions()
		Expect(p.Checked).To(BeTrue())
		Expect(p.Record).To(BeNil())
		Expect(p.Err).To(HaveOccurred())
	})

	It("refuses to load without an identity", func() {
		Expect(scope.Load(ctx)).To(MatchError(access.ErrNoIdentity))
		Expect(fetcher.calls).To(Equal(0))
	})

	It("clears everything on End", func() {
		scope.Begin(alice)
		Expect(scope.Load(ctx)).To(Succeed())

		scope.End()

		p := scope.Permissions()
		Expect(p.Checked).To(BeFalse())
		Expect(p.Record).To(BeNil())
		Expect(scope.User()).To(BeNil())
	})

	It("discards a response that arrives after the identity changed", func() {
		fetcher.gate = make(chan struct{})
		scope.Begin(alice)

		done := make(chan error, 1)
		go func() { done <- scope.Load(ctx) }()

		Eventually(func() int {
			fetcher.mu.Lock()
			defer fetcher.mu.Unlock()
			return fetcher.calls
		}).Should(Equal(1))

		scope.Begin(bob)
		close(fetcher.gate)
		Eventually(done).Should(Receive(BeNil()))

		// alice's record must not be attributed to bob
		p := scope.Permissions()
		Expect(p.Checked).To(BeFalse())
		Expect(p.Record).To(BeNil())

		Expect(scope.Load(ctx)).To(Succeed())
		Expect(scope.Permissions().Record.Role).To(Equal("viewer"))
	})

	It("fails closed when the fetch times out", func() {
		fetcher.gate = make(chan struct{})
		scope = access.NewScope(fetcher, nil, 20*time.Millisecond)
		scope.Begin(alice)

		err := scope.Load(ctx)
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		Expect(scope.Permissions().Checked).To(BeTrue())
		Expect(scope.Permissions().Record).To(BeNil())
	})

	Context("as an event subscriber", func() {
		var bus *events.EventBus

		BeforeEach(func() {
			bus = events.NewEventBus(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
			bus.Subscribe(events.EventTypeIdentityChanged, scope.HandleIdentityChanged)
		})

		It("re-fetches when the identity changes and clears on logout", func() {
			Expect(bus.PublishSync(ctx, events.NewIdentityChangedEvent(alice))).To(Succeed())
			Expect(scope.Permissions().Record.Role).To(Equal("ops"))

			Expect(bus.PublishSync(ctx, events.NewIdentityChangedEvent(bob))).To(Succeed())
			Expect(scope.Permissions().Record.Role).To(Equal("viewer"))
			Expect(fetcher.calls).To(Equal(2))

			Expect(bus.PublishSync(ctx, events.NewIdentityChangedEvent(nil))).To(Succeed())
			Expect(scope.Permissions().Checked).To(BeFalse())
			Expect(scope.Permissions().Record).To(BeNil())
		})
	})
})
