package repository_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"wabot/internal/entities"
	"wabot/internal/repository"
)

var _ = Describe("RedisProcessedEventStore", func() {
	const ttl = 48 * time.Hour

	var (
		ctx    context.Context
		server *miniredis.Miniredis
		client *redis.Client
		store  *repository.RedisProcessedEventStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = miniredis.RunT(GinkgoT())

		var err error
		client, err = repository.NewRedisClient(ctx, "redis://"+server.Addr())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(client.Close)

		store = repository.NewRedisProcessedEventStore(client, ttl)
	})

	mark := func(tenantID, eventID string, at time.Time) {
		Expect(store.Mark(ctx, &entities.ProcessedWebhookEvent{
			TenantID:        tenantID,
			ProviderEventID: eventID,
			ProcessedAt:     at,
		})).To(Succeed())
	}

	It("reports unmarked events as new", func() {
		seen, err := store.Exists(ctx, "t1", "wamid.1")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeFalse())
	})

	It("keeps the first processed_at when marked twice", func() {
		mark("t1", "wamid.1", t0)
		mark("t1", "wamid.1", t0.Add(time.Hour))

		seen, err := store.Exists(ctx, "t1", "wamid.1")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeTrue())

		stored, err := server.Get("wabot:processed_event:t1:wamid.1")
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(Equal(t0.Format(time.RFC3339Nano)))
	})

	It("scopes markers by tenant", func() {
		mark("t1", "wamid.1", t0)

		seen, err := store.Exists(ctx, "t2", "wamid.1")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeFalse())
	})

	It("expires markers after the ttl", func() {
		mark("t1", "wamid.1", t0)
		Expect(server.TTL("wabot:processed_event:t1:wamid.1")).To(Equal(ttl))

		server.FastForward(ttl + time.Second)

		seen, err := store.Exists(ctx, "t1", "wamid.1")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeFalse())
	})

	It("surfaces connection failures", func() {
		server.Close()

		_, err := store.Exists(ctx, "t1", "wamid.1")
		Expect(err).To(MatchError(ContainSubstring("redis exists")))
	})
})

var _ = Describe("NewRedisClient", func() {
	It("rejects a malformed url", func() {
		_, err := repository.NewRedisClient(context.Background(), "not-a-url")
		Expect(err).To(MatchError(ContainSubstring("parse redis url")))
	})
})
