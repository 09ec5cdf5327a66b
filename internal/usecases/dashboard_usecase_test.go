package usecases_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"wabot/internal/entities"
	"wabot/internal/repository"
	"wabot/internal/usecases"
)

var _ = Describe("DashboardUsecase", func() {
	var (
		ctx       context.Context
		stores    repository.Stores
		clock     *steppingClock
		dashboard *usecases.DashboardUsecase
	)

	seedConversation := func(id, contactID string) *entities.Conversation {
		conv := entities.NewConversation(id, "t1", contactID, clock.Now())
		Expect(stores.Conversations.SaveConversation(ctx, conv)).To(Succeed())
		return conv
	}

	BeforeEach(func() {
		ctx = context.Background()
		stores = repository.NewMemoryStores()
		clock = newSteppingClock()
		dashboard = usecases.NewDashboardUsecase(stores.Conversations, stores.AgentProfiles, &recordingLocker{}, clock, defaultPrompt)
	})

	Describe("system prompt", func() {
		It("creates the default profile on first read", func() {
			profile, err := dashboard.GetSystemPrompt(ctx, memberClaims("t1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.SystemPrompt).To(Equal(defaultPrompt))

			stored, err := stores.AgentProfiles.GetByTenantID(ctx, "t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.SystemPrompt).To(Equal(defaultPrompt))
		})

		It("stores a trimmed prompt", func() {
			profile, err := dashboard.UpdateSystemPrompt(ctx, ownerClaims("t1"), "  Answer in Bahasa Indonesia.  ")
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.SystemPrompt).To(Equal("Answer in Bahasa Indonesia."))

			got, err := dashboard.GetSystemPrompt(ctx, ownerClaims("t1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(got.SystemPrompt).To(Equal("Answer in Bahasa Indonesia."))
		})

		It("rejects a blank prompt", func() {
			_, err := dashboard.UpdateSystemPrompt(ctx, ownerClaims("t1"), "   ")
			Expect(err).To(MatchError(entities.ErrValidation))
		})
	})

	Describe("conversations", func() {
		It("lists the tenant's conversations newest first", func() {
			seedConversation("c1", "6281")
			seedConversation("c2", "6282")

			list, err := dashboard.ListConversations(ctx, memberClaims("t1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
			Expect(list[0].ID).To(Equal("c2"))

			other, err := dashboard.ListConversations(ctx, memberClaims("t2"))
			Expect(err).NotTo(HaveOccurred())
			Expect(other).To(BeEmpty())
		})

		It("returns messages in creation order", func() {
			seedConversation("c1", "6281")
			for _, text := range []string{"one", "two"} {
				msg, err := entities.NewMessage(text, "c1", "t1", entities.DirectionInbound, entities.RoleUser, text, nil, clock.Now())
				Expect(err).NotTo(HaveOccurred())
				Expect(stores.Conversations.SaveMessage(ctx, msg)).To(Succeed())
			}

			msgs, err := dashboard.ListMessages(ctx, memberClaims("t1"), "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].Content).To(Equal("one"))
		})

		It("returns not found for another tenant's conversation", func() {
			seedConversation("c1", "6281")
			_, err := dashboard.ListMessages(ctx, memberClaims("t2"), "c1")
			Expect(err).To(MatchError(entities.ErrNotFound))
		})
	})

	Describe("UpdateControlMode", func() {
		It("lets the owner switch modes and bumps updated_at", func() {
			conv := seedConversation("c1", "6281")

			updated, err := dashboard.UpdateControlMode(ctx, ownerClaims("t1"), "c1", entities.ControlModeHuman)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.ControlMode).To(Equal(entities.ControlModeHuman))
			Expect(updated.UpdatedAt).To(BeTemporally(">", conv.UpdatedAt))

			stored, err := stores.Conversations.GetConversationByID(ctx, "t1", "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ControlMode).To(Equal(entities.ControlModeHuman))
		})

		It("forbids non-owners", func() {
			seedConversation("c1", "6281")
			_, err := dashboard.UpdateControlMode(ctx, memberClaims("t1"), "c1", entities.ControlModeHuman)
			Expect(err).To(MatchError(entities.ErrForbidden))
		})

		It("rejects unknown modes", func() {
			seedConversation("c1", "6281")
			_, err := dashboard.UpdateControlMode(ctx, ownerClaims("t1"), "c1", entities.ControlMode("BOT"))
			Expect(err).To(MatchError(entities.ErrValidation))
		})

		It("returns not found for a missing conversation", func() {
			_, err := dashboard.UpdateControlMode(ctx, ownerClaims("t1"), "missing", entities.ControlModeAI)
			Expect(err).To(MatchError(entities.ErrNotFound))
		})
	})
})
