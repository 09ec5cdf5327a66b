package usecases_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"wabot/internal/entities"
	"wabot/internal/infrastructure"
	"wabot/internal/repository"
	"wabot/internal/usecases"
)

const defaultPrompt = "You are a helpful assistant."

var _ = Describe("WebhookProcessor", func() {
	var (
		ctx       context.Context
		stores    repository.Stores
		messaging *mockMessaging
		llm       *mockLLM
		locker    *recordingLocker
		clock     *steppingClock
		ids       *sequentialIDs
		cfg       usecases.WebhookProcessorConfig
		processor *usecases.WebhookProcessor
	)

	build := func() {
		processor = usecases.NewWebhookProcessor(usecases.WebhookProcessorDeps{
			Connections:     stores.Connections,
			Conversations:   stores.Conversations,
			ProcessedEvents: stores.ProcessedEvents,
			Blacklist:       stores.Blacklist,
			AgentProfiles:   stores.AgentProfiles,
			Messaging:       messaging,
			LLM:             llm,
			Locker:          locker,
			Clock:           clock,
			IDs:             ids,
		}, cfg)
	}

	deliver := func(events ...entities.IncomingMessageEvent) (*usecases.ProcessResult, error) {
		messaging.events = events
		return processor.ProcessPayload(ctx, []byte(`{}`))
	}

	conversationFor := func(contactID string) *entities.Conversation {
		conv, err := stores.Conversations.GetConversationByContact(ctx, "t1", contactID)
		Expect(err).NotTo(HaveOccurred())
		return conv
	}

	messagesFor := func(contactID string) []entities.Message {
		conv := conversationFor(contactID)
		msgs, err := stores.Conversations.ListMessages(ctx, "t1", conv.ID)
		Expect(err).NotTo(HaveOccurred())
		return msgs
	}

	isProcessed := func(eventID string) bool {
		ok, err := stores.ProcessedEvents.Exists(ctx, "t1", eventID)
		Expect(err).NotTo(HaveOccurred())
		return ok
	}

	BeforeEach(func() {
		ctx = context.Background()
		stores = repository.NewMemoryStores()
		messaging = &mockMessaging{}
		llm = &mockLLM{}
		locker = &recordingLocker{}
		clock = newSteppingClock()
		ids = &sequentialIDs{}
		cfg = usecases.WebhookProcessorConfig{DefaultSystemPrompt: defaultPrompt, ContextMessageLimit: 12}

		Expect(stores.Connections.Save(ctx, &entities.WhatsappConnection{
			TenantID:      "t1",
			PhoneNumberID: strPtr("pn-1"),
			AccessToken:   strPtr("access-token"),
			Status:        entities.ConnectionConnected,
		})).To(Succeed())
		build()
	})

	Describe("customer messages", func() {
		It("creates an AI conversation, replies once and marks the event processed", func() {
			res, err := deliver(customerText("evt-1", "6281", "Halo, is the shop open?"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal("processed"))

			conv := conversationFor("6281")
			Expect(conv.ControlMode).To(Equal(entities.ControlModeAI))

			msgs := messagesFor("6281")
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].Direction).To(Equal(entities.DirectionInbound))
			Expect(msgs[0].Role).To(Equal(entities.RoleUser))
			Expect(msgs[0].Content).To(Equal("Halo, is the shop open?"))
			Expect(msgs[1].Direction).To(Equal(entities.DirectionOutbound))
			Expect(msgs[1].Role).To(Equal(entities.RoleAssistant))
			Expect(msgs[1].ProviderMessageID).To(HaveValue(Equal("wamid.out-1")))
			Expect(conv.MessageIDs).To(Equal([]string{msgs[0].ID, msgs[1].ID}))
			Expect(conv.LastMessagePreview).To(HaveValue(Equal("Thanks for reaching out!")))

			Expect(messaging.sent).To(ConsistOf(sentText{
				AccessToken:   "access-token",
				PhoneNumberID: "pn-1",
				ContactID:     "6281",
				Text:          "Thanks for reaching out!",
			}))
			Expect(llm.callCount()).To(Equal(1))
			Expect(llm.lastCall().SystemPrompt).To(Equal(defaultPrompt))
			Expect(llm.lastCall().History).To(Equal([]entities.ChatMessage{
				{Role: entities.RoleUser, Content: "Halo, is the shop open?"},
			}))
			Expect(isProcessed("evt-1")).To(BeTrue())
		})

		It("records the contact with its display name on first contact", func() {
			ev := customerText("evt-1", "6281", "hi")
			ev.ContactDisplayName = strPtr("Budi")
			_, err := deliver(ev)
			Expect(err).NotTo(HaveOccurred())

			user, err := stores.Conversations.GetWhatsappUser(ctx, "t1", "6281")
			Expect(err).NotTo(HaveOccurred())
			Expect(user.DisplayName).To(HaveValue(Equal("Budi")))
		})

		It("uses the tenant's agent profile prompt when present", func() {
			Expect(stores.AgentProfiles.Save(ctx, &entities.AgentProfile{
				TenantID:     "t1",
				SystemPrompt: "You sell coffee beans.",
			})).To(Succeed())

			_, err := deliver(customerText("evt-1", "6281", "hi"))
			Expect(err).NotTo(HaveOccurred())
			Expect(llm.lastCall().SystemPrompt).To(Equal("You sell coffee beans."))
		})

		It("serializes work on the tenant and contact key", func() {
			_, err := deliver(customerText("evt-1", "6281", "hi"))
			Expect(err).NotTo(HaveOccurred())
			Expect(locker.keys).To(Equal([]string{"t1:6281"}))
		})
	})

	Describe("idempotence", func() {
		It("treats a redelivered event as a no-op", func() {
			_, err := deliver(customerText("evt-1", "6281", "hi"))
			Expect(err).NotTo(HaveOccurred())

			res, err := deliver(customerText("evt-1", "6281", "hi"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal("processed"))
			Expect(messagesFor("6281")).To(HaveLen(2))
			Expect(messaging.sendCount()).To(Equal(1))
			Expect(llm.callCount()).To(Equal(1))
		})

		It("does not duplicate anything when a whole payload is replayed", func() {
			payload := []entities.IncomingMessageEvent{
				customerText("evt-1", "6281", "first"),
				customerText("evt-2", "6282", "second"),
				ownerEcho("evt-3", "6283", "text", "owner here"),
			}
			_, err := deliver(payload...)
			Expect(err).NotTo(HaveOccurred())
			_, err = deliver(payload...)
			Expect(err).NotTo(HaveOccurred())

			Expect(messagesFor("6281")).To(HaveLen(2))
			Expect(messagesFor("6282")).To(HaveLen(2))
			Expect(messagesFor("6283")).To(HaveLen(1))
			Expect(messaging.sendCount()).To(Equal(2))
		})
	})

	Describe("skips", func() {
		It("ignores events for a phone number no tenant owns", func() {
			ev := customerText("evt-1", "6281", "hi")
			ev.PhoneNumberID = "pn-unknown"
			res, err := deliver(ev)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal("processed"))

			convs, err := stores.Conversations.ListConversations(ctx, "t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(convs).To(BeEmpty())
			Expect(isProcessed("evt-1")).To(BeFalse())
			Expect(llm.callCount()).To(BeZero())
		})

		It("marks blacklisted contacts processed without creating any history", func() {
			Expect(stores.Blacklist.Save(ctx, &entities.BlacklistEntry{TenantID: "t1", WhatsappUserID: "6281"})).To(Succeed())

			_, err := deliver(
				customerText("evt-1", "6281", "hi"),
				ownerEcho("evt-2", "6281", "text", "owner reply"),
			)
			Expect(err).NotTo(HaveOccurred())

			Expect(isProcessed("evt-1")).To(BeTrue())
			Expect(isProcessed("evt-2")).To(BeTrue())
			convs, err := stores.Conversations.ListConversations(ctx, "t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(convs).To(BeEmpty())
			_, err = stores.Conversations.GetWhatsappUser(ctx, "t1", "6281")
			Expect(err).To(MatchError(entities.ErrNotFound))
			Expect(llm.callCount()).To(BeZero())
			Expect(messaging.sendCount()).To(BeZero())
		})
	})

	Describe("owner app echoes", func() {
		It("stores a marker for non-text echoes and hands the conversation to a human", func() {
			_, err := deliver(ownerEcho("evt-1", "6281", "image", ""))
			Expect(err).NotTo(HaveOccurred())

			msgs := messagesFor("6281")
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Direction).To(Equal(entities.DirectionOutbound))
			Expect(msgs[0].Role).To(Equal(entities.RoleHumanAgent))
			Expect(msgs[0].Content).To(Equal("[owner_app_non_text:image]"))
			Expect(conversationFor("6281").ControlMode).To(Equal(entities.ControlModeHuman))
			Expect(isProcessed("evt-1")).To(BeTrue())
			Expect(messaging.sendCount()).To(BeZero())
		})

		It("switches an existing AI conversation to HUMAN", func() {
			_, err := deliver(customerText("evt-1", "6281", "hi"))
			Expect(err).NotTo(HaveOccurred())
			Expect(conversationFor("6281").ControlMode).To(Equal(entities.ControlModeAI))

			_, err = deliver(ownerEcho("evt-2", "6281", "text", "I'll take it from here"))
			Expect(err).NotTo(HaveOccurred())
			Expect(conversationFor("6281").ControlMode).To(Equal(entities.ControlModeHuman))
			Expect(messagesFor("6281")[2].Content).To(Equal("I'll take it from here"))
		})

		It("keeps HUMAN when the conversation is already human-controlled", func() {
			_, err := deliver(
				ownerEcho("evt-1", "6281", "text", "one"),
				ownerEcho("evt-2", "6281", "text", "two"),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(conversationFor("6281").ControlMode).To(Equal(entities.ControlModeHuman))
		})
	})

	Describe("human mode", func() {
		It("records customer messages without calling the LLM or sending", func() {
			_, err := deliver(ownerEcho("evt-1", "6281", "text", "owner"))
			Expect(err).NotTo(HaveOccurred())

			_, err = deliver(customerText("evt-2", "6281", "are you there?"))
			Expect(err).NotTo(HaveOccurred())

			msgs := messagesFor("6281")
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[1].Direction).To(Equal(entities.DirectionInbound))
			Expect(llm.callCount()).To(BeZero())
			Expect(messaging.sendCount()).To(BeZero())
			Expect(isProcessed("evt-2")).To(BeTrue())
		})

		It("applies an echo to later events in the same payload", func() {
			_, err := deliver(
				ownerEcho("evt-1", "6281", "text", "owner"),
				customerText("evt-2", "6281", "thanks"),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(llm.callCount()).To(BeZero())
			Expect(messagesFor("6281")).To(HaveLen(2))
		})

		It("replies again once switched back to AI", func() {
			dashboard := usecases.NewDashboardUsecase(stores.Conversations, stores.AgentProfiles, locker, clock, defaultPrompt)

			_, err := deliver(ownerEcho("evt-1", "6281", "text", "owner"))
			Expect(err).NotTo(HaveOccurred())

			_, err = dashboard.UpdateControlMode(ctx, ownerClaims("t1"), conversationFor("6281").ID, entities.ControlModeAI)
			Expect(err).NotTo(HaveOccurred())

			_, err = deliver(customerText("evt-2", "6281", "hello again"))
			Expect(err).NotTo(HaveOccurred())
			Expect(llm.callCount()).To(Equal(1))
			Expect(messaging.sendCount()).To(Equal(1))
		})
	})

	Describe("LLM context", func() {
		It("sends the most recent messages oldest first with owner replies as assistant turns", func() {
			cfg.ContextMessageLimit = 3
			build()
			dashboard := usecases.NewDashboardUsecase(stores.Conversations, stores.AgentProfiles, locker, clock, defaultPrompt)

			_, err := deliver(
				customerText("evt-1", "6281", "q1"),
				ownerEcho("evt-2", "6281", "text", "owner answer"),
				customerText("evt-3", "6281", "q2"),
			)
			Expect(err).NotTo(HaveOccurred())
			_, err = dashboard.UpdateControlMode(ctx, ownerClaims("t1"), conversationFor("6281").ID, entities.ControlModeAI)
			Expect(err).NotTo(HaveOccurred())

			_, err = deliver(customerText("evt-4", "6281", "q3"))
			Expect(err).NotTo(HaveOccurred())

			Expect(llm.lastCall().History).To(Equal([]entities.ChatMessage{
				{Role: entities.RoleAssistant, Content: "owner answer"},
				{Role: entities.RoleUser, Content: "q2"},
				{Role: entities.RoleUser, Content: "q3"},
			}))
		})
	})

	Describe("failures", func() {
		It("fails with ErrInvalidState when the connection lacks credentials", func() {
			Expect(stores.Connections.Save(ctx, &entities.WhatsappConnection{
				TenantID:      "t1",
				PhoneNumberID: strPtr("pn-1"),
				Status:        entities.ConnectionPending,
			})).To(Succeed())

			_, err := deliver(customerText("evt-1", "6281", "hi"))
			Expect(err).To(MatchError(entities.ErrInvalidState))
			Expect(isProcessed("evt-1")).To(BeFalse())
			_, err = stores.Conversations.GetConversationByContact(ctx, "t1", "6281")
			Expect(err).To(MatchError(entities.ErrNotFound))
		})

		It("keeps the inbound message and leaves the event unmarked when the LLM fails", func() {
			llm.generateFn = func(context.Context, string, []entities.ChatMessage) (string, error) {
				return "", errors.New("upstream overloaded")
			}

			_, err := deliver(customerText("evt-1", "6281", "hi"))
			Expect(err).To(MatchError(entities.ErrExternalProvider))
			Expect(err.Error()).To(ContainSubstring("upstream overloaded"))
			Expect(isProcessed("evt-1")).To(BeFalse())

			msgs := messagesFor("6281")
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Direction).To(Equal(entities.DirectionInbound))
			Expect(messaging.sendCount()).To(BeZero())
		})

		It("retries the full flow on redelivery after an LLM failure", func() {
			llm.generateFn = func(context.Context, string, []entities.ChatMessage) (string, error) {
				return "", errors.New("timeout")
			}
			_, err := deliver(customerText("evt-1", "6281", "hi"))
			Expect(err).To(HaveOccurred())

			llm.generateFn = nil
			_, err = deliver(customerText("evt-1", "6281", "hi"))
			Expect(err).NotTo(HaveOccurred())
			Expect(isProcessed("evt-1")).To(BeTrue())
			// The inbound message is written again on retry.
			Expect(messagesFor("6281")).To(HaveLen(3))
			Expect(messaging.sendCount()).To(Equal(1))
		})

		It("surfaces send failures as provider errors", func() {
			messaging.sendFn = func(context.Context, string, string, string, string) (string, error) {
				return "", &entities.ProviderError{Provider: "meta", Op: "send_text", StatusCode: 401, Err: errors.New("token expired")}
			}

			_, err := deliver(customerText("evt-1", "6281", "hi"))
			Expect(err).To(MatchError(entities.ErrExternalProvider))
			var perr *entities.ProviderError
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(perr.StatusCode).To(Equal(401))
			Expect(isProcessed("evt-1")).To(BeFalse())
			Expect(messagesFor("6281")).To(HaveLen(1))
		})

		It("treats an empty reply as a provider failure", func() {
			llm.generateFn = func(context.Context, string, []entities.ChatMessage) (string, error) {
				return "   ", nil
			}
			_, err := deliver(customerText("evt-1", "6281", "hi"))
			Expect(err).To(MatchError(entities.ErrExternalProvider))
			Expect(messaging.sendCount()).To(BeZero())
		})

		It("stops the payload at the first failing event", func() {
			llm.generateFn = func(context.Context, string, []entities.ChatMessage) (string, error) {
				return "", errors.New("down")
			}
			_, err := deliver(
				customerText("evt-1", "6281", "hi"),
				customerText("evt-2", "6282", "hello"),
			)
			Expect(err).To(HaveOccurred())
			Expect(llm.callCount()).To(Equal(1))
			_, err = stores.Conversations.GetConversationByContact(ctx, "t1", "6282")
			Expect(err).To(MatchError(entities.ErrNotFound))
		})

		It("wraps payload parse errors", func() {
			messaging.parseFn = func([]byte) ([]entities.IncomingMessageEvent, error) {
				return nil, fmt.Errorf("%w: bad json", entities.ErrValidation)
			}
			_, err := processor.ProcessPayload(ctx, []byte(`{`))
			Expect(err).To(MatchError(entities.ErrValidation))
		})
	})

	Describe("concurrency", func() {
		It("keeps one conversation per contact under concurrent deliveries", func() {
			sharedLocker := infrastructure.NewSessionManager()

			const deliveries = 20
			var wg sync.WaitGroup
			errs := make(chan error, deliveries)
			for i := 0; i < deliveries; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					m := &mockMessaging{events: []entities.IncomingMessageEvent{
						customerText(fmt.Sprintf("evt-%d", i), "6281", fmt.Sprintf("msg %d", i)),
					}}
					p := usecases.NewWebhookProcessor(usecases.WebhookProcessorDeps{
						Connections:     stores.Connections,
						Conversations:   stores.Conversations,
						ProcessedEvents: stores.ProcessedEvents,
						Blacklist:       stores.Blacklist,
						AgentProfiles:   stores.AgentProfiles,
						Messaging:       m,
						LLM:             llm,
						Locker:          sharedLocker,
						Clock:           clock,
						IDs:             ids,
					}, cfg)
					_, err := p.ProcessPayload(ctx, nil)
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}

			convs, err := stores.Conversations.ListConversations(ctx, "t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(convs).To(HaveLen(1))
			Expect(convs[0].MessageIDs).To(HaveLen(2 * deliveries))
			Expect(messagesFor("6281")).To(HaveLen(2 * deliveries))
		})
	})
})
