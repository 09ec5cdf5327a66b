package infrastructure_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"wabot/internal/entities"
	"wabot/internal/infrastructure"
)

const customerPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA_ID",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "pn-1"},
        "contacts": [{"profile": {"name": "Budi"}, "wa_id": "6281"}],
        "messages": [
          {"from": "6281", "id": "wamid.A", "timestamp": "1700000000", "type": "text", "text": {"body": "Halo"}},
          {"from": "6281", "id": "wamid.B", "timestamp": "1700000001", "type": "image", "image": {"id": "media-1"}},
          {"from": "6282", "id": "wamid.C", "timestamp": "1700000002", "type": "text", "text": {"body": "   "}},
          "not-an-object",
          {"from": "6283", "id": "wamid.D", "timestamp": "1700000003", "type": "text", "text": {"body": "Second"}}
        ]
      }
    }]
  }]
}`

const echoPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "changes": [{
      "field": "smb_message_echoes",
      "value": {
        "metadata": {"phone_number_id": "pn-1"},
        "message_echoes": [
          {"from": "15550001111", "to": "6281", "id": "wamid.E1", "type": "text", "text": {"body": "Owner here"}},
          {"from": "15550001111", "to": "6281", "id": "wamid.E2", "type": "image"},
          {"from": "15550001111", "to": "6281", "id": "wamid.E3", "type": "text", "text": {"body": ""}},
          {"from": "15550001111", "id": "wamid.E4", "type": "text", "text": {"body": "no recipient"}}
        ]
      }
    }]
  }]
}`

var _ = Describe("ParseIncomingEvents", func() {
	var client *infrastructure.WhatsAppCloudClient

	BeforeEach(func() {
		client = infrastructure.NewWhatsAppCloudClient(infrastructure.WhatsAppCloudConfig{})
	})

	It("keeps customer text messages in payload order", func() {
		events, err := client.ParseIncomingEvents([]byte(customerPayload))
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))

		Expect(events[0].ProviderEventID).To(Equal("wamid.A"))
		Expect(events[0].PhoneNumberID).To(Equal("pn-1"))
		Expect(events[0].WhatsappContactID).To(Equal("6281"))
		Expect(events[0].Source).To(Equal(entities.SourceCustomer))
		Expect(events[0].MessageText).To(Equal("Halo"))
		Expect(events[0].ContactDisplayName).To(HaveValue(Equal("Budi")))

		Expect(events[1].ProviderEventID).To(Equal("wamid.D"))
		Expect(events[1].ContactDisplayName).To(BeNil())
	})

	It("maps owner app echoes, using a marker for non-text types", func() {
		events, err := client.ParseIncomingEvents([]byte(echoPayload))
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))

		Expect(events[0].Source).To(Equal(entities.SourceOwnerApp))
		Expect(events[0].WhatsappContactID).To(Equal("6281"))
		Expect(events[0].MessageText).To(Equal("Owner here"))

		Expect(events[1].MessageType).To(Equal("image"))
		Expect(events[1].MessageText).To(Equal("[owner_app_non_text:image]"))
	})

	It("ignores echoes outside the echo field", func() {
		payload := `{"entry":[{"changes":[{"field":"messages","value":{"metadata":{"phone_number_id":"pn-1"},
			"message_echoes":[{"to":"6281","id":"wamid.X","type":"text","text":{"body":"hi"}}]}}]}]}`
		events, err := client.ParseIncomingEvents([]byte(payload))
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(BeEmpty())
	})

	It("skips changes without a phone number id", func() {
		payload := `{"entry":[{"changes":[{"field":"messages","value":{
			"messages":[{"from":"6281","id":"wamid.A","type":"text","text":{"body":"hi"}}]}}]}]}`
		events, err := client.ParseIncomingEvents([]byte(payload))
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(BeEmpty())
	})

	It("returns no events for status-only payloads", func() {
		payload := `{"entry":[{"changes":[{"field":"messages","value":{"metadata":{"phone_number_id":"pn-1"},
			"statuses":[{"id":"wamid.A","status":"delivered"}]}}]}]}`
		events, err := client.ParseIncomingEvents([]byte(payload))
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(BeEmpty())
	})

	DescribeTable("returns no events for a malformed envelope",
		func(payload string) {
			events, err := client.ParseIncomingEvents([]byte(payload))
			Expect(err).NotTo(HaveOccurred())
			Expect(events).NotTo(BeNil())
			Expect(events).To(BeEmpty())
		},
		Entry("entry is a string", `{"entry":"x"}`),
		Entry("entry is an object", `{"entry":{}}`),
		Entry("entry is null", `{"entry":null}`),
		Entry("no entry", `{"object":"whatsapp_business_account"}`),
		Entry("changes is a number", `{"entry":[{"changes":7}]}`),
		Entry("entry item is a string", `{"entry":["x"]}`),
		Entry("value is a list", `{"entry":[{"changes":[{"field":"messages","value":[]}]}]}`),
		Entry("metadata is a string", `{"entry":[{"changes":[{"field":"messages","value":{"metadata":"pn-1"}}]}]}`),
	)

	It("keeps messages when sibling fields are malformed", func() {
		payload := `{"entry":[
			{"changes":"broken"},
			{"changes":[{"field":"messages","value":{"metadata":{"phone_number_id":"pn-1"},
				"contacts":{"wa_id":"6281"},
				"messages":[{"from":"6281","id":"wamid.A","type":"text","text":{"body":"hi"}}]}}]}]}`
		events, err := client.ParseIncomingEvents([]byte(payload))
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
		Expect(events[0].ProviderEventID).To(Equal("wamid.A"))
		Expect(events[0].ContactDisplayName).To(BeNil())
	})

	It("does not read echoes when the field name is not a string", func() {
		payload := `{"entry":[{"changes":[{"field":1,"value":{"metadata":{"phone_number_id":"pn-1"},
			"message_echoes":[{"to":"6281","id":"wamid.E1","type":"text","text":{"body":"Owner"}}]}}]}]}`
		events, err := client.ParseIncomingEvents([]byte(payload))
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(BeEmpty())
	})

	DescribeTable("rejects a body that is not a JSON object",
		func(payload string) {
			_, err := client.ParseIncomingEvents([]byte(payload))
			Expect(err).To(MatchError(entities.ErrValidation))
		},
		Entry("truncated", `{"entry":`),
		Entry("array", `[]`),
		Entry("string", `"entry"`),
	)
})
