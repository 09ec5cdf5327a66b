package infrastructure

import (
	"encoding/json"
	"fmt"
	"strings"

	"wabot/internal/entities"
)

const fieldMessageEchoes = "smb_message_echoes"

// Each level keeps its children raw so a malformed item only drops itself.

type webhookPayload struct {
	Entry json.RawMessage `json:"entry"`
}

type webhookEntry struct {
	Changes json.RawMessage `json:"changes"`
}

type webhookChange struct {
	Field json.RawMessage `json:"field"`
	Value json.RawMessage `json:"value"`
}

type webhookValue struct {
	Metadata      json.RawMessage `json:"metadata"`
	Contacts      json.RawMessage `json:"contacts"`
	Messages      json.RawMessage `json:"messages"`
	MessageEchoes json.RawMessage `json:"message_echoes"`
}

type webhookMetadata struct {
	PhoneNumberID string `json:"phone_number_id"`
}

type webhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name *string `json:"name"`
	} `json:"profile"`
}

type webhookMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
}

// ParseIncomingEvents normalizes a Meta webhook payload into events, in
// payload order. Customer text messages and owner-app echoes are kept; any
// malformed or unsupported item is skipped. Only a body that is not a JSON
// object fails.
func (w *WhatsAppCloudClient) ParseIncomingEvents(raw []byte) ([]entities.IncomingMessageEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: webhook payload is not a JSON object: %v", entities.ErrValidation, err)
	}

	events := []entities.IncomingMessageEvent{}
	for _, rawEntry := range rawArray(payload.Entry) {
		var entry webhookEntry
		if json.Unmarshal(rawEntry, &entry) != nil {
			continue
		}
		for _, rawChange := range rawArray(entry.Changes) {
			var change webhookChange
			if json.Unmarshal(rawChange, &change) != nil {
				continue
			}
			events = append(events, parseChange(change)...)
		}
	}
	return events, nil
}

// rawArray returns the items of a JSON array, or nil for anything else.
func rawArray(raw json.RawMessage) []json.RawMessage {
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return nil
	}
	return items
}

func parseChange(change webhookChange) []entities.IncomingMessageEvent {
	var value webhookValue
	if json.Unmarshal(change.Value, &value) != nil {
		return nil
	}
	var metadata webhookMetadata
	if json.Unmarshal(value.Metadata, &metadata) != nil || metadata.PhoneNumberID == "" {
		return nil
	}
	phoneNumberID := metadata.PhoneNumberID

	names := make(map[string]string)
	for _, rc := range rawArray(value.Contacts) {
		var c webhookContact
		if json.Unmarshal(rc, &c) != nil || c.WaID == "" || c.Profile.Name == nil {
			continue
		}
		names[c.WaID] = *c.Profile.Name
	}

	var events []entities.IncomingMessageEvent
	for _, rm := range rawArray(value.Messages) {
		var m webhookMessage
		if json.Unmarshal(rm, &m) != nil {
			continue
		}
		if m.Type != "text" || m.Text == nil || strings.TrimSpace(m.Text.Body) == "" || m.From == "" || m.ID == "" {
			continue
		}
		ev := entities.IncomingMessageEvent{
			ProviderEventID:   m.ID,
			PhoneNumberID:     phoneNumberID,
			WhatsappContactID: m.From,
			MessageID:         m.ID,
			MessageType:       m.Type,
			Source:            entities.SourceCustomer,
			MessageText:       m.Text.Body,
		}
		if name, ok := names[m.From]; ok {
			ev.ContactDisplayName = &name
		}
		events = append(events, ev)
	}

	var field string
	if json.Unmarshal(change.Field, &field) != nil || field != fieldMessageEchoes {
		return events
	}

	for _, re := range rawArray(value.MessageEchoes) {
		var m webhookMessage
		if json.Unmarshal(re, &m) != nil {
			continue
		}
		if m.ID == "" || m.To == "" || m.Type == "" {
			continue
		}
		text := entities.OwnerAppNonTextMarker(m.Type)
		if m.Type == "text" {
			if m.Text == nil || strings.TrimSpace(m.Text.Body) == "" {
				continue
			}
			text = m.Text.Body
		}
		events = append(events, entities.IncomingMessageEvent{
			ProviderEventID:   m.ID,
			PhoneNumberID:     phoneNumberID,
			WhatsappContactID: m.To,
			MessageID:         m.ID,
			MessageType:       m.Type,
			Source:            entities.SourceOwnerApp,
			MessageText:       text,
		})
	}
	return events
}
