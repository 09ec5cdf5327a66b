package infrastructure_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"wabot/internal/entities"
	"wabot/internal/infrastructure"
)

var _ = Describe("WhatsAppCloudClient", func() {
	var (
		server  *httptest.Server
		handler http.HandlerFunc
		client  *infrastructure.WhatsAppCloudClient
	)

	BeforeEach(func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		DeferCleanup(server.Close)
		client = infrastructure.NewWhatsAppCloudClient(infrastructure.WhatsAppCloudConfig{
			GraphBaseURL: server.URL,
			APIVersion:   "v23.0",
			AppID:        "app-1",
			AppSecret:    "app-secret",
			RedirectURI:  "https://app.example/whatsapp/callback",
		})
	})

	Describe("SendText", func() {
		It("posts a text message and returns the message id", func() {
			var gotPath, gotAuth string
			var gotBody map[string]any
			handler = func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotAuth = r.Header.Get("Authorization")
				raw, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(raw, &gotBody)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","contacts":[{"input":"6281","wa_id":"6281"}],"messages":[{"id":"wamid.OUT"}]}`))
			}

			id, err := client.SendText(context.Background(), "tenant-token", "pn-1", "6281", "Hello there")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("wamid.OUT"))
			Expect(gotPath).To(Equal("/v23.0/pn-1/messages"))
			Expect(gotAuth).To(Equal("Bearer tenant-token"))
			Expect(gotBody).To(HaveKeyWithValue("messaging_product", "whatsapp"))
			Expect(gotBody).To(HaveKeyWithValue("to", "6281"))
			Expect(gotBody["text"]).To(HaveKeyWithValue("body", "Hello there"))
		})

		It("surfaces Graph API errors as provider errors", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"message":"Error validating access token","type":"OAuthException","code":190}}`))
			}

			_, err := client.SendText(context.Background(), "expired", "pn-1", "6281", "hi")
			Expect(err).To(MatchError(entities.ErrExternalProvider))
			var perr *entities.ProviderError
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(perr.Provider).To(Equal("meta"))
			Expect(perr.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(perr.Error()).To(ContainSubstring("Error validating access token"))
		})

		It("fails when the response has no message id", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"messages":[]}`))
			}
			_, err := client.SendText(context.Background(), "tok", "pn-1", "6281", "hi")
			Expect(err).To(MatchError(entities.ErrExternalProvider))
			Expect(err.Error()).To(ContainSubstring("missing outbound message id"))
		})
	})

	Describe("BuildEmbeddedSignupURL", func() {
		It("points at the versioned OAuth dialog with the state", func() {
			raw := client.BuildEmbeddedSignupURL("state-123")
			u, err := url.Parse(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Host).To(Equal("www.facebook.com"))
			Expect(u.Path).To(Equal("/v23.0/dialog/oauth"))
			Expect(u.Query().Get("state")).To(Equal("state-123"))
			Expect(u.Query().Get("client_id")).To(Equal("app-1"))
			Expect(u.Query().Get("redirect_uri")).To(Equal("https://app.example/whatsapp/callback"))
		})
	})

	Describe("VerifySignature", func() {
		sign := func(secret, body string) string {
			mac := hmac.New(sha256.New, []byte(secret))
			mac.Write([]byte(body))
			return "sha256=" + hex.EncodeToString(mac.Sum(nil))
		}

		It("accepts a matching signature", func() {
			Expect(client.VerifySignature([]byte(`{"a":1}`), sign("app-secret", `{"a":1}`))).To(BeTrue())
		})

		It("rejects a signature from another secret", func() {
			Expect(client.VerifySignature([]byte(`{"a":1}`), sign("other", `{"a":1}`))).To(BeFalse())
		})

		It("rejects missing or malformed headers", func() {
			Expect(client.VerifySignature([]byte(`{}`), "")).To(BeFalse())
			Expect(client.VerifySignature([]byte(`{}`), "sha256=zz")).To(BeFalse())
		})

		It("skips the check when no app secret is configured", func() {
			open := infrastructure.NewWhatsAppCloudClient(infrastructure.WhatsAppCloudConfig{})
			Expect(open.VerifySignature([]byte(`{}`), "")).To(BeTrue())
		})
	})
})
