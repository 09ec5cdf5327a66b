package infrastructure

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wabot/internal/entities"
)

const embeddedSignupScopes = "whatsapp_business_management,whatsapp_business_messaging"

// WhatsAppCloudConfig configures the Meta Graph API client.
type WhatsAppCloudConfig struct {
	GraphBaseURL string // e.g. https://graph.facebook.com
	APIVersion   string // e.g. v23.0
	AppID        string
	AppSecret    string
	RedirectURI  string
	Timeout      time.Duration
}

// WhatsAppCloudClient talks to the WhatsApp Business Cloud API. It is safe
// for concurrent use; per-tenant credentials are passed on every call.
type WhatsAppCloudClient struct {
	cfg        WhatsAppCloudConfig
	httpClient *http.Client
}

func NewWhatsAppCloudClient(cfg WhatsAppCloudConfig) *WhatsAppCloudClient {
	if cfg.GraphBaseURL == "" {
		cfg.GraphBaseURL = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v23.0"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &WhatsAppCloudClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type sendTextRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             sendTextBody `json:"text"`
}

type sendTextBody struct {
	Body string `json:"body"`
}

type sendTextResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type graphErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText sends a text message and returns the provider message id.
func (w *WhatsAppCloudClient) SendText(ctx context.Context, accessToken, phoneNumberID, contactID, text string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/messages",
		strings.TrimRight(w.cfg.GraphBaseURL, "/"), w.cfg.APIVersion, url.PathEscape(phoneNumberID))

	data, err := json.Marshal(sendTextRequest{
		MessagingProduct: "whatsapp",
		To:               contactID,
		Type:             "text",
		Text:             sendTextBody{Body: text},
	})
	if err != nil {
		return "", w.providerErr("send_text", 0, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", w.providerErr("send_text", 0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", w.providerErr("send_text", 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", w.providerErr("send_text", resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gerr graphErrorResponse
		if json.Unmarshal(body, &gerr) == nil && gerr.Error.Message != "" {
			return "", w.providerErr("send_text", resp.StatusCode, errors.New(gerr.Error.Message))
		}
		return "", w.providerErr("send_text", resp.StatusCode, errors.New("unexpected status"))
	}

	var out sendTextResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", w.providerErr("send_text", resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", w.providerErr("send_text", resp.StatusCode, errors.New("missing outbound message id"))
	}
	return out.Messages[0].ID, nil
}

// BuildEmbeddedSignupURL returns the Meta OAuth dialog URL for a signup session.
func (w *WhatsAppCloudClient) BuildEmbeddedSignupURL(state string) string {
	q := url.Values{}
	q.Set("client_id", w.cfg.AppID)
	q.Set("redirect_uri", w.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("state", state)
	q.Set("scope", embeddedSignupScopes)
	return fmt.Sprintf("https://www.facebook.com/%s/dialog/oauth?%s", w.cfg.APIVersion, q.Encode())
}

// VerifySignature checks the X-Hub-Signature-256 header against the raw body.
// Always true when no app secret is configured.
func (w *WhatsAppCloudClient) VerifySignature(body []byte, header string) bool {
	if w.cfg.AppSecret == "" {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(w.cfg.AppSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func (w *WhatsAppCloudClient) providerErr(op string, status int, err error) error {
	return &entities.ProviderError{Provider: "meta", Op: op, StatusCode: status, Err: err}
}
