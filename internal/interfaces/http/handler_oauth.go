package http

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	oauthSuccessPage = "oauth_success"
	oauthFailurePage = "oauth_failure"
)

// oauthPages are shown in the browser window Meta redirects back to.
var oauthPages = parseOAuthPages()

func parseOAuthPages() *template.Template {
	t := template.Must(template.New(oauthSuccessPage).Parse(
		`<html><body><h2>WhatsApp Connected Successfully</h2>` +
			`<p>Tenant: {{.TenantID}}</p>` +
			`<p>Phone Number ID: {{.PhoneNumberID}}</p>` +
			`<p>You can return to your app now.</p></body></html>`))
	return template.Must(t.New(oauthFailurePage).Parse(
		`<html><body><h2>WhatsApp Connection Failed</h2><p>{{.Error}}</p></body></html>`))
}

// MetaOAuthCallback completes embedded signup from Meta's redirect. The
// request carries no bearer token; the state query parameter identifies the
// tenant.
func (h *Handler) MetaOAuthCallback(c *gin.Context) {
	ctx := c.Request.Context()
	status, err := h.svc.Onboarding.CompleteEmbeddedSignupByState(ctx, c.Query("code"), c.Query("state"))
	if err != nil {
		code := callbackStatusFor(err)
		msg := err.Error()
		if code == http.StatusInternalServerError {
			slog.ErrorContext(ctx, "http.internal_error", "error", err, "path", c.Request.URL.Path)
			msg = "internal server error"
		}
		_ = c.Error(err)
		c.HTML(code, oauthFailurePage, gin.H{"Error": msg})
		return
	}

	phoneNumberID := ""
	if status.PhoneNumberID != nil {
		phoneNumberID = *status.PhoneNumberID
	}
	c.HTML(http.StatusOK, oauthSuccessPage, gin.H{
		"TenantID":      status.TenantID,
		"PhoneNumberID": phoneNumberID,
	})
}

// callbackStatusFor reports bad input on the redirect as 400; the browser
// page has no use for 422.
func callbackStatusFor(err error) int {
	if code := statusFor(err); code != http.StatusUnprocessableEntity {
		return code
	}
	return http.StatusBadRequest
}
