package oauth

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
)

const RedirectPath = "/integrations/callback"

// RedirectResult is what the redirect transport hands back to the app.
type RedirectResult struct {
	Success  bool   `json:"success"`
	Platform string `json:"platform,omitempty"`
	Error    string `json:"error,omitempty"`
	// Token is set by the payment variant of the callback.
	Token string `json:"token,omitempty"`
}

// RedirectURL builds the location the callback sends a full-page flow to.
func RedirectURL(baseURL string, r RedirectResult) string {
	q := url.Values{}
	if r.Success {
		q.Set("success", "true")
	} else if r.Error != "" {
		q.Set("error", r.Error)
	}
	if r.Platform != "" {
		q.Set("platform", r.Platform)
	}
	if r.Token != "" {
		q.Set("token", r.Token)
	}
	return fmt.Sprintf("%s%s?%s", strings.TrimRight(baseURL, "/"), RedirectPath, q.Encode())
}

// ParseRedirectResult reads success, error, platform and token parameters.
// success must be exactly "true"; an error always wins.
func ParseRedirectResult(q url.Values) RedirectResult {
	r := RedirectResult{
		Platform: strings.TrimSpace(q.Get("platform")),
		Error:    strings.TrimSpace(q.Get("error")),
		Token:    strings.TrimSpace(q.Get("token")),
	}
	r.Success = r.Error == "" && q.Get("success") == "true"
	return r
}

// CompleteRedirect parses q and invokes done synchronously.
func CompleteRedirect(q url.Values, done func(RedirectResult)) RedirectResult {
	r := ParseRedirectResult(q)
	if done != nil {
		done(r)
	}
	return r
}

// MessageFor converts a callback outcome into the popup message.
func MessageFor(platform string, err error, origin string) Message {
	if err != nil {
		return Message{Type: MessageError, Error: apperror.Categorize(err).Message, Origin: origin}
	}
	return Message{Type: MessageSuccess, Platform: platform, Origin: origin}
}

// CallbackPage is the HTML served to the popup: it posts msg to the opener
// restricted to origin and closes itself.
func CallbackPage(msg Message, origin string) string {
	payload := msg
	payload.Origin = ""
	data, _ := json.Marshal(payload)
	target, _ := json.Marshal(origin)
	return fmt.Sprintf(`<!doctype html>
<html><head><meta charset="utf-8"><title>MockupSuite</title></head>
<body>
<p>You can close this window.</p>
<script>
(function () {
  var msg = %s;
  if (window.opener) {
    window.opener.postMessage(msg, %s);
  }
  window.close();
})();
</script>
</body></html>`, data, target)
}
