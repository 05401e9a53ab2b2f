package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"bizphone/pkg/logger"
)

// TwilioSignature computes X-Twilio-Signature for a POST to fullURL:
// base64(HMAC-SHA1(authToken, fullURL + each sorted key followed by its values)).
func TwilioSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidTwilioSignature reports whether sig matches the request.
func ValidTwilioSignature(authToken, fullURL string, params url.Values, sig string) bool {
	if authToken == "" || sig == "" {
		return false
	}
	want := TwilioSignature(authToken, fullURL, params)
	return hmac.Equal([]byte(want), []byte(sig))
}

// RequireTwilioSignature rejects webhooks that Twilio did not sign. baseURL
// is the public origin Twilio was configured with, since proxies rewrite the
// host the server sees.
func RequireTwilioSignature(authToken, baseURL string) gin.HandlerFunc {
	baseURL = strings.TrimRight(baseURL, "/")
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		full := baseURL + c.Request.URL.RequestURI()
		if !ValidTwilioSignature(authToken, full, c.Request.PostForm, c.GetHeader("X-Twilio-Signature")) {
			logger.FromGin(c).Warn("twilio signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
