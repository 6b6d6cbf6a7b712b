package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/listingdesk/internal/apperr"
	"github.com/zulandar/listingdesk/internal/inbound"
	"github.com/zulandar/listingdesk/internal/pipeline"
)

// emptyTwiML acknowledges a Twilio callback without replying.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Provider callbacks acknowledge once the payload reaches the pipeline.
// Only malformed input is reported back; processing failures are logged.

func handleTwilioForm(p *pipeline.Inbound, n inbound.Normalizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !processForm(c, p, n) {
			return
		}
		c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(emptyTwiML))
	}
}

func processForm(c *gin.Context, p *pipeline.Inbound, n inbound.Normalizer) bool {
	if err := c.Request.ParseForm(); err != nil {
		writeError(c, apperr.Invalid("form", err.Error()))
		return false
	}
	if _, err := p.ProcessRaw(c.Request.Context(), n, inbound.Raw{Form: c.Request.PostForm}); err != nil {
		log.Printf("webhook: %s: %v", n.Provider(), err)
	}
	return true
}

func handleTwilioSMSStatus(p *pipeline.Inbound) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			writeError(c, apperr.Invalid("form", err.Error()))
			return
		}
		if u, ok := inbound.NormalizeSMSStatus(c.Request.PostForm); ok {
			if err := p.ApplyStatus(c.Request.Context(), u); err != nil {
				log.Printf("webhook: sms status %s: %v", u.ExternalID, err)
			}
		}
		c.Status(http.StatusOK)
	}
}

// handleVerify answers the Meta-style subscription handshake, echoing
// hub.challenge only when hub.verify_token matches.
func handleVerify(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.Query("hub.mode") != "subscribe" || c.Query("hub.verify_token") != token {
			c.String(http.StatusForbidden, "verification failed")
			return
		}
		c.String(http.StatusOK, c.Query("hub.challenge"))
	}
}

func handleMeta(p *pipeline.Inbound, n inbound.Normalizer, appSecret string) gin.HandlerFunc {
	return signedBatch(p, n, appSecret, nil)
}

// handleWhatsApp also applies the delivery receipts carried in the batch.
func handleWhatsApp(p *pipeline.Inbound, n inbound.Normalizer, appSecret string) gin.HandlerFunc {
	return signedBatch(p, n, appSecret, inbound.WhatsAppStatuses)
}

// signedBatch handles a JSON batch callback, checking X-Hub-Signature-256
// when an app secret is configured. statuses, when set, extracts delivery
// receipts from the same body.
func signedBatch(p *pipeline.Inbound, n inbound.Normalizer, appSecret string, statuses func([]byte) ([]inbound.StatusUpdate, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
		if err != nil {
			writeError(c, apperr.Invalid("body", err.Error()))
			return
		}
		if appSecret != "" && !verifySignature(body, appSecret, c.GetHeader("X-Hub-Signature-256")) {
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		_, err = p.ProcessRaw(c.Request.Context(), n, inbound.Raw{Body: body})
		if errors.Is(err, apperr.ErrInvalidInput) {
			writeError(c, err)
			return
		}
		if err != nil {
			log.Printf("webhook: %s: %v", n.Provider(), err)
		}
		if statuses != nil {
			applyStatuses(c, p, n.Provider(), body, statuses)
		}
		c.String(http.StatusOK, "EVENT_RECEIVED")
	}
}

func applyStatuses(c *gin.Context, p *pipeline.Inbound, provider string, body []byte, statuses func([]byte) ([]inbound.StatusUpdate, error)) {
	ups, err := statuses(body)
	if err != nil {
		log.Printf("webhook: %s statuses: %v", provider, err)
		return
	}
	for _, u := range ups {
		if err := p.ApplyStatus(c.Request.Context(), u); err != nil {
			log.Printf("webhook: %s status %s: %v", provider, u.ExternalID, err)
		}
	}
}

// twilioSignature rejects Twilio callbacks whose X-Twilio-Signature does
// not match authToken. Nothing is checked when authToken is empty.
func twilioSignature(authToken, publicURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authToken == "" {
			c.Next()
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			writeError(c, apperr.Invalid("form", err.Error()))
			c.Abort()
			return
		}
		want := twilioSignatureFor(authToken, requestURL(c.Request, publicURL), c.Request.PostForm)
		if !hmac.Equal([]byte(want), []byte(c.GetHeader("X-Twilio-Signature"))) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}

// twilioSignatureFor computes base64(HMAC-SHA1(authToken, url + sorted
// name/value pairs)).
func twilioSignatureFor(authToken, fullURL string, params url.Values) string {
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

// requestURL is the URL the provider called, as it saw it.
func requestURL(r *http.Request, publicURL string) string {
	if publicURL != "" {
		return strings.TrimSuffix(publicURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// verifySignature checks a "sha256=<hex>" HMAC of body.
func verifySignature(body []byte, secret, signature string) bool {
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(hexSig), []byte(computed))
}

func handleGmailPush(p *pipeline.Inbound) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
		if err != nil {
			writeError(c, apperr.Invalid("body", err.Error()))
			return
		}
		res, err := p.ProcessGmailPush(c.Request.Context(), body)
		if errors.Is(err, apperr.ErrInvalidInput) {
			writeError(c, err)
			return
		}
		if err != nil {
			log.Printf("webhook: gmail push for %s: %v", res.Account, err)
		}
		c.JSON(http.StatusOK, gin.H{"received": true, "processed": len(res.Processed)})
	}
}

func handleEmail(p *pipeline.Inbound) gin.HandlerFunc {
	return func(c *gin.Context) {
		var e inbound.ForwardedEmail
		if err := c.ShouldBindJSON(&e); err != nil {
			writeError(c, bindError(err))
			return
		}
		res, err := p.ProcessEmail(c.Request.Context(), e)
		if errors.Is(err, apperr.ErrInvalidInput) {
			writeError(c, err)
			return
		}
		if err != nil {
			log.Printf("webhook: email %s: %v", e.MessageID, err)
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}
