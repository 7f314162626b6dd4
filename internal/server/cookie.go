package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/instant-chat/instant/internal/cookiecodec"
)

// sidCookieName is the name of the identity cookie, set on a response only
// when the request carried no valid one.
const sidCookieName = "sid"

// sidContextKey is where IdentityCookie stashes the verified (or freshly
// minted) session identifier for downstream handlers, notably the WS
// upgrade path.
const sidContextKey = "instant.session_id"

// sidTokenContextKey is where IdentityCookie stashes the raw "sid" cookie
// value (verified or freshly minted) for Client.AuthCookie.
const sidTokenContextKey = "instant.session_token"

// sidCookieMaxAge is 31536000 seconds (one year).
const sidCookieMaxAge = 365 * 24 * 60 * 60

// IdentityCookie verifies the inbound "sid" cookie against codec and mints a
// fresh one when it's missing or fails verification: a malformed cookie,
// bad base64, and a MAC mismatch are all indistinguishable "no valid
// identity" outcomes, so they're all handled identically
// here: issue a new session. insecure disables the Secure flag, matching
// INSTANT_COOKIES_INSECURE=yes.
func IdentityCookie(codec *cookiecodec.Codec, insecure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(sidCookieName)
		sessionID := verifySession(token, codec)
		if sessionID == "" {
			sessionID = uuid.New().String()
			token = codec.Sign([]byte(sessionID))
			http.SetCookie(c.Writer, &http.Cookie{
				Name:     sidCookieName,
				Value:    token,
				Path:     "/",
				MaxAge:   sidCookieMaxAge,
				HttpOnly: true,
				Secure:   !insecure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		c.Set(sidContextKey, sessionID)
		c.Set(sidTokenContextKey, token)
		c.Next()
	}
}

func verifySession(token string, codec *cookiecodec.Codec) string {
	if token == "" {
		return ""
	}
	payload, err := codec.Verify(token)
	if err != nil {
		return ""
	}
	return string(payload)
}

// sessionIDFromContext reads back the session identifier IdentityCookie
// stashed, verified from an existing cookie or freshly minted.
func sessionIDFromContext(c *gin.Context) string {
	v, _ := c.Get(sidContextKey)
	s, _ := v.(string)
	return s
}

// sessionTokenFromContext reads back the raw "sid" cookie value.
func sessionTokenFromContext(c *gin.Context) string {
	v, _ := c.Get(sidTokenContextKey)
	s, _ := v.(string)
	return s
}
