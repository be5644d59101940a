// HTTP callback fired at the edges of the publish lifecycle, used by an
// external service to authorize stream keys and track live streams. The
// event rides in a signed JWT header rather than a body, so the receiver
// can trust it with nothing but the shared secret.

package main

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const JWT_EXPIRATION_TIME_SECONDS = 120

func callbackJWTSubject() string {
	if subject := os.Getenv("CUSTOM_JWT_SUBJECT"); subject != "" {
		return subject
	}
	return "rtmp_event"
}

// sendPublishCallback POSTs the configured callback URL with a signed
// rtmp-event token for the given event ("start" or "stop"). Returns the
// response, or nil on transport/signing failure or a non-200 status.
func (s *RTMPSession) sendPublishCallback(event string, claims jwt.MapClaims) *http.Response {
	callbackURL := os.Getenv("CALLBACK_URL")
	if callbackURL == "" {
		return nil
	}

	LogDebugSession(s.id, s.ip, "POST "+callbackURL+" | Event: "+event+" | Channel: "+s.channel)

	claims["sub"] = callbackJWTSubject()
	claims["event"] = event
	claims["channel"] = s.channel
	claims["key"] = s.key
	claims["client_ip"] = s.ip
	claims["exp"] = time.Now().Unix() + JWT_EXPIRATION_TIME_SECONDS

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, e := token.SignedString([]byte(os.Getenv("JWT_SECRET")))
	if e != nil {
		LogError(e)
		return nil
	}

	req, e := http.NewRequest("POST", callbackURL, nil)
	if e != nil {
		LogError(e)
		return nil
	}
	req.Header.Set("rtmp-event", signed)

	res, e := (&http.Client{}).Do(req)
	if e != nil {
		LogError(e)
		return nil
	}

	if res.StatusCode != 200 {
		LogDebugSession(s.id, s.ip, "Callback request ended with status code: "+strconv.Itoa(res.StatusCode))
		return nil
	}

	return res
}

// SendStartCallback asks the external service whether this publish may
// proceed. A denied or failed callback blocks the publish; the stream-id
// response header is kept for correlation in the stop callback and remote
// admin commands.
func (s *RTMPSession) SendStartCallback() bool {
	if os.Getenv("CALLBACK_URL") == "" {
		return true // No callback configured, publishes are open
	}

	res := s.sendPublishCallback("start", jwt.MapClaims{
		"rtmp_host": s.server.host,
		"rtmp_port": s.server.port,
	})
	if res == nil {
		return false
	}

	s.externalStreamId = res.Header.Get("stream-id")
	LogDebugSession(s.id, s.ip, "Stream ID: "+s.externalStreamId)

	return true
}

// SendStopCallback reports the end of a publish. Failures are only
// signaled to the caller for logging; the stream is tearing down either
// way.
func (s *RTMPSession) SendStopCallback() bool {
	if os.Getenv("CALLBACK_URL") == "" {
		return true
	}

	res := s.sendPublishCallback("stop", jwt.MapClaims{
		"stream_id": s.externalStreamId,
	})
	return res != nil
}
