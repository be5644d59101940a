// Authentication for the coordinator websocket connection.

package main

import (
	"os"

	"github.com/golang-jwt/jwt/v5"
)

const controlJwtSubject = "rtmp-relay-control"

// makeControlAuthToken signs a short HS256 token this process presents when
// opening the coordinator websocket. Returns "" when CONTROL_SECRET isn't
// configured, meaning the control-plane integration is disabled entirely.
func makeControlAuthToken() string {
	secret := os.Getenv("CONTROL_SECRET")
	if secret == "" {
		return ""
	}

	claims := jwt.MapClaims{"sub": controlJwtSubject}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		LogError(err)
		return ""
	}

	return signed
}
