package main

import "github.com/joho/godotenv"

func main() {
	// Ignored: running from a container or systemd unit with env already
	// set is the common case, not an error.
	_ = godotenv.Load()

	LogInfo("RTMP Go Server (Version 1.0.0)")

	server := CreateRTMPServer()

	go setupRedisCommandReceiver(server)

	if server != nil {
		server.Start()
	}
}
