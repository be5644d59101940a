// Remote admin channel: a Redis pub/sub subscription carrying out-of-band
// "kill-session" / "close-stream" commands, for operators that need to
// force-disconnect a publisher without going through the RTMP/HTTP surface.

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisChannel = "rtmp_commands"
const redisReconnectDelay = 10 * time.Second

// logPanicAsError converts whatever recover() returned into an error and
// logs it. Must be called with recover()'s result from directly within the
// deferred function — recover only unwinds a panic when invoked there.
func logPanicAsError(r any) {
	if r == nil {
		return
	}
	switch x := r.(type) {
	case string:
		LogError(errors.New(x))
	case error:
		LogError(x)
	default:
		LogError(errors.New("unrecoverable redis error"))
	}
}

func newRedisClientFromEnv() *redis.Client {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}

	opts := &redis.Options{
		Addr:     host + ":" + port,
		Password: os.Getenv("REDIS_PASSWORD"),
	}
	if os.Getenv("REDIS_TLS") == "YES" {
		opts.TLSConfig = &tls.Config{}
	}

	return redis.NewClient(opts)
}

// setupRedisCommandReceiver subscribes to REDIS_CHANNEL (default
// "rtmp_commands") and dispatches every message it receives to
// parseRedisCommand. A no-op unless REDIS_USE=YES.
func setupRedisCommandReceiver(server *RTMPServer) {
	if os.Getenv("REDIS_USE") != "YES" {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logPanicAsError(r)
			LogWarning("Connection to Redis lost!")
		}
	}()

	channel := os.Getenv("REDIS_CHANNEL")
	if channel == "" {
		channel = defaultRedisChannel
	}

	ctx := context.Background()
	subscriber := newRedisClientFromEnv().Subscribe(ctx, channel)

	LogInfo("[REDIS] Listening for commands on channel '" + channel + "'")

	for {
		msg, err := subscriber.ReceiveMessage(ctx)
		if err != nil {
			LogWarning("Could not connect to Redis: " + err.Error())
			time.Sleep(redisReconnectDelay)
			continue
		}
		parseRedisCommand(server, msg.Payload)
	}
}

// parseRedisCommand decodes a "name>arg1|arg2|..." message and applies it.
// Supported commands: "kill-session>{channel}" and
// "close-stream>{channel}|{streamId}".
func parseRedisCommand(server *RTMPServer, cmd string) {
	defer func() {
		if r := recover(); r != nil {
			logPanicAsError(r)
			LogWarning("Could not parse message: " + cmd)
		}
	}()

	nameAndArgs := strings.SplitN(cmd, ">", 2)
	if len(nameAndArgs) != 2 {
		LogWarning("Invalid message from Redis: " + cmd)
		return
	}

	args := strings.Split(nameAndArgs[1], "|")

	switch nameAndArgs[0] {
	case "kill-session":
		if len(args) < 1 {
			LogWarning("Invalid message from Redis: " + cmd)
			return
		}
		if publisher := server.GetPublisher(args[0]); publisher != nil {
			publisher.Kill()
		}
	case "close-stream":
		if len(args) < 2 {
			LogWarning("Invalid message from Redis: " + cmd)
			return
		}
		if publisher := server.GetPublisher(args[0]); publisher != nil && publisher.externalStreamId == args[1] {
			publisher.Kill()
		}
	default:
		LogWarning("Unknown Redis command: " + cmd)
	}
}
