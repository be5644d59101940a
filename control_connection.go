// Optional websocket connection to a multi-instance coordinator: it
// authorizes publish requests centrally and can ask this instance to kill a
// stream remotely. Left disconnected (enabled=false) when CONTROL_BASE_URL
// isn't set, in which case publish authorization falls back to the
// start/stop HTTP callback instead.

package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	messages "github.com/AgustinSRG/go-simple-rpc-message"
	"github.com/gorilla/websocket"
)

const controlWebsocketPath = "/ws/control/rtmp"
const controlHeartbeatInterval = 20 * time.Second
const controlReconnectDelay = 10 * time.Second
const controlReadTimeout = 60 * time.Second
const controlPublishRequestTimeout = 20 * time.Second

type ControlServerConnection struct {
	server *RTMPServer

	connectionURL string
	connection    *websocket.Conn

	lock *sync.Mutex

	nextRequestId uint64
	requests      map[string]*controlPendingRequest

	enabled bool
}

type controlPendingRequest struct {
	waiter chan controlPublishResponse
}

type controlPublishResponse struct {
	accepted bool
	streamId string
}

// Initialize sets up the connection against CONTROL_BASE_URL and, if a base
// URL was provided, starts the connect and heartbeat loops in the
// background. Leaves c.enabled false (standalone mode) on any
// misconfiguration.
func (c *ControlServerConnection) Initialize(server *RTMPServer) {
	c.server = server
	c.lock = &sync.Mutex{}
	c.requests = make(map[string]*controlPendingRequest)

	baseURL := os.Getenv("CONTROL_BASE_URL")
	if baseURL == "" {
		LogWarning("CONTROL_BASE_URL not provided. The server will run in stand-alone mode.")
		return
	}

	resolved, err := resolveControlURL(baseURL)
	if err != nil {
		LogError(err)
		LogWarning("CONTROL_BASE_URL not provided. The server will run in stand-alone mode.")
		return
	}

	c.connectionURL = resolved
	c.enabled = true

	go c.Connect()
	go c.RunHeartBeatLoop()
}

func resolveControlURL(baseURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	path, err := url.Parse(controlWebsocketPath)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(path).String(), nil
}

// controlDialHeaders builds the identifying headers sent with the websocket
// upgrade request: auth token plus whatever external-address hints this
// instance was configured with, so the coordinator can reach back to it.
func controlDialHeaders() http.Header {
	headers := http.Header{}

	if token := makeControlAuthToken(); token != "" {
		headers.Set("x-control-auth-token", token)
	}
	if ip := os.Getenv("EXTERNAL_IP"); ip != "" {
		headers.Set("x-external-ip", ip)
	}
	if port := os.Getenv("EXTERNAL_PORT"); port != "" {
		headers.Set("x-custom-port", port)
	}
	if os.Getenv("EXTERNAL_SSL") == "YES" {
		headers.Set("x-ssl-use", "true")
	}

	return headers
}

func (c *ControlServerConnection) Connect() {
	c.lock.Lock()
	if c.connection != nil {
		c.lock.Unlock()
		return
	}

	LogInfo("[WS-CONTROL] Connecting to " + c.connectionURL)

	conn, _, err := websocket.DefaultDialer.Dial(c.connectionURL, controlDialHeaders())
	if err != nil {
		c.lock.Unlock()
		LogErrorMessage("[WS-CONTROL] Connection error: " + err.Error())
		go c.Reconnect()
		return
	}

	c.connection = conn
	c.lock.Unlock()

	// The coordinator assumes this instance was down while disconnected, so
	// any publisher it thinks already died must actually be torn down here.
	c.server.KillAllActivePublishers()

	go c.RunReaderLoop(conn)
}

func (c *ControlServerConnection) Reconnect() {
	LogInfo("[WS-CONTROL] Waiting 10 seconds to reconnect.")
	time.Sleep(controlReconnectDelay)
	c.Connect()
}

func (c *ControlServerConnection) OnDisconnect(err error) {
	c.lock.Lock()
	c.connection = nil
	c.lock.Unlock()

	LogInfo("[WS-CONTROL] Disconnected: " + err.Error())
	go c.Connect()
}

func (c *ControlServerConnection) Send(msg messages.RPCMessage) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.connection == nil {
		return false
	}

	serialized := msg.Serialize()
	c.connection.WriteMessage(websocket.TextMessage, []byte(serialized)) //nolint:errcheck

	if logDebugEnabled {
		LogDebug("[WS-CONTROL] >>>\n" + string(serialized))
	}

	return true
}

func (c *ControlServerConnection) nextRequestID() string {
	c.lock.Lock()
	defer c.lock.Unlock()

	id := c.nextRequestId
	c.nextRequestId++
	return fmt.Sprint(id)
}

func (c *ControlServerConnection) RunReaderLoop(conn *websocket.Conn) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(controlReadTimeout)); err != nil {
			conn.Close()
			c.OnDisconnect(err)
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			c.OnDisconnect(err)
			return
		}

		if logDebugEnabled {
			LogDebug("[WS-CONTROL] <<<\n" + string(raw))
		}

		msg := messages.ParseRPCMessage(string(raw))
		c.ParseIncomingMessage(&msg)
	}
}

func (c *ControlServerConnection) ParseIncomingMessage(msg *messages.RPCMessage) {
	switch msg.Method {
	case "ERROR":
		LogErrorMessage("[WS-CONTROL] Remote error. Code=" + msg.GetParam("Error-Code") + " / Details: " + msg.GetParam("Error-Message"))
	case "PUBLISH-ACCEPT":
		c.resolvePublishRequest(msg.GetParam("Request-Id"), controlPublishResponse{accepted: true, streamId: msg.GetParam("Stream-Id")})
	case "PUBLISH-DENY":
		c.resolvePublishRequest(msg.GetParam("Request-Id"), controlPublishResponse{accepted: false})
	case "STREAM-KILL":
		c.OnStreamKill(msg.GetParam("Stream-Channel"), msg.GetParam("Stream-Id"))
	}
}

func (c *ControlServerConnection) resolvePublishRequest(requestId string, res controlPublishResponse) {
	c.lock.Lock()
	req := c.requests[requestId]
	c.lock.Unlock()

	if req == nil {
		return
	}

	// The waiter holds one buffered slot; whichever of the response and the
	// timeout lands second finds it taken and drops out here instead of
	// blocking forever.
	select {
	case req.waiter <- res:
	default:
	}
}

// OnStreamKill disconnects the active publisher for channel, or only the
// one matching streamId when a specific session (rather than "*"/any) was
// targeted.
func (c *ControlServerConnection) OnStreamKill(channel string, streamId string) {
	publisher := c.server.GetPublisher(channel)
	if publisher == nil {
		return
	}

	if streamId == "*" || streamId == "" || publisher.externalStreamId == streamId {
		publisher.Kill()
	}
}

func (c *ControlServerConnection) RunHeartBeatLoop() {
	for {
		time.Sleep(controlHeartbeatInterval)
		c.Send(messages.RPCMessage{Method: "HEARTBEAT"})
	}
}

// RequestPublish asks the coordinator whether channel/key may publish,
// blocking until it answers or controlPublishRequestTimeout elapses. When
// the control plane isn't enabled, every publish is accepted locally.
func (c *ControlServerConnection) RequestPublish(channel string, key string, userIP string) (accepted bool, streamId string) {
	if !c.enabled {
		return true, ""
	}

	requestId := c.nextRequestID()
	pending := &controlPendingRequest{waiter: make(chan controlPublishResponse, 1)}

	msg := messages.RPCMessage{
		Method: "PUBLISH-REQUEST",
		Params: map[string]string{
			"Request-ID":     requestId,
			"Stream-Channel": channel,
			"Stream-Key":     key,
			"User-IP":        userIP,
		},
	}

	c.lock.Lock()
	c.requests[requestId] = pending
	c.lock.Unlock()

	if !c.Send(msg) {
		c.lock.Lock()
		delete(c.requests, requestId)
		c.lock.Unlock()
		return false, ""
	}

	time.AfterFunc(controlPublishRequestTimeout, func() {
		select {
		case pending.waiter <- controlPublishResponse{accepted: false}:
		default:
		}
	})

	res := <-pending.waiter

	c.lock.Lock()
	delete(c.requests, requestId)
	c.lock.Unlock()

	return res.accepted, res.streamId
}

// PublishEnd notifies the coordinator that channel/streamId stopped
// publishing. Returns true if the message was sent (not whether it was
// processed — the coordinator doesn't acknowledge this one).
func (c *ControlServerConnection) PublishEnd(channel string, streamId string) bool {
	return c.Send(messages.RPCMessage{
		Method: "PUBLISH-END",
		Params: map[string]string{
			"Stream-Channel": channel,
			"Stream-ID":      streamId,
		},
	})
}
