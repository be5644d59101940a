// RTMP server: listeners, the session table and the channel registry that
// pairs publishers with players.

package main

import (
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/netdata/go.d.plugin/pkg/iprange"
)

// RTMPChannel is one registry entry: the live publisher (if any) plus the
// set of player session ids attached to the channel.
type RTMPChannel struct {
	channel          string
	key              string
	externalStreamId string // id assigned by the callback / coordinator
	publisher        uint64 // session id of the publisher, 0 when none
	isLive           bool
	players          map[uint64]bool
}

type RTMPServer struct {
	host string
	port int

	listener       net.Listener
	secureListener net.Listener

	mutex    *sync.Mutex // guards sessions, channels and the id counter
	sessions map[uint64]*RTMPSession
	channels map[string]*RTMPChannel

	ipMutex *sync.Mutex // guards ipCount
	ipCount map[string]uint32
	ipLimit uint32

	nextSessionId     uint64
	gopCacheLimit     int64
	streamIdMaxLength int

	websocketControlConnection *ControlServerConnection

	closed bool
}

// envInt reads an integer environment variable, falling back to def when
// unset or unparseable.
func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, e := strconv.Atoi(v)
	if e != nil {
		return def
	}
	return n
}

// CreateRTMPServer builds the server from environment configuration and
// binds its listeners (plain TCP always, TLS when a certificate pair is
// configured). Returns nil if any listener cannot be bound.
func CreateRTMPServer() *RTMPServer {
	server := RTMPServer{
		mutex:             &sync.Mutex{},
		ipMutex:           &sync.Mutex{},
		sessions:          make(map[uint64]*RTMPSession),
		channels:          make(map[string]*RTMPChannel),
		ipCount:           make(map[string]uint32),
		nextSessionId:     1,
		ipLimit:           uint32(envInt("MAX_IP_CONCURRENT_CONNECTIONS", 4)),
		gopCacheLimit:     int64(envInt("GOP_CACHE_SIZE_MB", 256)) * 1024 * 1024,
		streamIdMaxLength: 128,
	}

	bindAddr := os.Getenv("BIND_ADDRESS")

	server.port = envInt("RTMP_PORT", 1935)
	server.host = bindAddr

	lTCP, errTCP := net.Listen("tcp", bindAddr+":"+strconv.Itoa(server.port))
	if errTCP != nil {
		LogError(errTCP)
		return nil
	}
	server.listener = lTCP
	LogInfo("[RTMP] Listening on " + bindAddr + ":" + strconv.Itoa(server.port))

	certFile := os.Getenv("SSL_CERT")
	keyFile := os.Getenv("SSL_KEY")

	if certFile != "" && keyFile != "" {
		sslPort := envInt("SSL_PORT", 443)

		config, err := setupTLSConfig(certFile, keyFile)
		if err != nil {
			LogError(err)
			server.listener.Close()
			return nil
		}

		lnSSL, errSSL := tls.Listen("tcp", bindAddr+":"+strconv.Itoa(sslPort), config)
		if errSSL != nil {
			LogError(errSSL)
			server.listener.Close()
			return nil
		}
		server.secureListener = lnSSL
		LogInfo("[SSL] Listening on " + bindAddr + ":" + strconv.Itoa(sslPort))
	}

	controlConn := &ControlServerConnection{}
	controlConn.Initialize(&server)
	if controlConn.enabled {
		server.websocketControlConnection = controlConn
	}

	return &server
}

// AddIP counts a new connection against its source address. Returns false
// when the address is already at the concurrent-connection limit.
func (server *RTMPServer) AddIP(ip string) bool {
	server.ipMutex.Lock()
	defer server.ipMutex.Unlock()

	c := server.ipCount[ip]
	if c >= server.ipLimit {
		return false
	}

	server.ipCount[ip] = c + 1
	return true
}

// isIPExempted reports whether the address falls inside the configured
// whitelist of ranges exempt from the per-IP connection limit.
func (server *RTMPServer) isIPExempted(ipStr string) bool {
	r := os.Getenv("CONCURRENT_LIMIT_WHITELIST")

	switch r {
	case "":
		return false
	case "*":
		return true
	}

	ip := net.ParseIP(ipStr)

	for _, part := range strings.Split(r, ",") {
		rang, e := iprange.ParseRange(part)
		if e != nil {
			LogError(e)
			continue
		}
		if rang.Contains(ip) {
			return true
		}
	}

	return false
}

func (server *RTMPServer) RemoveIP(ip string) {
	server.ipMutex.Lock()
	defer server.ipMutex.Unlock()

	if c := server.ipCount[ip]; c > 1 {
		server.ipCount[ip] = c - 1
	} else {
		delete(server.ipCount, ip)
	}
}

func (server *RTMPServer) NextSessionID() uint64 {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	r := server.nextSessionId
	server.nextSessionId++
	return r
}

func (server *RTMPServer) AddSession(s *RTMPSession) {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	server.sessions[s.id] = s
}

func (server *RTMPServer) RemoveSession(id uint64) {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	delete(server.sessions, id)
}

func (server *RTMPServer) isPublishing(channel string) bool {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	c := server.channels[channel]
	return c != nil && c.isLive
}

func (server *RTMPServer) GetPublisher(channel string) *RTMPSession {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	c := server.channels[channel]
	if c == nil || !c.isLive {
		return nil
	}

	return server.sessions[c.publisher]
}

// SetPublisher claims the channel for a publishing session. The check and
// the insert run under one lock acquisition, so two concurrent publishers
// cannot both claim it; the loser gets false.
func (server *RTMPServer) SetPublisher(channel string, key string, externalStreamId string, s *RTMPSession) bool {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	c := server.channels[channel]

	if c != nil && c.isLive {
		return false
	}

	if c == nil {
		c = &RTMPChannel{
			channel: channel,
			players: make(map[uint64]bool),
		}
		server.channels[channel] = c
	}

	c.key = key
	c.externalStreamId = externalStreamId
	c.isLive = true
	c.publisher = s.id

	return true
}

// RemovePublisher detaches the publisher from its channel and flips every
// attached player back to idling. The entry itself survives while players
// remain, so they can resume if a publisher returns.
func (server *RTMPServer) RemovePublisher(channel string) {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	c := server.channels[channel]
	if c == nil {
		return
	}

	c.publisher = 0
	c.isLive = false

	for sid := range c.players {
		if player := server.sessions[sid]; player != nil {
			player.isIdling = true
			player.isPlaying = false
		}
	}

	if len(c.players) == 0 {
		delete(server.channels, channel)
	}
}

func (server *RTMPServer) GetIdlePlayers(channel string) []*RTMPSession {
	return server.playersWhere(channel, func(p *RTMPSession) bool { return p.isIdling })
}

func (server *RTMPServer) GetPlayers(channel string) []*RTMPSession {
	return server.playersWhere(channel, func(p *RTMPSession) bool { return p.isPlaying })
}

func (server *RTMPServer) playersWhere(channel string, match func(*RTMPSession) bool) []*RTMPSession {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	result := make([]*RTMPSession, 0)

	c := server.channels[channel]
	if c == nil {
		return result
	}

	for sid := range c.players {
		if player := server.sessions[sid]; player != nil && match(player) {
			result = append(result, player)
		}
	}

	return result
}

// AddPlayer attaches a playing session to a channel. When a publisher is
// live the player's key must match the publisher's; otherwise the player
// is parked as idle until a publisher arrives. Returns whether the player
// ended up idle.
func (server *RTMPServer) AddPlayer(channel string, key string, s *RTMPSession) (bool, error) {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	c := server.channels[channel]
	if c == nil {
		c = &RTMPChannel{
			channel: channel,
			key:     key,
			players: make(map[uint64]bool),
		}
		server.channels[channel] = c
	}

	if c.isLive {
		if subtle.ConstantTimeCompare([]byte(key), []byte(c.key)) != 1 {
			return false, errors.New("invalid key")
		}
		s.isIdling = false
	} else {
		s.isIdling = true
	}

	c.players[s.id] = true

	return s.isIdling, nil
}

func (server *RTMPServer) RemovePlayer(channel string, key string, s *RTMPSession) {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	c := server.channels[channel]
	if c == nil {
		return
	}

	delete(c.players, s.id)

	s.isIdling = false
	s.isPlaying = false

	if !c.isLive && len(c.players) == 0 {
		delete(server.channels, channel)
	}
}

// KillAllActivePublishers disconnects every currently publishing session.
// Called after the coordinator websocket reconnects, since the coordinator
// has no memory of sessions that were publishing before the drop and would
// otherwise consider the channel free while this server still serves it.
func (server *RTMPServer) KillAllActivePublishers() {
	server.mutex.Lock()
	publishers := make([]*RTMPSession, 0)
	for _, c := range server.channels {
		if c.isLive {
			if p := server.sessions[c.publisher]; p != nil {
				publishers = append(publishers, p)
			}
		}
	}
	server.mutex.Unlock()

	// Kill blocks on the session mutex, so it runs outside the registry
	// lock.
	for _, p := range publishers {
		p.Kill()
	}
}

// AcceptConnections pulls connections off a listener, applies the per-IP
// limit and hands each one to its own session goroutine.
func (server *RTMPServer) AcceptConnections(listener net.Listener, wg *sync.WaitGroup) {
	defer func() {
		listener.Close()
		wg.Done()
	}()

	for {
		c, err := listener.Accept()
		if err != nil {
			LogError(err)
			return
		}

		id := server.NextSessionID()

		var ip string
		if addr, ok := c.RemoteAddr().(*net.TCPAddr); ok {
			ip = addr.IP.String()
		} else {
			ip = c.RemoteAddr().String()
		}

		if !server.isIPExempted(ip) && !server.AddIP(ip) {
			c.Close()
			LogRequest(id, ip, "Connection rejected: Too many requests")
			continue
		}

		LogDebugSession(id, ip, "Connection accepted!")
		go server.HandleConnection(id, ip, c)
	}
}

// SendPings periodically pings every connected session so that otherwise
// quiet connections keep their read deadlines alive.
func (server *RTMPServer) SendPings(wg *sync.WaitGroup) {
	defer wg.Done()

	for !server.closed {
		time.Sleep(RTMP_PING_TIME * time.Millisecond)

		func() {
			server.mutex.Lock()
			defer server.mutex.Unlock()

			for _, s := range server.sessions {
				s.SendPingRequest()
			}
		}()
	}
}

// Start runs the accept loops and the ping loop, blocking until every
// listener is gone.
func (server *RTMPServer) Start() {
	var wg sync.WaitGroup

	if server.listener != nil {
		wg.Add(1)
		go server.AcceptConnections(server.listener, &wg)
	}

	if server.secureListener != nil {
		wg.Add(1)
		go server.AcceptConnections(server.secureListener, &wg)
	}

	wg.Add(1)
	go server.SendPings(&wg)

	wg.Wait()
}

// HandleConnection owns one accepted connection for its whole life: it
// registers the session, runs it, and guarantees cleanup (registry,
// outbox writer, per-IP accounting) whether the session returns or
// panics.
func (server *RTMPServer) HandleConnection(id uint64, ip string, c net.Conn) {
	s := CreateRTMPSession(server, id, ip, c)

	server.AddSession(&s)

	go s.runOutboxWriter()

	defer func() {
		if err := recover(); err != nil {
			switch x := err.(type) {
			case string:
				LogRequest(id, ip, "Error: "+x)
			case error:
				LogRequest(id, ip, "Error: "+x.Error())
			default:
				LogRequest(id, ip, "Connection Crashed!")
			}
		}
		s.OnClose()
		s.stopOutboxWriter()
		c.Close()
		server.RemoveSession(id)
		server.RemoveIP(ip)
		LogDebugSession(id, ip, "Connection closed!")
	}()

	s.HandleSession()
}

// getOutChunkSize reads the configured outbound chunk size, clamped to the
// protocol's legal range; out-of-range values fall back to the default.
func (server *RTMPServer) getOutChunkSize() uint32 {
	n := envInt("RTMP_CHUNK_SIZE", RTMP_OUT_CHUNK_SIZE_DEFAULT)
	if n <= RTMP_CHUNK_SIZE_DEFAULT || n > RTMP_CHUNK_SIZE_MAX {
		return RTMP_OUT_CHUNK_SIZE_DEFAULT
	}
	return uint32(n)
}
