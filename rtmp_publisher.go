// Publisher-side session methods: starting/resuming/ending playback for the
// players attached to this publisher's channel.

package main

import (
	"container/list"
	"crypto/subtle"
)

func keysMatch(a string, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// replayGopCache feeds every cached packet in the publisher's GOP buffer to
// player, unless the player opted out of GOP replay (gopPlayNo). Clears the
// publisher's cache and disables it afterwards if the player requested that
// (gopPlayClear) — typically a player that only ever wants one replay.
func (s *RTMPSession) replayGopCache(player *RTMPSession) {
	if !player.gopPlayNo && s.rtmpGopCache.Len() > 0 {
		for e := s.rtmpGopCache.Front(); e != nil; e = e.Next() {
			if pkt, ok := e.Value.(*RTMPPacket); ok {
				player.SendCachePacket(pkt)
			}
		}
	}

	if player.gopPlayClear {
		s.rtmpGopCache = list.New()
		s.gopCacheSize = 0
		s.gopCacheDisabled = true
	}
}

// startPlayback sends the initial metadata/codec headers and GOP replay to
// a player that's about to start receiving this publisher's stream, then
// flips it from idling to playing.
func (s *RTMPSession) startPlayback(player *RTMPSession) {
	LogRequest(player.id, player.ip, "PLAY START '"+player.channel+"'")

	player.SendMetadata(s.metaData, 0)
	player.SendAudioCodecHeader(s.audioCodec, s.aacSequenceHeader, 0)
	player.SendVideoCodecHeader(s.videoCodec, s.avcSequenceHeader, 0)

	s.replayGopCache(player)

	player.isPlaying = true
	player.isIdling = false
}

// StartIdlePlayers promotes every idle player on this channel whose stream
// key matches the publisher's to playing, and kicks any mismatched ones
// off with NetStream.Play.BadName. Call only for publishers.
func (s *RTMPSession) StartIdlePlayers() {
	s.publishMutex.Lock()
	defer s.publishMutex.Unlock()

	idlePlayers := s.server.GetIdlePlayers(s.channel)

	for i := 0; i < len(idlePlayers); i++ {
		player := idlePlayers[i]

		if !keysMatch(s.key, player.key) {
			LogRequest(player.id, player.ip, "Error: Invalid stream key provided")
			player.SendStatusMessage(player.playStreamId, "error", "NetStream.Play.BadName", "Invalid stream key provided")
			player.Kill()
			continue
		}

		s.startPlayback(player)
	}
}

// StartPlayer begins (or idles) a single player session against this
// publisher. Call only for publishers.
func (s *RTMPSession) StartPlayer(player *RTMPSession) {
	s.publishMutex.Lock()
	defer s.publishMutex.Unlock()

	if !s.isPublishing {
		player.isPlaying = false
		player.isIdling = true
		LogRequest(player.id, player.ip, "PLAY IDLE '"+player.channel+"'")
		return
	}

	s.startPlayback(player)
}

// ResumePlayer re-sends codec headers to a player coming back from a pause,
// stamped with the publisher's current clock so the player can resync.
// Call only for publishers.
func (s *RTMPSession) ResumePlayer(player *RTMPSession) {
	s.publishMutex.Lock()
	defer s.publishMutex.Unlock()

	player.SendAudioCodecHeader(s.audioCodec, s.aacSequenceHeader, s.clock)
	player.SendVideoCodecHeader(s.videoCodec, s.avcSequenceHeader, s.clock)
}

// EndPublish tears down a publishing session: idles every attached player,
// drops the publisher from the registry, and notifies the control plane
// (or the HTTP stop callback) that the stream ended. Call only for
// publishers.
func (s *RTMPSession) EndPublish(isClose bool) {
	s.publishMutex.Lock()
	defer s.publishMutex.Unlock()

	if !s.isPublishing {
		return
	}

	LogRequest(s.id, s.ip, "PUBLISH END '"+s.channel+"'")

	if !isClose {
		s.SendStatusMessage(s.publishStreamId, "status", "NetStream.Unpublish.Success", s.GetStreamPath()+" is now unpublished.")
	}

	players := s.server.GetPlayers(s.channel)
	for i := 0; i < len(players); i++ {
		players[i].isIdling = true
		players[i].isPlaying = false
		LogRequest(players[i].id, players[i].ip, "PLAY IDLE '"+players[i].channel+"'")
		players[i].SendStatusMessage(players[i].playStreamId, "status", "NetStream.Play.UnpublishNotify", "stream is now unpublished.")
		players[i].SendStreamStatus(STREAM_EOF, players[i].playStreamId)
	}

	s.server.RemovePublisher(s.channel)
	s.rtmpGopCache = list.New()
	s.isPublishing = false

	sent := false
	if s.server.websocketControlConnection != nil {
		sent = s.server.websocketControlConnection.PublishEnd(s.channel, s.externalStreamId)
	} else {
		sent = s.SendStopCallback()
	}
	if sent {
		LogDebugSession(s.id, s.ip, "Stop event sent")
	} else {
		LogDebugSession(s.id, s.ip, "Could not send stop event")
	}
}

func (s *RTMPSession) SetClock(clock int64) {
	s.publishMutex.Lock()
	defer s.publishMutex.Unlock()

	s.clock = clock
}

// SetMetaData updates the metadata being advertised for this publish and
// pushes it out live to every attached player.
func (s *RTMPSession) SetMetaData(metaData []byte) {
	s.publishMutex.Lock()
	defer s.publishMutex.Unlock()

	if !s.isPublishing {
		return
	}

	s.metaData = metaData

	players := s.server.GetPlayers(s.channel)
	for i := 0; i < len(players); i++ {
		players[i].SendMetadata(metaData, 0)
	}
}
