package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/careerdeck/voiceinterview/pkg/audio"
	"github.com/careerdeck/voiceinterview/pkg/provider/s2s/elevenlabs"
)

// Frame drop reasons, used as the metric label.
const (
	dropMuted        = "muted"
	dropClosed       = "closed"
	dropBackpressure = "backpressure"
	dropWriteError   = "write_error"
)

// ── Outbound ─────────────────────────────────────────────────────────────────

// enqueue runs on the capture thread. It never blocks: when the queue is full
// the oldest pending frame is dropped to make room.
func (s *Session) enqueue(l *liveSession, f audio.Frame) {
	ctx := context.Background()
	s.metrics.FramesCaptured.Add(ctx, 1)

	if s.muted.Load() {
		f.Release()
		s.metrics.RecordFrameDropped(ctx, dropMuted)
		return
	}
	if !l.open.Load() {
		f.Release()
		s.metrics.RecordFrameDropped(ctx, dropClosed)
		return
	}

	select {
	case l.queue <- f:
		return
	default:
	}
	select {
	case old := <-l.queue:
		old.Release()
		s.metrics.RecordFrameDropped(ctx, dropBackpressure)
	default:
	}
	select {
	case l.queue <- f:
	default:
		f.Release()
		s.metrics.RecordFrameDropped(ctx, dropBackpressure)
	}
}

// sendLoop encodes queued frames in capture order and writes each as its own
// message until the attempt is torn down.
func (s *Session) sendLoop(l *liveSession) {
	defer func() {
		for {
			select {
			case f := <-l.queue:
				f.Release()
			default:
				return
			}
		}
	}()

	for {
		select {
		case <-l.ctx.Done():
			return
		case f := <-l.queue:
			s.sendFrame(l, f)
		}
	}
}

func (s *Session) sendFrame(l *liveSession, f audio.Frame) {
	defer f.Release()

	if s.muted.Load() {
		s.metrics.RecordFrameDropped(l.ctx, dropMuted)
		return
	}
	if !l.open.Load() {
		s.metrics.RecordFrameDropped(l.ctx, dropClosed)
		return
	}

	chunk := l.encoder.Encode(f.Samples, f.SampleRate, l.audioFormat().InputRate)
	data, err := json.Marshal(elevenlabs.UserAudioChunk{UserAudioChunk: chunk.Data})
	if err != nil {
		s.metrics.RecordFrameDropped(l.ctx, dropWriteError)
		return
	}
	if err := l.write(data); err != nil {
		reason := dropWriteError
		if errors.Is(err, errTransportClosed) || l.ctx.Err() != nil {
			reason = dropClosed
		} else {
			l.logger.Debug("send audio frame", "seq", f.Seq, "err", err)
		}
		s.metrics.RecordFrameDropped(l.ctx, reason)
		return
	}
	s.metrics.FramesSent.Add(l.ctx, 1)
}

// ── Inbound ──────────────────────────────────────────────────────────────────

// receiveLoop reads until the transport fails. A failure that was not caused
// by the attempt's own teardown ends the attempt in StateError.
func (s *Session) receiveLoop(l *liveSession) {
	for {
		data, err := l.transport.Read(l.ctx)
		if err != nil {
			if l.ending.Load() || l.ctx.Err() != nil {
				return
			}
			_ = s.fail(l, classifyReadError(err), err)
			return
		}
		s.handleMessage(l, data)
	}
}

// handleMessage dispatches one inbound message. Malformed and unknown
// messages are logged and ignored.
func (s *Session) handleMessage(l *liveSession, data []byte) {
	evt, err := elevenlabs.ParseServerEvent(data)
	if err != nil {
		s.protocolError(l, "malformed", err)
		return
	}

	switch evt.Type {
	case elevenlabs.TypePing:
		if evt.PingEvent == nil {
			s.protocolError(l, "missing_ping_event", errors.New("ping without ping_event"))
			return
		}
		s.handlePing(l, evt.PingEvent)

	case elevenlabs.TypeInitiationMetadata:
		if evt.InitiationMetadata == nil {
			s.protocolError(l, "missing_metadata_event", errors.New("metadata without event body"))
			return
		}
		s.latchFormat(l, evt.InitiationMetadata)

	case elevenlabs.TypeAudio:
		if evt.AudioEvent == nil {
			s.protocolError(l, "missing_audio_event", errors.New("audio without audio_event"))
			return
		}
		s.handleAudio(l, evt.AudioEvent)

	case elevenlabs.TypeUserTranscript:
		if evt.UserTranscription != nil {
			s.emitTranscript(Transcript{Role: "user", Text: evt.UserTranscription.UserTranscript})
		}

	case elevenlabs.TypeAgentResponse:
		if evt.AgentResponse != nil {
			s.emitTranscript(Transcript{Role: "agent", Text: evt.AgentResponse.AgentResponse})
		}

	case elevenlabs.TypeInterruption:
		l.logger.Debug("agent interrupted by user")

	default:
		l.logger.Debug("ignoring unknown event", "type", evt.Type)
		s.metrics.RecordProtocolError(l.ctx, "unknown_type")
	}
}

func (s *Session) handlePing(l *liveSession, ping *elevenlabs.PingEvent) {
	data, err := json.Marshal(elevenlabs.NewPong(ping.EventID))
	if err != nil {
		return
	}
	if err := l.write(data); err != nil {
		l.logger.Warn("send pong", "event_id", ping.EventID, "err", err)
		return
	}
	s.metrics.PongsSent.Add(l.ctx, 1)
}

// latchFormat records the negotiated rates the first time metadata arrives.
// A later message announcing different rates is a protocol violation and
// does not change the format.
func (s *Session) latchFormat(l *liveSession, meta *elevenlabs.InitiationMetadataEvent) {
	l.fmtMu.Lock()
	defer l.fmtMu.Unlock()

	next := l.format
	if rate, err := elevenlabs.ParsePCMRate(meta.UserInputAudioFormat); err == nil {
		next.InputRate = rate
	} else {
		s.protocolError(l, "unsupported_format", err)
	}
	if rate, err := elevenlabs.ParsePCMRate(meta.AgentOutputAudioFormat); err == nil {
		next.OutputRate = rate
	} else {
		s.protocolError(l, "unsupported_format", err)
	}

	if l.latched {
		if next != l.format {
			l.logger.Warn("agent changed audio format mid-session, keeping the first",
				"input_rate", l.format.InputRate, "output_rate", l.format.OutputRate,
				"new_input_rate", next.InputRate, "new_output_rate", next.OutputRate)
			s.metrics.RecordProtocolError(l.ctx, "format_changed")
		}
		return
	}
	l.format = next
	l.latched = true
	l.logger.Info("audio format negotiated",
		"conversation_id", meta.ConversationID,
		"input_rate", next.InputRate, "output_rate", next.OutputRate)
}

func (s *Session) handleAudio(l *liveSession, evt *elevenlabs.AudioEvent) {
	samples, err := audio.DecodeChunk(evt.AudioBase64)
	if err != nil {
		s.protocolError(l, "bad_audio", err)
		return
	}
	if len(samples) == 0 {
		return
	}
	// A receive loop can outlive its attempt by one message; its audio must
	// not reach the next attempt's playback.
	if l.ending.Load() || l.ctx.Err() != nil {
		return
	}

	sched := s.opts.Scheduler
	now := sched.Now()
	start, err := sched.Schedule(samples, l.audioFormat().OutputRate)
	if err != nil {
		if !errors.Is(err, audio.ErrSchedulerStopped) {
			l.logger.Warn("schedule agent audio", "err", err)
		}
		return
	}
	s.metrics.AudioScheduled.Add(l.ctx, 1)
	s.metrics.PlaybackLead.Record(l.ctx, (start - now).Seconds())
}

func (s *Session) emitTranscript(t Transcript) {
	if fn := s.transcriptHandler(); fn != nil && t.Text != "" {
		fn(t)
	}
}

// protocolError logs and counts a recovered inbound error.
func (s *Session) protocolError(l *liveSession, reason string, err error) {
	l.logger.Debug("ignoring inbound message", "kind", KindProtocolParse, "reason", reason, "err", err)
	s.metrics.RecordProtocolError(l.ctx, reason)
}
