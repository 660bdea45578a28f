package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ringcast/ringcast/internal/observability"
	"github.com/ringcast/ringcast/internal/scenario"
)

const (
	wrapUpWindow      = 30 * time.Second
	interruptCooldown = 500 * time.Millisecond
	errorDrainWindow  = time.Second
	outboundMarkName  = "response-chunk"
)

// SystemMessage is prepended to every scenario's instructions.
const SystemMessage = "You are a voice assistant on a live phone call. " +
	"Speak naturally and keep responses short; the caller hears you in real time. " +
	"Stay in character for the scenario described below.\n\n"

const wrapUpInstruction = "The call is almost out of time. Politely wrap up the " +
	"conversation in one or two sentences and say goodbye."

// ProviderSocket is the telephony leg of a bridged call. *websocket.Conn
// satisfies it.
type ProviderSocket interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ModelDial opens the model leg once the provider stream has started.
type ModelDial func(ctx context.Context) (ModelStream, error)

// SessionConfig carries everything one bridged call needs.
type SessionConfig struct {
	Scenario       scenario.Scenario
	VAD            scenario.VADPolicy
	UserName       string
	DurationCapSec int
	DialModel      ModelDial
	Metrics        *observability.Metrics
	Log            *slog.Logger

	// ResolveCap maps the provider call id from the start frame to the
	// duration cap the call was permitted with. When nil or returning 0,
	// DurationCapSec stands.
	ResolveCap func(ctx context.Context, callSID string) int

	// OnEnd reports the final wall duration so accounting can run even
	// when the provider's status callback is lost. May be nil.
	OnEnd func(ctx context.Context, callSID string, durationSec int)

	// watchdogTick overrides the 1 s watchdog interval in tests.
	watchdogTick time.Duration
}

// Session bridges one telephony media stream to one model realtime stream.
type Session struct {
	cfg      SessionConfig
	provider ProviderSocket
	model    ModelStream

	streamSID string
	callSID   string
	startedAt time.Time

	cancel   context.CancelFunc
	rearm    chan struct{}
	capFired atomic.Bool

	latestMediaMS atomic.Int64

	mu                sync.Mutex
	lastAssistantItem string
	responseStartMS   int64
	interruptArmed    bool
}

func NewSession(cfg SessionConfig, provider ProviderSocket) *Session {
	if cfg.watchdogTick <= 0 {
		cfg.watchdogTick = time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Session{
		cfg:             cfg,
		provider:        provider,
		rearm:           make(chan struct{}, 1),
		responseStartMS: -1,
		interruptArmed:  true,
	}
}

// Run drives the session until the caller hangs up, the duration cap fires,
// the model errors, or ctx is cancelled. The provider socket is always
// closed on return.
func (s *Session) Run(ctx context.Context) error {
	defer s.provider.Close()

	// Until the goroutine set exists, a cancelled ctx must still unblock
	// the provider read so the bridge slot is released.
	stop := context.AfterFunc(ctx, func() { _ = s.provider.Close() })
	defer stop()

	if err := s.awaitStart(); err != nil {
		return err
	}
	if s.cfg.ResolveCap != nil && s.callSID != "" {
		if c := s.cfg.ResolveCap(ctx, s.callSID); c > 0 {
			s.cfg.DurationCapSec = c
		}
	}

	model, err := s.cfg.DialModel(ctx)
	if err != nil {
		return fmt.Errorf("open model stream: %w", err)
	}
	s.model = model
	defer model.Close()

	if err := s.configureModel(ctx); err != nil {
		return err
	}

	s.startedAt = time.Now()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveCalls.Inc()
		defer s.cfg.Metrics.ActiveCalls.Dec()
	}
	s.cfg.Log.Info("bridge session started",
		"stream_sid", s.streamSID, "scenario", s.cfg.Scenario.ID,
		"cap_sec", s.cfg.DurationCapSec)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); s.inboundLoop() }()
	go func() { defer wg.Done(); s.outboundLoop(ctx) }()
	go func() { defer wg.Done(); s.watchdogLoop(ctx) }()
	go func() { defer wg.Done(); s.rearmLoop(ctx) }()

	// Supervisor: first cancellation closes both sockets, which unblocks
	// any read the child loops are parked on.
	<-ctx.Done()
	_ = s.provider.Close()
	_ = model.Close()
	wg.Wait()

	duration := int(time.Since(s.startedAt).Seconds())
	if s.capFired.Load() || duration > s.cfg.DurationCapSec {
		duration = s.cfg.DurationCapSec
	}
	s.cfg.Log.Info("bridge session ended",
		"stream_sid", s.streamSID, "duration_sec", duration,
		"cap_fired", s.capFired.Load())
	if s.cfg.OnEnd != nil && s.callSID != "" {
		s.cfg.OnEnd(context.Background(), s.callSID, duration)
	}
	return nil
}

// awaitStart reads provider frames until the start frame delivers the
// stream and call ids. A peer that never sends start is cut off after
// the handshake window so it cannot pin a bridge slot.
func (s *Session) awaitStart() error {
	_ = s.provider.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer func() { _ = s.provider.SetReadDeadline(time.Time{}) }()
	for {
		_, data, err := s.provider.ReadMessage()
		if err != nil {
			return fmt.Errorf("provider stream closed before start: %w", err)
		}
		frame, err := ParseProviderFrame(data)
		if err != nil {
			continue
		}
		if start, ok := frame.(StartFrame); ok {
			s.streamSID = start.StreamSID
			s.callSID = start.CallSID
			return nil
		}
	}
}

// configureModel sends the session.update and blocks until the model
// acknowledges it. Audio must not flow before the acknowledgement.
func (s *Session) configureModel(ctx context.Context) error {
	payload := SessionUpdatePayload(s.cfg.Scenario, s.cfg.VAD, s.cfg.UserName)
	if err := s.model.UpdateSession(payload); err != nil {
		return fmt.Errorf("send session update: %w", err)
	}

	deadline := time.NewTimer(handshakeTimeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("model session update not acknowledged within %s", handshakeTimeout)
		case ev, ok := <-s.model.Events():
			if !ok {
				return fmt.Errorf("model stream closed during setup")
			}
			switch ev.Type {
			case ModelEventSessionUpdated:
				// Kick off the greeting so the assistant speaks first.
				return s.model.RequestResponse("")
			case ModelEventError:
				return fmt.Errorf("model rejected session update: %s (%s)", ev.ErrorMessage, ev.ErrorCode)
			}
		}
	}
}

// inboundLoop relays caller audio to the model.
func (s *Session) inboundLoop() {
	for {
		_, data, err := s.provider.ReadMessage()
		if err != nil {
			s.teardown()
			return
		}
		frame, err := ParseProviderFrame(data)
		if err != nil {
			continue
		}
		switch f := frame.(type) {
		case MediaFrame:
			s.latestMediaMS.Store(f.TimestampMS)
			s.countFrame("provider", "in", EventMedia)
			if err := s.model.AppendAudio(f.Payload); err != nil {
				s.teardown()
				return
			}
		case MarkFrame:
			s.countFrame("provider", "in", EventMark)
		case StopFrame:
			s.countFrame("provider", "in", EventStop)
			_ = s.model.CommitAudio()
			_ = s.model.RequestResponse("")
			s.teardown()
			return
		case StartFrame:
			// duplicate start, ignore
		}
	}
}

// outboundLoop relays model audio to the provider. Barge-in is handled
// synchronously here so the clear frame always precedes the next delta.
func (s *Session) outboundLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.model.Events():
			if !ok {
				s.teardown()
				return
			}
			switch ev.Type {
			case ModelEventAudioDelta:
				s.trackDelta(ev.ItemID)
				if err := s.writeProvider(newOutMedia(s.streamSID, ev.Delta)); err != nil {
					s.teardown()
					return
				}
				s.countFrame("provider", "out", EventMedia)
				if err := s.writeProvider(newOutMark(s.streamSID, outboundMarkName)); err != nil {
					s.teardown()
					return
				}
			case ModelEventSpeechStarted:
				s.handleBargeIn()
			case ModelEventResponseDone:
				s.countFrame("model", "in", ModelEventResponseDone)
			case ModelEventError:
				// Error payloads can echo caller speech transcripts.
				msg, _ := observability.RedactPII(ev.ErrorMessage)
				s.cfg.Log.Warn("model error frame",
					"stream_sid", s.streamSID, "code", ev.ErrorCode, "message", msg)
				// Let already-generated audio drain briefly, then stop.
				time.AfterFunc(errorDrainWindow, s.teardown)
			}
		}
	}
}

// watchdogLoop enforces the duration cap. The wrap-up fires once when
// less than wrapUpWindow remains; reaching the cap cancels the session.
func (s *Session) watchdogLoop(ctx context.Context) {
	limit := time.Duration(s.cfg.DurationCapSec) * time.Second
	wrapUpSent := false
	ticker := time.NewTicker(s.cfg.watchdogTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(s.startedAt)
			if elapsed >= limit {
				s.capFired.Store(true)
				s.teardown()
				return
			}
			if !wrapUpSent && limit-elapsed <= wrapUpWindow {
				wrapUpSent = true
				_ = s.model.RequestResponse(wrapUpInstruction)
			}
		}
	}
}

// rearmLoop re-enables barge-in handling after the cooldown.
func (s *Session) rearmLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.rearm:
			timer := time.NewTimer(interruptCooldown)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.mu.Lock()
				s.interruptArmed = true
				s.mu.Unlock()
			}
		}
	}
}

func (s *Session) trackDelta(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.responseStartMS < 0 {
		s.responseStartMS = s.latestMediaMS.Load()
	}
	if itemID != "" {
		s.lastAssistantItem = itemID
	}
}

// handleBargeIn truncates the in-flight assistant response and clears
// queued provider audio. Runs on the outbound goroutine.
func (s *Session) handleBargeIn() {
	s.mu.Lock()
	item := s.lastAssistantItem
	if item == "" || !s.interruptArmed {
		s.mu.Unlock()
		return
	}
	s.lastAssistantItem = ""
	s.responseStartMS = -1
	s.interruptArmed = false
	s.mu.Unlock()

	endMS := s.latestMediaMS.Load()
	_ = s.model.TruncateItem(item, endMS)
	_ = s.writeProvider(newOutClear(s.streamSID))
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.BargeIns.Inc()
	}
	s.cfg.Log.Debug("barge-in", "stream_sid", s.streamSID, "item_id", item, "audio_end_ms", endMS)

	select {
	case s.rearm <- struct{}{}:
	default:
	}
}

func (s *Session) writeProvider(frame any) error {
	_ = s.provider.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.provider.WriteJSON(frame)
}

func (s *Session) teardown() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) countFrame(leg, direction, frameType string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.WSFrames.WithLabelValues(leg, direction, frameType).Inc()
	}
}

// SessionInstructions composes the model instructions for a scenario.
func SessionInstructions(sc scenario.Scenario, userName string) string {
	var b strings.Builder
	b.WriteString(SystemMessage)
	b.WriteString(sc.Persona)
	b.WriteString("\n\n")
	b.WriteString(sc.Prompt)
	if name := strings.TrimSpace(userName); name != "" {
		b.WriteString("\n\nThe person you are calling is named ")
		b.WriteString(name)
		b.WriteString("; address them by name when natural.")
	}
	return b.String()
}

// SessionUpdatePayload renders the initial session.update body.
func SessionUpdatePayload(sc scenario.Scenario, vad scenario.VADPolicy, userName string) map[string]any {
	return map[string]any{
		"turn_detection":      vad.TurnDetection(),
		"input_audio_format":  "g711_ulaw",
		"output_audio_format": "g711_ulaw",
		"voice":               sc.Voice,
		"instructions":        SessionInstructions(sc, userName),
		"modalities":          []string{"text", "audio"},
		"temperature":         sc.Temperature,
	}
}
