package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/lumi/internal/domain"
	"github.com/coder/websocket"
)

// Message types exchanged with the device.
const (
	msgListen           = "listen"
	msgStopListening    = "stop_listening"
	msgSpeak            = "speak"
	msgTranscript       = "transcript"
	msgRecognitionError = "recognition_error"
	msgTranscription    = "transcription"
	msgResponse         = "response"
	msgStart            = "start"
	msgStop             = "stop"
	msgPing             = "ping"
	msgPong             = "pong"
	msgError            = "error"
)

// Recognition error codes sent by the device.
const (
	codeAuthorizationDenied = "authorization_denied"
)

const writeTimeout = 5 * time.Second

// wsMessage is the JSON envelope of the voice socket.
type wsMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// DeviceBridge lets the connected device do recognition and synthesis.
// It implements Recognizer and Synthesizer over one websocket.
type DeviceBridge struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	onResult func(Transcript)
}

// NewDeviceBridge wraps an accepted connection.
func NewDeviceBridge(conn *websocket.Conn) *DeviceBridge {
	return &DeviceBridge{conn: conn}
}

// StartListening asks the device to start recognition and routes its
// transcripts to onResult until StopListening.
func (b *DeviceBridge) StartListening(ctx context.Context, onResult func(Transcript)) error {
	b.mu.Lock()
	b.onResult = onResult
	b.mu.Unlock()
	if err := b.send(ctx, wsMessage{Type: msgListen}); err != nil {
		b.mu.Lock()
		b.onResult = nil
		b.mu.Unlock()
		return fmt.Errorf("start listening: %w: %w", domain.ErrRecognitionEngine, err)
	}
	return nil
}

// StopListening detaches the result callback and tells the device to stop.
func (b *DeviceBridge) StopListening() {
	b.mu.Lock()
	b.onResult = nil
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := b.send(ctx, wsMessage{Type: msgStopListening}); err != nil {
		slog.Debug("Failed to send stop_listening", "error", err)
	}
}

// Speak sends text for the device to say.
func (b *DeviceBridge) Speak(ctx context.Context, text string) error {
	if err := b.send(ctx, wsMessage{Type: msgSpeak, Text: text}); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSynthesis, err)
	}
	return nil
}

// Notify forwards a transcription or response to the device for display.
func (b *DeviceBridge) Notify(kind, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := b.send(ctx, wsMessage{Type: kind, Text: text}); err != nil {
		slog.Debug("Failed to notify device", "type", kind, "error", err)
	}
}

// deliver hands a device transcript to the current listener, if any.
func (b *DeviceBridge) deliver(msg wsMessage) {
	b.mu.Lock()
	onResult := b.onResult
	b.mu.Unlock()
	if onResult == nil {
		return
	}

	switch msg.Type {
	case msgTranscript:
		onResult(Transcript{Text: msg.Text})
	case msgRecognitionError:
		if msg.Error == codeAuthorizationDenied {
			onResult(Transcript{Err: domain.ErrRecognitionAuthorizationDenied})
			return
		}
		onResult(Transcript{Err: fmt.Errorf("%w: %s", domain.ErrRecognitionEngine, msg.Error)})
	}
}

func (b *DeviceBridge) send(ctx context.Context, msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn.Write(wctx, websocket.MessageText, data)
}
