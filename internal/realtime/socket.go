package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"domofon/internal/models"
)

// FrameSink consumes frames read off the wire. *Manager implements it.
type FrameSink interface {
	HandleFrame(frame models.ServerFrame)
}

// Socket is the websocket Transport for the realtime service. One
// socket multiplexes every channel subscription of the client.
type Socket struct {
	conn *websocket.Conn

	// gorilla connections allow one concurrent writer.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the realtime endpoint, authenticating with the
// caller's token header.
func Dial(ctx context.Context, url, token string) (*Socket, error) {
	header := http.Header{}
	header.Set("token", token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (http %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	return &Socket{conn: conn}, nil
}

// Run reads frames until the connection fails or ctx is cancelled,
// delivering each frame to the sink. It blocks the calling goroutine.
func (s *Socket) Run(ctx context.Context, sink FrameSink) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-done:
		}
	}()

	for {
		var frame models.ServerFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}
		sink.HandleFrame(frame)
	}
}

func (s *Socket) Subscribe(channel string) error {
	return s.write(models.ClientFrame{
		Type:    models.ClientFrameTypeSubscribe,
		Channel: channel,
	})
}

func (s *Socket) Unsubscribe(channel string) error {
	return s.write(models.ClientFrame{
		Type:    models.ClientFrameTypeUnsubscribe,
		Channel: channel,
	})
}

func (s *Socket) Track(channel string, record models.PresenceRecord) error {
	return s.write(models.ClientFrame{
		Type:     models.ClientFrameTypeTrack,
		Channel:  channel,
		Presence: &record,
	})
}

func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Socket) write(frame models.ClientFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}
