package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/latortuga71/GoEvade/internal/data"
)

// WSScorer scores over a persistent websocket connection. The connection
// carries one request at a time, so concurrent callers are serialized; a
// broken connection is dropped and redialed on the next call.
type WSScorer struct {
	Endpoint string
	Secret   string

	mutex sync.Mutex
	conn  *websocket.Conn
}

func NewWSScorer(endpoint, secret string) *WSScorer {
	return &WSScorer{Endpoint: endpoint, Secret: secret}
}

func (s *WSScorer) dial() error {
	header := http.Header{}
	if s.Secret != "" {
		header.Set("shared-secret", s.Secret)
	}
	conn, _, err := websocket.DefaultDialer.Dial(s.Endpoint, header)
	if err != nil {
		return fmt.Errorf("oracle: dial %s: %w", s.Endpoint, err)
	}
	s.conn = conn
	return nil
}

func (s *WSScorer) Score(ctx context.Context, binary []byte) (float64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.conn == nil {
		if err := s.dial(); err != nil {
			return 0, err
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
		s.conn.SetReadDeadline(deadline)
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, binary); err != nil {
		s.drop()
		return 0, fmt.Errorf("oracle: websocket write: %w", err)
	}
	_, message, err := s.conn.ReadMessage()
	if err != nil {
		s.drop()
		return 0, fmt.Errorf("oracle: websocket read: %w", err)
	}
	scoreResponse := &data.ScoreResponse{}
	if err := json.Unmarshal(message, scoreResponse); err != nil {
		return 0, fmt.Errorf("oracle: decode score response: %w", err)
	}
	if err := checkConfidence(scoreResponse.Confidence); err != nil {
		return 0, err
	}
	return scoreResponse.Confidence, nil
}

func (s *WSScorer) drop() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *WSScorer) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.conn == nil {
		return nil
	}
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := s.conn.Close()
	s.conn = nil
	return err
}
