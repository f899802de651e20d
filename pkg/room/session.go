package room

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mapsync/mapsync/pkg/logging"
	"github.com/mapsync/mapsync/pkg/metrics"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second

	// pongWait is how long a silent peer stays connected; pings go out a
	// little more often than that.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1 << 20

	// sendBuffer is the per-session outbound queue. A client that cannot
	// drain it fast enough gets disconnected and recovers via the join
	// snapshot on reconnect.
	sendBuffer = 256

	// maxMalformed is how many rejected messages a session may send
	// before the server hangs up on it.
	maxMalformed = 8
)

// Session owns one websocket connection. The read pump feeds the room's
// inbox; the write pump drains the send queue. Neither pump touches room
// state directly.
type Session struct {
	id   string
	room *Room
	conn *websocket.Conn
	send chan ServerMessage

	logger logging.Logger
	reg    *metrics.Registry

	malformed int
}

func newSession(conn *websocket.Conn, r *Room, logger logging.Logger, reg *metrics.Registry) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		room:   r,
		conn:   conn,
		send:   make(chan ServerMessage, sendBuffer),
		logger: logger.With(logging.Room(r.id), logging.Session(id)),
		reg:    reg,
	}
}

// ID is the server-assigned session identifier used as the presence key.
func (s *Session) ID() string {
	return s.id
}

// trySend queues a message without blocking the room goroutine. Overflow
// means the client is too slow to keep a consistent view, so the
// connection is dropped rather than the message.
func (s *Session) trySend(msg ServerMessage) {
	select {
	case s.send <- msg:
	default:
		s.logger.Warn("send buffer full, disconnecting slow client")
		s.conn.Close()
	}
}

func (s *Session) readPump() {
	defer func() {
		s.room.detach(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read error", logging.Error(err))
			}
			return
		}

		msg, err := ParseClientMessage(data)
		if err != nil {
			s.malformed++
			s.reg.MalformedMessagesTotal.Inc()
			s.logger.Warn("rejected message", logging.Error(err), logging.Int("rejected", s.malformed))
			if s.malformed >= maxMalformed {
				s.logger.Warn("too many rejected messages, closing session")
				return
			}
			continue
		}

		s.reg.RecordMessage(msg.Type)
		if !s.room.submit(command{kind: cmdMessage, sess: s, msg: msg}) {
			return
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
