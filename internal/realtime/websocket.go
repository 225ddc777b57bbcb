package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ruralpay/playcard/internal/config"
	"github.com/ruralpay/playcard/internal/models"
)

// ScanIngestor accepts card scans reported by connected peers.
type ScanIngestor interface {
	Touch(ctx context.Context, id string) error
}

// NewUpgrader returns the upgrader used for observer connections. Displays
// and readers are served from arbitrary origins on the local network.
func NewUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// WSObserver is a websocket connection registered as an observer. Outbound
// frames go through a bounded queue drained by one writer goroutine.
type WSObserver struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	registry *Registry
	ingestor ScanIngestor
	cfg      config.RealtimeConfig
	logger   *zap.Logger
}

var _ Observer = (*WSObserver)(nil)

func NewWSObserver(conn *websocket.Conn, registry *Registry, ingestor ScanIngestor, cfg config.RealtimeConfig, logger *zap.Logger) *WSObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	id := uuid.NewString()
	return &WSObserver{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, cfg.SendQueueSize),
		done:     make(chan struct{}),
		registry: registry,
		ingestor: ingestor,
		cfg:      cfg,
		logger:   logger.With(zap.String("observer_id", id)),
	}
}

func (o *WSObserver) ID() string { return o.id }

func (o *WSObserver) Send(frame []byte) error {
	select {
	case <-o.done:
		return ErrObserverClosed
	default:
	}

	select {
	case o.send <- frame:
		return nil
	case <-o.done:
		return ErrObserverClosed
	default:
		return ErrQueueFull
	}
}

func (o *WSObserver) Close() {
	o.once.Do(func() {
		close(o.done)
	})
}

// Run registers the observer and serves the connection until either side
// fails or the observer is closed. It blocks.
func (o *WSObserver) Run(ctx context.Context) {
	o.registry.Register(o)
	o.logger.Info("Observer connected", zap.Int("observers", o.registry.Len()))

	go o.writePump()
	o.readPump(ctx)
}

func (o *WSObserver) shutdown() {
	o.registry.Unregister(o)
	o.Close()
}

func (o *WSObserver) readPump(ctx context.Context) {
	defer o.shutdown()

	if o.cfg.MaxMessageSize > 0 {
		o.conn.SetReadLimit(o.cfg.MaxMessageSize)
	}
	o.extendReadDeadline()
	o.conn.SetPongHandler(func(string) error {
		o.extendReadDeadline()
		return nil
	})

	for {
		msgType, data, err := o.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				o.logger.Warn("Observer read failed", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		o.handleFrame(ctx, data)
	}
}

type inboundFrame struct {
	Type models.EventType `json:"type"`
	Data models.ScanData  `json:"data"`
}

// handleFrame ingests scan frames. Everything else is dropped.
func (o *WSObserver) handleFrame(ctx context.Context, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		o.logger.Debug("Dropped malformed frame", zap.Error(err))
		return
	}
	cardID := strings.TrimSpace(frame.Data.CardID)
	if frame.Type != models.EventTypeScan || cardID == "" {
		o.logger.Debug("Dropped frame", zap.String("type", string(frame.Type)))
		return
	}
	if o.ingestor == nil {
		return
	}
	if err := o.ingestor.Touch(ctx, cardID); err != nil {
		o.logger.Error("Failed to ingest scan", zap.String("card_id", cardID), zap.Error(err))
	}
}

func (o *WSObserver) writePump() {
	ticker := time.NewTicker(o.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		o.conn.Close()
		o.logger.Info("Observer disconnected")
	}()

	for {
		select {
		case frame := <-o.send:
			if err := o.write(websocket.TextMessage, frame); err != nil {
				o.logger.Warn("Observer write failed", zap.Error(err))
				o.shutdown()
				return
			}
		case <-ticker.C:
			if err := o.write(websocket.PingMessage, nil); err != nil {
				o.shutdown()
				return
			}
		case <-o.done:
			_ = o.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (o *WSObserver) write(messageType int, data []byte) error {
	if err := o.conn.SetWriteDeadline(time.Now().Add(o.cfg.WriteTimeout)); err != nil {
		return err
	}
	return o.conn.WriteMessage(messageType, data)
}

func (o *WSObserver) extendReadDeadline() {
	if o.cfg.PongWait > 0 {
		_ = o.conn.SetReadDeadline(time.Now().Add(o.cfg.PongWait))
	}
}
