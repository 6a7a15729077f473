// Package presence — realtime-хаб занятий: комнаты, сигналинг WebRTC
// (offer/answer/ice-candidate) и производные записи посещаемости.
//
// Комната — эмерджентная группировка подключений с общим room_id, без
// собственного объекта жизненного цикла: она «заканчивается», когда пустеет
// или когда тренер шлёт end-class. Таблица connection→RoomSession принадлежит
// только хабу и закрыта мьютексом: события разных подключений обрабатываются
// в разных горутинах.
package presence

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stms/internal/logger"
	"github.com/stms/internal/middleware"
	"github.com/stms/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 65536

	sinkTimeout = 5 * time.Second
)

// AttendanceSink принимает событие посещаемости. Реализация обязана быть
// идемпотентной по (room_id, user_id) — upsert, не insert.
type AttendanceSink interface {
	RecordAttendance(ctx context.Context, ev model.AttendanceEvent) error
}

// LectureStatusSink помечает занятие завершённым при end-class.
type LectureStatusSink interface {
	MarkCompleted(ctx context.Context, lectureID string) error
}

// CacheInvalidator сбрасывает группу кеша, затронутую завершением занятия.
type CacheInvalidator interface {
	InvalidateGroup(ctx context.Context, group string) error
}

// AuthorizationGate проверяет право пользователя войти в комнату курса.
// nil — вход разрешён всем аутентифицированным (проверка прав — зона
// внешнего коллаборатора, хаб её не дублирует).
type AuthorizationGate func(ctx context.Context, userID, roomID, courseID string) error

// Hub — хаб присутствия. Владеет таблицей RoomSession и индексом комнат.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*conn              // connection_id -> подключение
	sessions map[string]*model.RoomSession // connection_id -> сессия комнаты
	rooms    map[string]map[string]*conn   // room_id -> connection_id -> подключение

	attendance AttendanceSink
	lectures   LectureStatusSink
	cache      CacheInvalidator
	authorize  AuthorizationGate

	// lectureCacheGroup — группа кеша, инвалидируемая на end-class.
	lectureCacheGroup string
	// minAttendance — порог длительности для авто-посещаемости (0 — фиксировать всегда).
	minAttendance time.Duration

	now func() time.Time
}

// Option настраивает хаб при создании.
type Option func(*Hub)

// WithAuthorizationGate включает проверку права входа в комнату перед join.
func WithAuthorizationGate(gate AuthorizationGate) Option {
	return func(h *Hub) { h.authorize = gate }
}

// WithMinAttendance задаёт минимальную длительность подключения, с которой
// фиксируется посещаемость.
func WithMinAttendance(d time.Duration) Option {
	return func(h *Hub) { h.minAttendance = d }
}

// withClock подменяет часы (тесты).
func withClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func NewHub(attendance AttendanceSink, lectures LectureStatusSink, cache CacheInvalidator, lectureCacheGroup string, opts ...Option) *Hub {
	h := &Hub{
		conns:             make(map[string]*conn),
		sessions:          make(map[string]*model.RoomSession),
		rooms:             make(map[string]map[string]*conn),
		attendance:        attendance,
		lectures:          lectures,
		cache:             cache,
		lectureCacheGroup: lectureCacheGroup,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type conn struct {
	id     string
	userID string // из контекста авторизации, join-room не может его подменить
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	hub    *Hub
}

// ServeWS апгрейдит запрос до WebSocket. Аутентификация уже пройдена
// (middleware.Auth), user_id берётся из контекста.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		middleware.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("presence upgrade: %v", err)
		return
	}

	c := &conn{
		id:     uuid.New().String(),
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, 64),
		done:   make(chan struct{}),
		hub:    h,
	}
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	logger.Infof("presence connected connection_id=%s", c.id)

	go c.writePump()
	c.readPump()
}

func (c *conn) close() {
	select {
	case <-c.done:
		return
	default:
		close(c.done)
		c.ws.Close()
	}
}

func (c *conn) sendMsg(typ string, payload any) {
	select {
	case <-c.done:
		return
	default:
		b, _ := json.Marshal(map[string]any{"type": typ, "payload": payload})
		select {
		case c.send <- b:
		default:
			// Переполненный буфер — сообщение теряется; доставка и так не гарантируется.
		}
	}
}

// sendRaw — для relay: payload пересылается байт-в-байт, без переупаковки.
func (c *conn) sendRaw(typ string, payload json.RawMessage) {
	select {
	case <-c.done:
		return
	default:
		b, _ := json.Marshal(struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}{Type: typ, Payload: payload})
		select {
		case c.send <- b:
		default:
		}
	}
}

func (c *conn) readPump() {
	defer func() {
		c.hub.onDisconnect(c)
	}()
	c.ws.SetReadLimit(maxMsgSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendMsg("error", map[string]string{"error": "invalid json"})
			continue
		}
		c.hub.handleMessage(c, msg.Type, msg.Payload)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case b, ok := <-c.send:
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) handleMessage(c *conn, typ string, payload json.RawMessage) {
	switch typ {
	case "join-room":
		var body struct {
			RoomID   string `json:"room_id"`
			UserName string `json:"user_name"`
			CourseID string `json:"course_id"`
		}
		if json.Unmarshal(payload, &body) != nil || body.RoomID == "" {
			c.sendMsg("error", map[string]string{"error": "room_id required"})
			return
		}
		h.onJoin(c, body.RoomID, body.UserName, body.CourseID)

	case "offer", "answer", "ice-candidate":
		var body struct {
			Target string `json:"target"`
		}
		if json.Unmarshal(payload, &body) != nil || body.Target == "" {
			c.sendMsg("error", map[string]string{"error": "target required"})
			return
		}
		h.relay(c, typ, body.Target, payload)

	case "end-class":
		var body struct {
			RoomID string `json:"room_id"`
		}
		if json.Unmarshal(payload, &body) != nil || body.RoomID == "" {
			c.sendMsg("error", map[string]string{"error": "room_id required"})
			return
		}
		h.onRoomEnd(body.RoomID)

	default:
		c.sendMsg("error", map[string]string{"error": "unknown type: " + typ})
	}
}

// onJoin регистрирует RoomSession и сообщает остальным в комнате о новом участнике.
func (h *Hub) onJoin(c *conn, roomID, userName, courseID string) {
	if h.authorize != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := h.authorize(ctx, c.userID, roomID, courseID)
		cancel()
		if err != nil {
			c.sendMsg("error", map[string]string{"error": "not allowed to join room"})
			return
		}
	}

	h.mu.Lock()
	// Повторный join того же подключения — переезд: убираем из прежней комнаты.
	if prev, ok := h.sessions[c.id]; ok {
		h.removeFromRoomLocked(prev.RoomID, c.id)
	}
	h.sessions[c.id] = &model.RoomSession{
		ConnectionID: c.id,
		UserID:       c.userID,
		UserName:     userName,
		RoomID:       roomID,
		CourseID:     courseID,
		JoinedAt:     h.now(),
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*conn)
	}
	h.rooms[roomID][c.id] = c
	peers := h.roomPeersLocked(roomID, c.id)
	h.mu.Unlock()

	for _, p := range peers {
		p.sendMsg("user-connected", map[string]string{"user_id": c.userID, "user_name": userName})
	}
	logger.Infof("presence join room_id=%s user_id=%s connection_id=%s", roomID, middleware.MaskID(c.userID), c.id)
}

// relay пересылает сигналинговое сообщение ровно одному адресату: по
// connection_id, либо по user_id внутри комнаты отправителя. Неизвестный
// адресат молча отбрасывается — доставка не обещана.
func (h *Hub) relay(c *conn, typ, target string, payload json.RawMessage) {
	h.mu.RLock()
	dst := h.conns[target]
	if dst == nil {
		if sess, ok := h.sessions[c.id]; ok {
			for id, peer := range h.rooms[sess.RoomID] {
				if ps, ok := h.sessions[id]; ok && ps.UserID == target {
					dst = peer
					break
				}
			}
		}
	}
	h.mu.RUnlock()
	if dst == nil || dst == c {
		return
	}
	dst.sendRaw(typ, payload)
}

// onRoomEnd рассылает class-ended всем в комнате, best-effort помечает занятие
// завершённым и сбрасывает группу кеша. Отказ персистенции или кеша логируется
// и не мешает уведомлению клиентов.
func (h *Hub) onRoomEnd(roomID string) {
	h.mu.RLock()
	members := make([]*conn, 0, len(h.rooms[roomID]))
	for _, m := range h.rooms[roomID] {
		members = append(members, m)
	}
	h.mu.RUnlock()

	for _, m := range members {
		m.sendMsg("class-ended", map[string]string{"room_id": roomID})
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if h.lectures != nil {
		if err := h.lectures.MarkCompleted(ctx, roomID); err != nil {
			logger.Errorf("presence end-class mark completed room_id=%s: %v", roomID, err)
		}
	}
	if h.cache != nil && h.lectureCacheGroup != "" {
		if err := h.cache.InvalidateGroup(ctx, h.lectureCacheGroup); err != nil {
			logger.Errorf("presence end-class invalidate cache room_id=%s: %v", roomID, err)
		}
	}
	logger.Infof("presence end-class room_id=%s members=%d", roomID, len(members))
}

// onDisconnect снимает подключение с учёта и производит запись посещаемости.
// RoomSession удаляется из таблицы до эмиссии события — повторный сигнал
// disconnect по тому же подключению становится no-op (at-most-once).
func (h *Hub) onDisconnect(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	sess, ok := h.sessions[c.id]
	if ok {
		delete(h.sessions, c.id)
		h.removeFromRoomLocked(sess.RoomID, c.id)
	}
	var peers []*conn
	if ok {
		peers = h.roomPeersLocked(sess.RoomID, c.id)
	}
	h.mu.Unlock()
	c.close()

	if !ok {
		return
	}

	for _, p := range peers {
		p.sendMsg("user-disconnected", map[string]string{"user_id": sess.UserID})
	}

	now := h.now()
	elapsed := now.Sub(sess.JoinedAt)
	minutes := int(math.Round(elapsed.Minutes()))
	logger.Infof("presence disconnect room_id=%s user_id=%s duration_min=%d", sess.RoomID, middleware.MaskID(sess.UserID), minutes)

	if elapsed < h.minAttendance || h.attendance == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	ev := model.AttendanceEvent{
		RoomID:          sess.RoomID,
		CourseID:        sess.CourseID,
		UserID:          sess.UserID,
		Status:          model.AttendanceStatusPresent,
		DurationMinutes: minutes,
		ObservedAt:      now,
	}
	if err := h.attendance.RecordAttendance(ctx, ev); err != nil {
		// Посещаемость — побочная best-effort запись: исход для клиента от неё не зависит.
		logger.Errorf("presence attendance room_id=%s user_id=%s: %v", sess.RoomID, middleware.MaskID(sess.UserID), err)
	}
}

func (h *Hub) removeFromRoomLocked(roomID, connID string) {
	if room, ok := h.rooms[roomID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func (h *Hub) roomPeersLocked(roomID, exceptConnID string) []*conn {
	room := h.rooms[roomID]
	peers := make([]*conn, 0, len(room))
	for id, p := range room {
		if id != exceptConnID {
			peers = append(peers, p)
		}
	}
	return peers
}

// RoomSize возвращает число подключений в комнате (наблюдаемость и тесты).
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
