package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Константы для типов сообщений WebSocket
const (
	MissionUpdateType       = "MISSION_UPDATE"
	MissionStatusUpdateType = "MISSION_STATUS_UPDATE"
	PositionAckType         = "POSITION_ACK"
	ErrorType               = "ERROR"
	PongType                = "pong"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4096
)

// WebSocketMessage представляет формат сообщения WebSocket
type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// incomingMessage сообщение от клиента
type incomingMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Настройка для обновления WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Разрешаем подключения с любых источников
	},
}

// Client клиентское соединение WebSocket
type Client struct {
	conn     *websocket.Conn
	userID   string
	clientID string

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func newClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		conn:     conn,
		userID:   userID,
		clientID: uuid.NewString(),
		done:     make(chan struct{}),
	}
}

// Send отправляет сообщение клиенту. Запись в соединение сериализуется.
func (c *Client) Send(message *WebSocketMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) sendError(text string) {
	if err := c.Send(&WebSocketMessage{Type: ErrorType, Payload: map[string]string{"error": text}}); err != nil {
		log.WithField("client_id", c.clientID).WithError(err).Debug("Не удалось отправить ошибку клиенту")
	}
}

func (c *Client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close закрывает соединение. Повторный вызов безопасен.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		c.conn.Close()
	})
}

// keepAlive периодически пингует клиента, пока соединение открыто
func (c *Client) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				log.WithField("client_id", c.clientID).WithError(err).Debug("Пинг не доставлен, закрываем соединение")
				c.Close()
				return
			}
		}
	}
}

// readLoop читает сообщения клиента до ошибки или закрытия. На ping отвечает pong,
// остальные сообщения передает в handle.
func (c *Client) readLoop(handle func(msg incomingMessage)) {
	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithField("client_id", c.clientID).WithError(err).Warn("Ошибка при чтении сообщения от клиента")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg incomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("некорректный JSON")
			continue
		}

		if msg.Type == "ping" {
			if err := c.Send(&WebSocketMessage{Type: PongType, Payload: map[string]int64{"time": time.Now().Unix()}}); err != nil {
				log.WithField("client_id", c.clientID).WithError(err).Debug("Ошибка при отправке pong")
			}
			continue
		}
		if handle != nil {
			handle(msg)
		}
	}
}

// Manager управляет всеми подключениями WebSocket
type Manager struct {
	clients       map[*Client]bool
	clientsByUser map[string]map[*Client]bool
	register      chan *Client
	unregister    chan *Client
	stop          chan struct{}
	stopped       chan struct{}
	mutex         sync.RWMutex
}

// NewManager создает новый менеджер WebSocket
func NewManager() *Manager {
	return &Manager{
		clients:       make(map[*Client]bool),
		clientsByUser: make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// Start запускает обработку регистраций
func (manager *Manager) Start() {
	log.Info("Запуск WebSocket Manager")
	go func() {
		defer close(manager.stopped)
		for {
			select {
			case client := <-manager.register:
				manager.mutex.Lock()
				manager.clients[client] = true
				if client.userID != "" {
					if _, ok := manager.clientsByUser[client.userID]; !ok {
						manager.clientsByUser[client.userID] = make(map[*Client]bool)
					}
					manager.clientsByUser[client.userID][client] = true
				}
				manager.mutex.Unlock()
				log.WithFields(log.Fields{"client_id": client.clientID, "user_id": client.userID}).Debug("Клиент зарегистрирован")

			case client := <-manager.unregister:
				manager.remove(client)

			case <-manager.stop:
				return
			}
		}
	}()
}

func (manager *Manager) remove(client *Client) {
	manager.mutex.Lock()
	if _, ok := manager.clients[client]; ok {
		delete(manager.clients, client)
		if group, ok := manager.clientsByUser[client.userID]; ok {
			delete(group, client)
			if len(group) == 0 {
				delete(manager.clientsByUser, client.userID)
			}
		}
	}
	manager.mutex.Unlock()
	client.Close()
	log.WithFields(log.Fields{"client_id": client.clientID, "user_id": client.userID}).Debug("Клиент отключен")
}

func (manager *Manager) add(client *Client) bool {
	select {
	case manager.register <- client:
		return true
	case <-manager.stop:
		return false
	}
}

func (manager *Manager) drop(client *Client) {
	select {
	case manager.unregister <- client:
	case <-manager.stop:
		client.Close()
	}
}

// BroadcastToUser отправляет сообщение всем подключениям пользователя
func (manager *Manager) BroadcastToUser(userID string, message *WebSocketMessage) {
	manager.mutex.RLock()
	targets := make([]*Client, 0, len(manager.clientsByUser[userID]))
	for client := range manager.clientsByUser[userID] {
		targets = append(targets, client)
	}
	manager.mutex.RUnlock()

	for _, client := range targets {
		if err := client.Send(message); err != nil {
			log.WithField("user_id", userID).WithError(err).Debug("Не удалось отправить сообщение, отключаем клиента")
			go manager.drop(client)
		}
	}
}

// Connections количество открытых соединений
func (manager *Manager) Connections() int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()
	return len(manager.clients)
}

// Close закрывает все соединения и останавливает менеджер
func (manager *Manager) Close() {
	select {
	case <-manager.stop:
		return
	default:
	}
	close(manager.stop)

	manager.mutex.Lock()
	all := make([]*Client, 0, len(manager.clients))
	for client := range manager.clients {
		all = append(all, client)
	}
	manager.clients = make(map[*Client]bool)
	manager.clientsByUser = make(map[string]map[*Client]bool)
	manager.mutex.Unlock()

	for _, client := range all {
		client.Close()
	}
	log.WithField("connections", len(all)).Info("WebSocket Manager остановлен")
}
