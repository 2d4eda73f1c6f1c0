// Package testserver is an in-memory chat backend speaking the same REST and
// websocket protocol as the production server. It backs integration tests
// and the local devserver; nothing is persisted.
package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatroom-client/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultExp = time.Hour * 24

	userIdClaim   = "user-id"
	usernameClaim = "username"
	expClaim      = "exp"

	AIUsername = "AI Assistant"
)

type user struct {
	id           int
	username     string
	passwordHash string
}

type failure struct {
	status  int
	message string
}

type Server struct {
	log        zerolog.Logger
	signingKey []byte
	hub        *hub

	mu        sync.Mutex
	users     map[string]*user
	messages  map[types.RoomId][]types.Message
	nextUser  int
	nextMsg   types.MessageId
	failures  map[string]failure
	aiReply   func(string) (string, error)
	tokenExp  time.Duration
	bcryptCst int
}

func NewServer(logger zerolog.Logger, signingKey []byte) *Server {
	return &Server{
		log:        logger,
		signingKey: signingKey,
		hub:        newHub(logger),
		users:      make(map[string]*user),
		messages:   make(map[types.RoomId][]types.Message),
		failures:   make(map[string]failure),
		aiReply: func(msg string) (string, error) {
			return "You said: " + msg, nil
		},
		tokenExp:  defaultExp,
		bcryptCst: bcrypt.MinCost,
	}
}

// Handler returns the routed backend wrapped in CORS and request logging.
func (s *Server) Handler(allowedOrigins ...string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", s.register)
	mux.HandleFunc("POST /login", s.login)
	mux.HandleFunc("GET /current-user", s.authMiddleware(s.currentUser))
	mux.HandleFunc("GET /rooms/{roomId}/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("POST /messages", s.authMiddleware(s.createMessage))
	mux.HandleFunc("PUT /messages/{id}", s.authMiddleware(s.editMessage))
	mux.HandleFunc("DELETE /messages/{id}", s.authMiddleware(s.deleteMessage))
	mux.HandleFunc("POST /messages/{id}/reactions", s.authMiddleware(s.addReaction))
	mux.HandleFunc("POST /api/chat", s.authMiddleware(s.aiChat))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	var h http.Handler = s.failureMiddleware(mux)
	if len(allowedOrigins) > 0 {
		h = handlers.CORS(
			handlers.MaxAge(3600),
			handlers.AllowedOrigins(allowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		)(h)
	}
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.log}))(h)
	return handlers.CombinedLoggingHandler(s.log, h)
}

type recoveryLogger struct {
	log zerolog.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.log.Error().Msg(fmt.Sprint(v...))
}

// Close disconnects every websocket client.
func (s *Server) Close() {
	s.hub.closeAll()
}

// AddUser registers an account directly.
func (s *Server) AddUser(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCst)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return fmt.Errorf("user %q exists", username)
	}
	s.nextUser++
	s.users[username] = &user{id: s.nextUser, username: username, passwordHash: string(hash)}
	return nil
}

// IssueToken signs a token for an existing user.
func (s *Server) IssueToken(username string, exp time.Duration) (string, error) {
	s.mu.Lock()
	u, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no user %q", username)
	}
	return s.createJwtForSession(u, exp)
}

// SeedMessage stores a message without broadcasting it.
func (s *Server) SeedMessage(room types.RoomId, username, content string) types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeMessageLocked(room, username, content)
}

// Emit sends a raw event to every connected client regardless of room.
func (s *Server) Emit(event string, data any) {
	s.hub.broadcast(nil, event, data)
}

// EmitToRoom sends a raw event to the clients joined to room.
func (s *Server) EmitToRoom(room types.RoomId, event string, data any) {
	s.hub.broadcast(&room, event, data)
}

// ChannelLog returns the join/leave frames received so far, in order,
// formatted as "<event>:<room>".
func (s *Server) ChannelLog() []string {
	return s.hub.channelLog()
}

// Members returns the number of connections joined to room.
func (s *Server) Members(room types.RoomId) int {
	return s.hub.members(room)
}

// Connections returns the number of open websocket connections.
func (s *Server) Connections() int {
	return s.hub.connections()
}

// Fail makes every request to method+path answer status until cleared with
// status 0.
func (s *Server) Fail(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	if status == 0 {
		delete(s.failures, key)
		return
	}
	s.failures[key] = failure{status: status, message: "injected failure"}
}

func (s *Server) SetAIReply(fn func(string) (string, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aiReply = fn
}

func (s *Server) Messages(room types.RoomId) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.messages[room]))
	for i, m := range s.messages[room] {
		out[i] = m.Clone()
	}
	return out
}

func (s *Server) storeMessageLocked(room types.RoomId, username, content string) types.Message {
	s.nextMsg++
	msg := types.Message{
		Id:        s.nextMsg,
		RoomId:    room,
		Username:  username,
		Content:   content,
		Reactions: []types.Reaction{},
	}
	s.messages[room] = append(s.messages[room], msg)
	return msg.Clone()
}

func (s *Server) failureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		f, ok := s.failures[r.Method+" "+r.URL.Path]
		s.mu.Unlock()
		if ok {
			s.writeJson(w, f.status, errorResponse{Message: f.message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, status int) {
	s.writeJson(w, status, errorResponse{Message: strings.ToLower(http.StatusText(status))})
}

func (s *Server) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *Server) createJwtForSession(u *user, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim:   u.id,
		usernameClaim: u.username,
		expClaim:      time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *Server) verifyToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return token, nil
}
