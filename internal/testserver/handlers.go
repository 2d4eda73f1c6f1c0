package testserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-chatroom-client/internal/realtime"
	"github.com/npezzotti/go-chatroom-client/internal/types"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const userKey contextKey = "user"

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createMessageRequest struct {
	Content string       `json:"content"`
	RoomId  types.RoomId `json:"roomId"`
}

type contentRequest struct {
	Content string `json:"content"`
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

type chatRequest struct {
	Message string `json:"message"`
}

func userFrom(ctx context.Context) (*user, bool) {
	u, ok := ctx.Value(userKey).(*user)
	return u, ok
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || tokenString == "" {
			s.writeError(w, http.StatusUnauthorized)
			return
		}

		token, err := s.verifyToken(tokenString)
		if err != nil {
			s.log.Debug().Err(err).Msg("failed to verify token")
			s.writeError(w, http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			s.writeError(w, http.StatusUnauthorized)
			return
		}
		username, _ := claims[usernameClaim].(string)

		s.mu.Lock()
		u, ok := s.users[username]
		s.mu.Unlock()
		if !ok {
			s.writeError(w, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, u)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest)
		return
	}

	if err := s.AddUser(req.Username, req.Password); err != nil {
		s.writeJson(w, http.StatusConflict, errorResponse{Message: "username taken"})
		return
	}

	s.writeJson(w, http.StatusCreated, map[string]string{"username": req.Username})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	u, ok := s.users[req.Username]
	exp := s.tokenExp
	s.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(req.Password)) != nil {
		s.writeJson(w, http.StatusUnauthorized, errorResponse{Message: "invalid username or password"})
		return
	}

	token, err := s.createJwtForSession(u, exp)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	s.writeJson(w, http.StatusOK, map[string]string{"username": u.username})
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	room, err := types.ParseRoomId(r.PathValue("roomId"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest)
		return
	}

	s.writeJson(w, http.StatusOK, s.Messages(room))
}

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())

	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Content) == "" || req.RoomId <= 0 {
		s.writeError(w, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	msg := s.storeMessageLocked(req.RoomId, u.username, req.Content)
	s.mu.Unlock()

	s.hub.broadcast(&msg.RoomId, realtime.EventMessage, msg)
	s.writeJson(w, http.StatusCreated, msg)
}

// findLocked returns the room and index of message id.
func (s *Server) findLocked(id types.MessageId) (types.RoomId, int, bool) {
	for room, msgs := range s.messages {
		for i, m := range msgs {
			if m.Id == id {
				return room, i, true
			}
		}
	}
	return 0, 0, false
}

func parseMessageId(r *http.Request) (types.MessageId, bool) {
	n, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return types.MessageId(n), true
}

func (s *Server) editMessage(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	id, ok := parseMessageId(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest)
		return
	}

	var req contentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		s.writeError(w, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	room, i, found := s.findLocked(id)
	if !found {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound)
		return
	}
	if s.messages[room][i].Username != u.username {
		s.mu.Unlock()
		s.writeError(w, http.StatusForbidden)
		return
	}
	s.messages[room][i].Content = req.Content
	s.mu.Unlock()

	// ids go out as strings here, as some servers do
	s.hub.broadcast(&room, realtime.EventMessageEdited, map[string]any{
		"messageId": id.String(),
		"content":   req.Content,
		"roomId":    room,
	})
	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	id, ok := parseMessageId(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	room, i, found := s.findLocked(id)
	if !found {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound)
		return
	}
	if s.messages[room][i].Username != u.username {
		s.mu.Unlock()
		s.writeError(w, http.StatusForbidden)
		return
	}
	s.messages[room] = append(s.messages[room][:i], s.messages[room][i+1:]...)
	s.mu.Unlock()

	s.hub.broadcast(&room, realtime.EventMessageDeleted, map[string]any{
		"messageId": id.String(),
		"roomId":    room,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addReaction(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	id, ok := parseMessageId(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest)
		return
	}

	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Emoji == "" {
		s.writeError(w, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	room, i, found := s.findLocked(id)
	if !found {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound)
		return
	}
	s.messages[room][i].Reactions = append(s.messages[room][i].Reactions, types.Reaction{
		UserId: types.UserId(strconv.Itoa(u.id)),
		Emoji:  req.Emoji,
	})
	s.mu.Unlock()

	s.hub.broadcast(&room, realtime.EventReaction, map[string]any{
		"messageId": id,
		"userId":    u.id,
		"emoji":     req.Emoji,
		"roomId":    room,
	})
	s.writeJson(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) aiChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	fn := s.aiReply
	s.mu.Unlock()

	reply, err := fn(req.Message)
	if err != nil {
		s.writeJson(w, http.StatusBadGateway, errorResponse{Message: err.Error()})
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"reply": reply})
}
