package testserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-chatroom-client/internal/testutil"
	"github.com/npezzotti/go-chatroom-client/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRequest(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func newTestServer(t *testing.T) (*Server, http.Handler) {
	s := NewServer(testutil.TestLogger(t), TestSigningKey)
	return s, s.Handler()
}

func TestRegisterAndLogin(t *testing.T) {
	_, h := newTestServer(t)

	rr := doRequest(t, h, http.MethodPost, "/register", "", `{"username":"alice","password":"pw"}`)
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = doRequest(t, h, http.MethodPost, "/register", "", `{"username":"alice","password":"pw"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doRequest(t, h, http.MethodPost, "/login", "", `{"username":"alice","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doRequest(t, h, http.MethodPost, "/login", "", `{"username":"alice","password":"pw"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.NotEmpty(t, resp["token"])

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(resp["token"], claims, func(*jwt.Token) (any, error) {
		return TestSigningKey, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", claims[usernameClaim])
}

func TestAuthMiddleware(t *testing.T) {
	s, h := newTestServer(t)
	require.NoError(t, s.AddUser("alice", "pw"))
	valid, err := s.IssueToken("alice", time.Hour)
	require.NoError(t, err)
	expired, err := s.IssueToken("alice", -time.Hour)
	require.NoError(t, err)

	tcases := []struct {
		name         string
		token        string
		expectedCode int
	}{
		{name: "no token", token: "", expectedCode: http.StatusUnauthorized},
		{name: "garbage", token: "abc", expectedCode: http.StatusUnauthorized},
		{name: "expired", token: expired, expectedCode: http.StatusUnauthorized},
		{name: "valid", token: valid, expectedCode: http.StatusOK},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, h, http.MethodGet, "/current-user", tc.token, "")
			assert.Equal(t, tc.expectedCode, rr.Code)
		})
	}
}

func TestMessageLifecycle(t *testing.T) {
	s, h := newTestServer(t)
	require.NoError(t, s.AddUser("alice", "pw"))
	require.NoError(t, s.AddUser("bob", "pw"))
	alice, _ := s.IssueToken("alice", time.Hour)
	bob, _ := s.IssueToken("bob", time.Hour)

	rr := doRequest(t, h, http.MethodPost, "/messages", alice, `{"content":"hi","roomId":1}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	var msg types.Message
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&msg))
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, types.RoomId(1), msg.RoomId)

	path := "/messages/" + msg.Id.String()

	rr = doRequest(t, h, http.MethodPut, path, bob, `{"content":"hijack"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = doRequest(t, h, http.MethodPut, path, alice, `{"content":"hi!"}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, h, http.MethodPost, path+"/reactions", bob, `{"emoji":"👍"}`)
	assert.Equal(t, http.StatusCreated, rr.Code)

	msgs := s.Messages(1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi!", msgs[0].Content)
	assert.Equal(t, []types.Reaction{{UserId: "2", Emoji: "👍"}}, msgs[0].Reactions)

	rr = doRequest(t, h, http.MethodDelete, path, bob, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = doRequest(t, h, http.MethodDelete, path, alice, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, s.Messages(1))

	rr = doRequest(t, h, http.MethodDelete, path, alice, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetMessages(t *testing.T) {
	s, h := newTestServer(t)
	require.NoError(t, s.AddUser("alice", "pw"))
	token, _ := s.IssueToken("alice", time.Hour)
	s.SeedMessage(1, "alice", "one")
	s.SeedMessage(2, "alice", "elsewhere")

	rr := doRequest(t, h, http.MethodGet, "/rooms/1/messages", token, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var msgs []types.Message
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "one", msgs[0].Content)

	rr = doRequest(t, h, http.MethodGet, "/rooms/abc/messages", token, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFail(t *testing.T) {
	s, h := newTestServer(t)
	s.Fail(http.MethodPost, "/login", http.StatusServiceUnavailable)

	rr := doRequest(t, h, http.MethodPost, "/login", "", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "injected failure")

	s.Fail(http.MethodPost, "/login", 0)
	rr = doRequest(t, h, http.MethodPost, "/login", "", `{"username":"x","password":"y"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAIChat(t *testing.T) {
	s, h := newTestServer(t)
	require.NoError(t, s.AddUser("alice", "pw"))
	token, _ := s.IssueToken("alice", time.Hour)

	rr := doRequest(t, h, http.MethodPost, "/api/chat", token, `{"message":"weather?"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"reply":"You said: weather?"}`, rr.Body.String())

	s.SetAIReply(func(string) (string, error) { return "", assert.AnError })
	rr = doRequest(t, h, http.MethodPost, "/api/chat", token, `{"message":"again"}`)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestCORS(t *testing.T) {
	s := NewServer(testutil.TestLogger(t), TestSigningKey)
	h := s.Handler("http://localhost:3000")

	req := httptest.NewRequest(http.MethodOptions, "/messages", bytes.NewReader(nil))
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}
