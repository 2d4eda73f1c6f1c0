package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/npezzotti/go-chatroom-client/internal/session"
	"github.com/npezzotti/go-chatroom-client/internal/stats"
	"github.com/npezzotti/go-chatroom-client/internal/testserver"
	"github.com/npezzotti/go-chatroom-client/internal/testutil"
	"github.com/npezzotti/go-chatroom-client/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCreds string

func (s staticCreds) Credential() (string, bool) {
	return string(s), s != ""
}

func newClient(t *testing.T, rawURL string, creds CredentialSource) (*Client, *stats.MockStatsUpdater) {
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	st := stats.NewMockStatsUpdater()
	return NewClient(u, creds, testutil.TestLogger(t), st), st
}

func TestClient_Headers(t *testing.T) {
	var got http.Header
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotPath = r.URL.Path
		w.Write([]byte(`{"username":"alice"}`))
	}))
	defer ts.Close()

	c, _ := newClient(t, ts.URL+"/base", staticCreds("tok"))
	username, err := c.CurrentUser(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "alice", username)
	assert.Equal(t, "/base/current-user", gotPath)
	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.NotEmpty(t, got.Get(requestIdHeader))
}

func TestClient_NoCredential(t *testing.T) {
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	c, _ := newClient(t, ts.URL, staticCreds(""))
	require.NoError(t, c.Register(context.Background(), "alice", "pw"))
	assert.Empty(t, auth)
}

func TestClient_Errors(t *testing.T) {
	tcases := []struct {
		name            string
		status          int
		body            string
		expectedMessage string
		unauthorized    bool
	}{
		{name: "message field", status: http.StatusConflict, body: `{"message":"username taken"}`, expectedMessage: "username taken"},
		{name: "error field", status: http.StatusBadRequest, body: `{"error":"bad input"}`, expectedMessage: "bad input"},
		{name: "no body", status: http.StatusInternalServerError, body: "", expectedMessage: "internal server error"},
		{name: "html body", status: http.StatusBadGateway, body: "<html></html>", expectedMessage: "bad gateway"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"message":"unauthorized"}`, expectedMessage: "unauthorized", unauthorized: true},
		{name: "forbidden", status: http.StatusForbidden, body: "", expectedMessage: "forbidden", unauthorized: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer ts.Close()

			c, st := newClient(t, ts.URL, staticCreds("tok"))
			err := c.DeleteMessage(context.Background(), 1)
			require.Error(t, err)

			var apiErr *ApiError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.status, apiErr.StatusCode)
			assert.Equal(t, tc.expectedMessage, apiErr.Message)
			assert.Equal(t, tc.status, StatusCode(err))
			assert.Equal(t, tc.unauthorized, IsUnauthorized(err))
			st.AssertCalled(t, "Incr", MetricRestErrors)
		})
	}
}

func TestClient_TransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()

	c, _ := newClient(t, ts.URL, staticCreds("tok"))
	_, err := c.Messages(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, 0, StatusCode(err))
	assert.False(t, IsUnauthorized(err))
}

func TestClient_AgainstBackend(t *testing.T) {
	srv, ts := testserver.Start(t, testutil.TestLogger(t))
	sess := session.NewMemoryStore(testutil.TestLogger(t))

	c, _ := newClient(t, ts.URL, sess)
	ctx := context.Background()

	require.NoError(t, c.Register(ctx, "alice", "pw"))
	assert.Equal(t, http.StatusConflict, StatusCode(c.Register(ctx, "alice", "pw")))

	_, err := c.Login(ctx, "alice", "wrong")
	assert.True(t, IsUnauthorized(err))

	token, err := c.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	require.NoError(t, sess.Save(token, ""))

	username, err := c.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	msgs, err := c.Messages(ctx, 1)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)

	sent, err := c.SendMessage(ctx, "hi", 1)
	require.NoError(t, err)
	assert.Equal(t, "hi", sent.Content)

	require.NoError(t, c.EditMessage(ctx, sent.Id, "hi!"))
	require.NoError(t, c.AddReaction(ctx, sent.Id, "🎉"))

	msgs, err = c.Messages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi!", msgs[0].Content)
	assert.Equal(t, []types.Reaction{{UserId: "1", Emoji: "🎉"}}, msgs[0].Reactions)

	require.NoError(t, c.DeleteMessage(ctx, sent.Id))
	assert.Empty(t, srv.Messages(1))

	reply, err := c.AskAI(ctx, "weather?")
	require.NoError(t, err)
	assert.Equal(t, "You said: weather?", reply)
}

func TestClient_ExpiredCredentialNotSent(t *testing.T) {
	srv, ts := testserver.Start(t, testutil.TestLogger(t))
	require.NoError(t, srv.AddUser("alice", "pw"))
	token, err := srv.IssueToken("alice", -time.Minute)
	require.NoError(t, err)

	sess := session.NewMemoryStore(testutil.TestLogger(t))
	require.NoError(t, sess.Save(token, "alice"))

	c, _ := newClient(t, ts.URL, sess)
	_, err = c.CurrentUser(context.Background())
	assert.True(t, IsUnauthorized(err))
}
