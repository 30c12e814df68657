package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/rawblock/wagerarena/internal/match"
)

func newUnlimitedLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 0)
}

type fakeMembers struct {
	cells map[string]int
}

func (f fakeMembers) CellFor(matchID, accountID string) (int, bool) {
	id, ok := f.cells[accountID]
	return id, ok
}

func signToken(t *testing.T, secret []byte, accountID, matchID string) string {
	t.Helper()
	claims := Claims{AccountID: accountID, MatchID: matchID}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(secret)
	require.NoError(t, err)
	return s
}

func newTestServer(t *testing.T, s **Session, secret []byte, members MemberLookup, matchID string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		sim := match.New("m1", "l1", strings.Repeat("00", 32), 1000, 500, nil, "commit")
		*s = New(conn, sim, members, matchID, secret, 30)
		go (*s).Run()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestAuthenticateAcceptsValidTokenScopedToMatch(t *testing.T) {
	secret := []byte("test-secret")
	members := fakeMembers{cells: map[string]int{"acct-1": 1}}
	var srvSession *Session
	srv := newTestServer(t, &srvSession, secret, members, "match-1")
	conn := dial(t, srv)

	token := signToken(t, secret, "acct-1", "match-1")
	require.NoError(t, conn.WriteJSON(map[string]string{"kind": "AUTH", "token": token}))

	time.Sleep(50 * time.Millisecond)
	require.NotNil(t, srvSession)
	assert.True(t, srvSession.authenticated)
	assert.Equal(t, "acct-1", srvSession.accountID)
	assert.Equal(t, 1, srvSession.cellID)
}

func TestAuthenticateRejectsWrongMatchScope(t *testing.T) {
	secret := []byte("test-secret")
	members := fakeMembers{cells: map[string]int{"acct-1": 1}}
	var srvSession *Session
	srv := newTestServer(t, &srvSession, secret, members, "match-1")
	conn := dial(t, srv)

	token := signToken(t, secret, "acct-1", "match-OTHER")
	require.NoError(t, conn.WriteJSON(map[string]string{"kind": "AUTH", "token": token}))

	time.Sleep(50 * time.Millisecond)
	require.NotNil(t, srvSession)
	assert.False(t, srvSession.authenticated)
}

func TestHandleInputRejectsOversizedAxes(t *testing.T) {
	s := &Session{authenticated: true, cellID: 1, limiter: newUnlimitedLimiter()}
	raw, _ := json.Marshal(map[string]interface{}{"seq": 1, "axes": map[string]float64{"x": 2, "y": 2}, "boost": false, "ts": 0})
	err := s.handleInput(raw)
	assert.Error(t, err)
}

func TestHandleInputRejectsWhenUnauthenticated(t *testing.T) {
	s := &Session{authenticated: false}
	raw, _ := json.Marshal(map[string]interface{}{"seq": 1, "axes": map[string]float64{"x": 0, "y": 0}})
	err := s.handleInput(raw)
	assert.ErrorIs(t, err, errUnauthenticated)
}

func TestHandleInputForwardsValidInputToMatch(t *testing.T) {
	sim := match.New("m1", "l1", strings.Repeat("00", 32), 1000, 500,
		[]match.Member{{AccountID: "a1", CellID: 1, Team: 0}}, "commit")
	s := &Session{authenticated: true, cellID: 1, sim: sim, limiter: newUnlimitedLimiter()}

	raw, _ := json.Marshal(map[string]interface{}{"seq": 1, "axes": map[string]float64{"x": 0.5, "y": 0}, "boost": true, "ts": 123})
	require.NoError(t, s.handleInput(raw))

	select {
	case in := <-sim.Inputs():
		assert.Equal(t, 1, in.CellID)
		assert.Equal(t, 0.5, in.Axes.X)
		assert.True(t, in.Boost)
	default:
		t.Fatal("expected input to be forwarded to the match")
	}
}
