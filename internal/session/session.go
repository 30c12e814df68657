// Package session implements ingress: a per-player duplex websocket
// session that binds an authenticated identity to a match cell and bridges
// input/snapshot/event traffic to the owning internal/match.Match. Auth
// and input throttling use golang-jwt/jwt/v5 and golang.org/x/time/rate.
package session

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/rawblock/wagerarena/internal/match"
	"github.com/rawblock/wagerarena/internal/physics"
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // every origin is accepted; the router installs no CORS or origin-checking middleware
	},
}

// Claims are the JWT claims a session's AUTH token must carry.
type Claims struct {
	AccountID string `json:"account_id"`
	MatchID   string `json:"match_id"`
	jwt.RegisteredClaims
}

// inbound/outbound are the websocket message envelopes.
type inbound struct {
	Kind  string          `json:"kind"`
	Token string          `json:"token,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type inputPayload struct {
	Seq  uint64 `json:"seq"`
	Axes struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"axes"`
	Boost bool  `json:"boost"`
	TS    int64 `json:"ts"`
}

type outbound struct {
	Kind  string      `json:"kind"`
	Data  interface{} `json:"data,omitempty"`
}

// MemberLookup resolves an authenticated account to its cell within a match.
type MemberLookup interface {
	CellFor(matchID, accountID string) (cellID int, ok bool)
}

// Session is one player's duplex connection to a running match.
type Session struct {
	conn      *websocket.Conn
	sim       *match.Match
	members   MemberLookup
	secret    []byte
	matchID   string

	authenticated bool
	accountID     string
	cellID        int

	limiter *rate.Limiter
}

// New constructs a Session bound to sim. secret verifies AUTH tokens;
// tickRate bounds the input rate to the simulation's tick rate (extra
// inputs coalesce at the Match, but the limiter keeps a hostile client
// from flooding the channel).
func New(conn *websocket.Conn, sim *match.Match, members MemberLookup, matchID string, secret []byte, tickRate int) *Session {
	return &Session{
		conn:    conn,
		sim:     sim,
		members: members,
		matchID: matchID,
		secret:  secret,
		limiter: rate.NewLimiter(rate.Limit(tickRate), tickRate),
	}
}

var errUnauthenticated = errors.New("session not authenticated")

// Run drives the inbound read loop until the connection closes. It never
// blocks past a single message read, so a slow/hostile client only stalls
// its own session, not the Match's tick loop.
func (s *Session) Run() {
	defer s.conn.Close()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("session read error: %v", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue // malformed frame: drop, don't tear down the socket
		}

		switch msg.Kind {
		case "AUTH":
			if err := s.authenticate(msg.Token); err != nil {
				log.Printf("session auth rejected: %v", err)
				return
			}
		case "INPUT":
			if err := s.handleInput(msg.Input); err != nil {
				log.Printf("session input dropped: %v", err)
			}
		default:
			// the session drops any non-AUTH message until authenticated,
			// and silently ignores unrecognized kinds thereafter.
		}
	}
}

func (s *Session) authenticate(tokenStr string) error {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return errors.New("invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return errors.New("invalid claims")
	}
	if claims.MatchID != s.matchID {
		return errors.New("token not scoped to this match")
	}
	cellID, ok := s.members.CellFor(s.matchID, claims.AccountID)
	if !ok {
		return errors.New("account is not a confirmed member of this match")
	}

	s.authenticated = true
	s.accountID = claims.AccountID
	s.cellID = cellID
	return nil
}

func (s *Session) handleInput(raw json.RawMessage) error {
	if !s.authenticated {
		return errUnauthenticated
	}
	if !s.limiter.Allow() {
		return nil // rate-limited: coalesce by dropping, the Match already keeps only the latest
	}

	var p inputPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	axes := physics.Vec2{X: p.Axes.X, Y: p.Axes.Y}
	if axes.Len() > 1 {
		return errors.New("axes length exceeds 1")
	}

	select {
	case s.sim.Inputs() <- match.Input{CellID: s.cellID, Axes: axes, Boost: p.Boost, ClientSeq: p.Seq, ClientTS: p.TS}:
	default:
		// Match's input channel is bounded; a full channel means the owner
		// goroutine is behind, and the next tick will pick up where it can.
	}
	return nil
}

// WriteSnapshot sends a pre-compressed SNAPSHOT frame as-is (the Match
// already LZ4-compresses it); wrapping happens at the envelope level only.
func (s *Session) WriteSnapshot(compressed []byte) error {
	return s.writeDeadline(func() error {
		return s.conn.WriteMessage(websocket.BinaryMessage, compressed)
	})
}

// WriteEvent sends an EVENT{} envelope.
func (s *Session) WriteEvent(ev match.Event) error {
	return s.writeJSON(outbound{Kind: "EVENT", Data: ev})
}

// Result is the RESULT{} outbound payload; seed/nonce are populated by the
// caller only once the match has actually transitioned to completed.
type Result struct {
	Placements interface{} `json:"placements"`
	Seed       string      `json:"seed"`
	Nonce      string      `json:"nonce"`
	Commit     string      `json:"commit"`
}

// WriteResult sends the terminal RESULT{} envelope. Callers MUST NOT call
// this before the match row has transitioned to completed — seed/nonce
// must never leak mid-match.
func (s *Session) WriteResult(r Result) error {
	return s.writeJSON(outbound{Kind: "RESULT", Data: r})
}

func (s *Session) writeJSON(v interface{}) error {
	return s.writeDeadline(func() error {
		return s.conn.WriteJSON(v)
	})
}

func (s *Session) writeDeadline(fn func() error) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return fn()
}
