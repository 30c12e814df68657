package api

import (
	"context"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawblock/wagerarena/internal/apperr"
	"github.com/rawblock/wagerarena/internal/ledger"
	"github.com/rawblock/wagerarena/internal/lifecycle"
	"github.com/rawblock/wagerarena/internal/match"
	"github.com/rawblock/wagerarena/internal/provenance"
	"github.com/rawblock/wagerarena/pkg/models"
)

// Handler holds every collaborator the HTTP/WS surface needs. It never
// touches wallet rows or simulation state directly — every handler is a
// thin adapter onto internal/lifecycle, internal/ledger and
// internal/session.
type Handler struct {
	controller *lifecycle.Controller
	ledgerStore *ledger.Store
	lobbyStore *ledger.LobbyStore
	jwtSecret  []byte
	tickRate   int
	mapRadius  float64
}

// SetupRouter builds the gin engine: public health/verify routes,
// bearer-JWT-protected lobby and account-history routes, and the websocket
// upgrade.
func SetupRouter(controller *lifecycle.Controller, ledgerStore *ledger.Store, lobbyStore *ledger.LobbyStore, jwtSecret []byte, tickRate int, mapRadius float64) *gin.Engine {
	r := gin.Default()

	h := &Handler{
		controller:  controller,
		ledgerStore: ledgerStore,
		lobbyStore:  lobbyStore,
		jwtSecret:   jwtSecret,
		tickRate:    tickRate,
		mapRadius:   mapRadius,
	}

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", h.handleHealth)
		pub.GET("/verify/:match_id", h.handleVerify)
		pub.GET("/ws/:match_id", h.handleWebSocket)
	}

	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware(jwtSecret))
	auth.Use(NewRateLimiter(60, 10).Middleware())
	{
		auth.POST("/lobby", h.handleCreateLobby)
		auth.POST("/lobby/:id/join", h.handleJoinLobby)
		auth.POST("/lobby/:id/leave", h.handleLeaveLobby)
		auth.GET("/account/:id/history", h.handleAccountHistory)
	}

	return r
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "operational",
		"service":  "wagerarena-match-engine",
		"tickRate": h.tickRate,
	})
}

// handleCreateLobby creates a waiting lobby. The buy-in, payout model and
// rake are fixed at creation and immutable once players can join.
func (h *Handler) handleCreateLobby(c *gin.Context) {
	var req struct {
		Mode           models.LobbyMode   `json:"mode" binding:"required"`
		BuyInMinor     int64              `json:"buyInMinor" binding:"required"`
		PayoutModel    models.PayoutModel `json:"payoutModel" binding:"required"`
		RakeBps        int                `json:"rakeBps"`
		RakeCapMinor   *int64             `json:"rakeCapMinor"`
		Capacity       int                `json:"capacity" binding:"required"`
		HouseAccountID string             `json:"houseAccountId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RakeBps < 0 || req.RakeBps > 10000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rakeBps must be within 0..10000"})
		return
	}

	lobby := models.Lobby{
		ID:             uuid.NewString(),
		Mode:           req.Mode,
		BuyInMinor:     req.BuyInMinor,
		PayoutModel:    req.PayoutModel,
		RakeBps:        req.RakeBps,
		RakeCapMinor:   req.RakeCapMinor,
		Capacity:       req.Capacity,
		HouseAccountID: req.HouseAccountID,
	}
	rt := h.controller.CreateLobby(lobby)

	if err := h.lobbyStore.SaveLobby(c.Request.Context(), &rt.Lobby, nil); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist lobby", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, rt.Lobby)
}

func (h *Handler) handleJoinLobby(c *gin.Context) {
	lobbyID := c.Param("id")
	var req struct {
		Team int `json:"team"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.controller.Join(c.Request.Context(), lobbyID, accountID(c), req.Team); err != nil {
		respondErr(c, err)
		return
	}

	if h.controller.Full(lobbyID) {
		// Fill side of the "fill or timer" transition; runs off the
		// request's context since the match outlives this HTTP call.
		go func() { _ = h.controller.PromoteAndStart(context.Background(), lobbyID) }()
	}

	c.JSON(http.StatusOK, gin.H{"status": "joined"})
}

func (h *Handler) handleLeaveLobby(c *gin.Context) {
	lobbyID := c.Param("id")
	if err := h.controller.Leave(c.Request.Context(), lobbyID, accountID(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *Handler) handleAccountHistory(c *gin.Context) {
	acct := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	cursor := time.Now()
	if raw := c.Query("cursor"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			cursor = t
		}
	}

	entries, err := h.ledgerStore.History(c.Request.Context(), acct, cursor, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// handleVerify is the read-only verify surface: only available once
// ended_at != null, at which point the seed/nonce pre-image is revealed
// alongside a reproduction of the deterministic spawn/pellet draws so a
// third party can confirm the commit was not biased post-hoc. The returned
// auditHead is the tick-by-tick hash chain's head at settlement time — the
// chain folds each snapshot's uncompressed JSON, so a caller who logged every
// broadcast snapshot can LZ4-decompress each one, fold them the same way
// and confirm the chain matches, proving no snapshot was altered in transit.
func (h *Handler) handleVerify(c *gin.Context) {
	matchID := c.Param("match_id")

	m, err := h.lobbyStore.MatchByID(c.Request.Context(), matchID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
		return
	}
	if m.EndedAt == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "match has not completed; seed/nonce withheld until settlement"})
		return
	}

	seed, err := hex.DecodeString(m.SeedHex)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "corrupt seed"})
		return
	}

	members, err := h.lobbyStore.MembershipsFor(c.Request.Context(), m.LobbyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load memberships"})
		return
	}

	spawnStream := provenance.NewStream(seed, "spawn")
	spawns := make([]models.Point, len(members))
	for i := range members {
		x, y := spawnStream.PointInDisk(m.MapRadius * match.SpawnDiskFraction)
		spawns[i] = models.Point{X: x, Y: y}
	}

	pelletStream := provenance.NewStream(seed, "pellets")
	pellets := make([]models.Point, match.InitialPellets)
	for i := 0; i < match.InitialPellets; i++ {
		x, y := pelletStream.PointInDisk(m.MapRadius)
		pellets[i] = models.Point{X: x, Y: y}
	}

	c.JSON(http.StatusOK, models.Revealed{
		Commit:          m.Commit,
		Seed:            m.SeedHex,
		Nonce:           m.NonceHex,
		Algorithm:       "SHA-256(seed || nonce)",
		SpawnPositions:  spawns,
		PelletPositions: pellets,
		AuditHead:       m.AuditHead,
	})
}

// respondErr maps an apperr.Kind onto an HTTP status, so handlers never
// duplicate the kind→status switch.
func respondErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperr.Is(err, apperr.KindValidation):
		status = http.StatusBadRequest
	case apperr.Is(err, apperr.KindNotFound):
		status = http.StatusNotFound
	case apperr.Is(err, apperr.KindConflict):
		status = http.StatusConflict
	case apperr.Is(err, apperr.KindInsufficient):
		status = http.StatusPaymentRequired
	case apperr.Is(err, apperr.KindUnauthorized):
		status = http.StatusForbidden
	case apperr.Is(err, apperr.KindIntegrity):
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
