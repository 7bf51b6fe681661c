// Package handlers – pairing endpoints.
//
// This file implements the coordination API: requesting a conversation,
// beginning one, ending or cancelling one, and the read-only views (pairing
// snapshot, waiting list). Handlers translate business outcomes into HTTP
// statuses and stable codes; storage faults become opaque 500s (details go
// to the logs, admins are notified out of band, never the end user).
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/helpline/go-helpline-backend/internal/domain"
	"github.com/helpline/go-helpline-backend/internal/repo"
	"github.com/helpline/go-helpline-backend/internal/utils"
)

//
// Service contracts
//

// CoordinatorService defines the pairing coordination operations the HTTP
// layer depends on.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type CoordinatorService interface {
	// RequestConversation records a conversation request and fans out
	// invitations when a new request was created.
	RequestConversation(ctx context.Context, clientChatID int64) (repo.RequestOutcome, error)
	// BeginConversation pairs a client with an operator and retracts the
	// invitations made stale by the pairing.
	BeginConversation(ctx context.Context, clientChatID, operatorChatID int64) (repo.BeginOutcome, error)
	// EndOrCancel removes the client's pairing and reissues or retracts
	// invitations accordingly.
	EndOrCancel(ctx context.Context, clientChatID int64) (repo.EndOutcome, *int64, error)
	// Snapshot returns the pairing touching the user, or nil.
	Snapshot(ctx context.Context, chatID int64) (*domain.PairingView, error)
	// WaitingPage returns a page of pending requests plus the total.
	WaitingPage(ctx context.Context, offset, limit int) ([]domain.PairingView, int64, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the coordination API. It depends on
// an abstract service interface to keep transport concerns separate from
// business logic.
type Handlers struct {
	coord CoordinatorService
}

// New constructs and returns a Handlers instance bound to the given service.
func New(coord CoordinatorService) *Handlers {
	return &Handlers{coord: coord}
}

//
// DTOs
//

// RequestConversationRequest is the JSON payload for requesting a conversation.
type RequestConversationRequest struct {
	// ChatID is the messenger id of the user asking for help.
	ChatID int64 `json:"chat_id" binding:"required"`
}

// BeginConversationRequest is the JSON payload for beginning a conversation.
type BeginConversationRequest struct {
	ClientChatID   int64 `json:"client_chat_id" binding:"required"`
	OperatorChatID int64 `json:"operator_chat_id" binding:"required"`
}

// OutcomeResponse reports the business outcome of a transition.
type OutcomeResponse struct {
	Outcome string `json:"outcome"`
	// OperatorChatID is set when ending an active conversation.
	OperatorChatID *int64 `json:"operator_chat_id,omitempty"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// WaitingResponse wraps a page of pending requests and pagination info.
type WaitingResponse struct {
	Waiting    []domain.PairingView `json:"waiting"`
	Pagination Pagination           `json:"pagination"`
}

//
// Helpers
//

// chatIDParam parses the :chat_id path parameter. On failure it writes a 400
// and returns false.
func chatIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat_id must be an integer")
		return 0, false
	}
	return id, true
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = defaultPage
	}
	pageSize = utils.AtoiInRange(c.Query("page_size"), defaultPageSize, 1, maxPageSize)
	return page, pageSize
}

//
// Endpoints
//

// RequestConversation handles POST /requests.
//
// Responses:
//   - 201 {"outcome":"created"} when a new request was recorded
//   - 409 with code "already_requesting" or "already_paired"
//   - 400 on malformed body, 500 on storage fault
func (h *Handlers) RequestConversation(c *gin.Context) {
	var req RequestConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	outcome, err := h.coord.RequestConversation(c.Request.Context(), req.ChatID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "something went wrong")
		return
	}
	if outcome != repo.RequestCreated {
		fail(c, http.StatusConflict, outcome.String(), "a request or conversation already exists")
		return
	}
	ok(c, http.StatusCreated, OutcomeResponse{Outcome: outcome.String()})
}

// BeginConversation handles POST /conversations.
//
// Responses:
//   - 201 {"outcome":"ok"} when the conversation started
//   - 409 with the refusing outcome as code (client_is_operating,
//     operator_requesting, operator_is_client, operator_operating,
//     client_already_paired)
//   - 400 on malformed body, 500 on storage fault
func (h *Handlers) BeginConversation(c *gin.Context) {
	var req BeginConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.ClientChatID == req.OperatorChatID {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "client and operator must differ")
		return
	}

	outcome, err := h.coord.BeginConversation(c.Request.Context(), req.ClientChatID, req.OperatorChatID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "something went wrong")
		return
	}
	if outcome != repo.BeginOK {
		fail(c, http.StatusConflict, outcome.String(), "conversation cannot start")
		return
	}
	ok(c, http.StatusCreated, OutcomeResponse{Outcome: outcome.String()})
}

// EndOrCancel handles DELETE /conversations/:chat_id.
//
// Responses:
//   - 200 {"outcome":"cancelled"} or {"outcome":"ended","operator_chat_id":N}
//   - 404 when the user has no pairing
//   - 400 on malformed id, 500 on storage fault
func (h *Handlers) EndOrCancel(c *gin.Context) {
	chatID, okID := chatIDParam(c)
	if !okID {
		return
	}

	outcome, operator, err := h.coord.EndOrCancel(c.Request.Context(), chatID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "something went wrong")
		return
	}
	if outcome == repo.EndNoPairing {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no request or conversation to end")
		return
	}
	ok(c, http.StatusOK, OutcomeResponse{Outcome: outcome.String(), OperatorChatID: operator})
}

// GetPairing handles GET /users/:chat_id/pairing.
//
// Responses:
//   - 200 with the pairing view touching the user
//   - 404 when the user is in no pairing
func (h *Handlers) GetPairing(c *gin.Context) {
	chatID, okID := chatIDParam(c)
	if !okID {
		return
	}

	view, err := h.coord.Snapshot(c.Request.Context(), chatID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "something went wrong")
		return
	}
	if view == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "not in a request or conversation")
		return
	}
	ok(c, http.StatusOK, view)
}

// ListWaiting handles GET /requests: the clients currently awaiting an
// operator, oldest first, paginated.
func (h *Handlers) ListWaiting(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.coord.WaitingPage(c.Request.Context(), (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "something went wrong")
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, WaitingResponse{
		Waiting: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
