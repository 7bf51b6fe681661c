package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Gateway delivers notices through an HTTP messenger-gateway service. The
// gateway owns the messenger session (bot token, chat routing) and hands
// back a message reference we keep as the notice handle.
type Gateway struct {
	client *resty.Client
	log    zerolog.Logger
}

// NewGateway builds a Gateway client for the given base URL. token, when
// non-empty, is sent as a bearer token.
func NewGateway(baseURL, token string, timeout time.Duration, log zerolog.Logger) *Gateway {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Gateway{
		client: c,
		log:    log.With().Str("component", "notice-gateway").Logger(),
	}
}

type deliverRequest struct {
	OperatorChatID int64  `json:"operator_chat_id"`
	ClientChatID   int64  `json:"client_chat_id"`
	Text           string `json:"text"`
	CorrelationID  string `json:"correlation_id"`
}

type deliverResponse struct {
	Handle string `json:"handle"`
}

// Deliver posts the notice to the gateway. Non-2xx responses and transport
// errors are reported as ErrDelivery so the ledger skips the recipient.
func (g *Gateway) Deliver(ctx context.Context, operatorChatID, clientChatID int64, text string) (string, error) {
	var out deliverResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(deliverRequest{
			OperatorChatID: operatorChatID,
			ClientChatID:   clientChatID,
			Text:           text,
			CorrelationID:  uuid.NewString(),
		}).
		SetResult(&out).
		Post("/notices")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("%w: gateway returned %d", ErrDelivery, resp.StatusCode())
	}
	if out.Handle == "" {
		return "", fmt.Errorf("%w: gateway returned no handle", ErrDelivery)
	}
	return out.Handle, nil
}

// Retract deletes a delivered notice. Best effort: errors are returned for
// logging but carry no retry obligation.
func (g *Gateway) Retract(ctx context.Context, operatorChatID int64, handle string) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("operator_chat_id", fmt.Sprintf("%d", operatorChatID)).
		Delete("/notices/" + handle)
	if err != nil {
		return err
	}
	// 404 means the notice is already gone, which is what we wanted.
	if resp.StatusCode() >= 400 && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("gateway returned %d", resp.StatusCode())
	}
	return nil
}
