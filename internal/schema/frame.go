package schema

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Outbound stream actions.
const (
	ActionAuthenticate = "authenticate"
	ActionSubscribe    = "subscribe"
)

// Subscription channels exposed by the stream.
const (
	SubscriptionMarketPrices   = "MarketPriceUpdate"
	SubscriptionMarketStatuses = "MarketStatusUpdate"
)

// SubscribeAll is the wildcard subscription target.
const SubscribeAll = "*"

// AuthenticateFrame is the outbound stream authentication request.
type AuthenticateFrame struct {
	Action      string `json:"action"`
	AccessToken string `json:"accessToken"`
}

// NewAuthenticateFrame builds an authentication frame for the given token.
func NewAuthenticateFrame(accessToken string) AuthenticateFrame {
	return AuthenticateFrame{Action: ActionAuthenticate, AccessToken: accessToken}
}

// SubscribeFrame is the outbound stream subscription request.
type SubscribeFrame struct {
	Action           string   `json:"action"`
	SubscriptionType string   `json:"subscriptionType"`
	SubscriptionIDs  []string `json:"subscriptionIds"`
}

// NewSubscribeFrame builds a wildcard subscription for the given channel.
func NewSubscribeFrame(subscriptionType string) SubscribeFrame {
	return SubscribeFrame{
		Action:           ActionSubscribe,
		SubscriptionType: subscriptionType,
		SubscriptionIDs:  []string{SubscribeAll},
	}
}

// Inbound frame type tags.
const (
	FrameAuthenticationUpdate = "AuthenticationUpdate"
	FrameMarketPriceUpdate    = "MarketPriceUpdate"
	FrameMarketStatusUpdate   = "MarketStatusUpdate"
)

// ErrUnknownFrame signals an inbound frame type outside the handled set.
var ErrUnknownFrame = errors.New("schema: unknown frame type")

// Price sides carried on market price updates.
const (
	SideFor     = "For"
	SideAgainst = "Against"
)

// PriceLevel is one priced outcome side within a market price update.
type PriceLevel struct {
	Side      string          `json:"side"`
	OutcomeID string          `json:"outcomeId"`
	Price     decimal.Decimal `json:"price"`
	Liquidity decimal.Decimal `json:"liquidity"`
}

// AuthenticationUpdate acknowledges a stream authentication request.
type AuthenticationUpdate struct {
	Type string `json:"type"`
}

// MarketPriceUpdate carries the current price ladder for a venue market.
type MarketPriceUpdate struct {
	Type     string       `json:"type"`
	EventID  string       `json:"eventId"`
	MarketID string       `json:"marketId"`
	Prices   []PriceLevel `json:"prices"`
}

// MarketStatusUpdate signals a venue market lifecycle transition.
type MarketStatusUpdate struct {
	Type         string `json:"type"`
	EventID      string `json:"eventId"`
	MarketID     string `json:"marketId"`
	Status       string `json:"status"`
	InPlayStatus string `json:"inPlayStatus"`
}

type frameProbe struct {
	Type string `json:"type"`
}

// DecodeFrame parses an inbound stream frame into its typed representation.
// Frames outside the handled set return ErrUnknownFrame.
func DecodeFrame(data []byte) (any, error) {
	var probe frameProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}
	switch probe.Type {
	case FrameAuthenticationUpdate:
		var frame AuthenticationUpdate
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode authentication update: %w", err)
		}
		return frame, nil
	case FrameMarketPriceUpdate:
		var frame MarketPriceUpdate
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode market price update: %w", err)
		}
		return frame, nil
	case FrameMarketStatusUpdate:
		var frame MarketStatusUpdate
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode market status update: %w", err)
		}
		return frame, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, probe.Type)
	}
}
