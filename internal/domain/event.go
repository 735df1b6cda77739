package domain

import (
	"encoding/json"
	"fmt"
)

// Event kind discriminator; serialized as the "type" field on the wire
type EventType string

const (
	EventPrice        EventType = "price"
	EventTwap         EventType = "twap"
	EventTwapPreview  EventType = "twap_preview"
	EventSettlement   EventType = "settlement"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
)

// OracleEvent is the closed union carried by the fanout bus and written to
// subscribers as a single tagged JSON object. Exactly one payload pointer is
// set for the variants that carry one.
type OracleEvent struct {
	Type       EventType
	Price      *PriceUpdate
	Twap       *TwapResult
	Preview    *TwapPreview
	Settlement *SettlementInfo
	Message    string // error variant only
}

func NewPriceEvent(u PriceUpdate) OracleEvent {
	return OracleEvent{Type: EventPrice, Price: &u}
}

func NewTwapEvent(r TwapResult) OracleEvent {
	return OracleEvent{Type: EventTwap, Twap: &r}
}

func NewTwapPreviewEvent(p TwapPreview) OracleEvent {
	return OracleEvent{Type: EventTwapPreview, Preview: &p}
}

func NewSettlementEvent(s SettlementInfo) OracleEvent {
	return OracleEvent{Type: EventSettlement, Settlement: &s}
}

func NewConnectedEvent() OracleEvent {
	return OracleEvent{Type: EventConnected}
}

func NewDisconnectedEvent() OracleEvent {
	return OracleEvent{Type: EventDisconnected}
}

func NewErrorEvent(message string) OracleEvent {
	return OracleEvent{Type: EventError, Message: message}
}

type taggedPrice struct {
	Type EventType `json:"type"`
	*PriceUpdate
}

type taggedTwap struct {
	Type EventType `json:"type"`
	*TwapResult
}

type taggedPreview struct {
	Type EventType `json:"type"`
	*TwapPreview
}

type taggedSettlement struct {
	Type EventType `json:"type"`
	*SettlementInfo
}

type taggedError struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

type taggedBare struct {
	Type EventType `json:"type"`
}

func (e OracleEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventPrice:
		if e.Price == nil {
			return nil, fmt.Errorf("price event without payload")
		}
		return json.Marshal(taggedPrice{e.Type, e.Price})
	case EventTwap:
		if e.Twap == nil {
			return nil, fmt.Errorf("twap event without payload")
		}
		return json.Marshal(taggedTwap{e.Type, e.Twap})
	case EventTwapPreview:
		if e.Preview == nil {
			return nil, fmt.Errorf("twap_preview event without payload")
		}
		return json.Marshal(taggedPreview{e.Type, e.Preview})
	case EventSettlement:
		if e.Settlement == nil {
			return nil, fmt.Errorf("settlement event without payload")
		}
		return json.Marshal(taggedSettlement{e.Type, e.Settlement})
	case EventConnected, EventDisconnected:
		return json.Marshal(taggedBare{e.Type})
	case EventError:
		return json.Marshal(taggedError{e.Type, e.Message})
	default:
		return nil, fmt.Errorf("unknown event type: %q", e.Type)
	}
}

func (e *OracleEvent) UnmarshalJSON(data []byte) error {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	*e = OracleEvent{Type: head.Type}

	switch head.Type {
	case EventPrice:
		var p PriceUpdate
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		e.Price = &p
	case EventTwap:
		var r TwapResult
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		e.Twap = &r
	case EventTwapPreview:
		var p TwapPreview
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		e.Preview = &p
	case EventSettlement:
		var s SettlementInfo
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		e.Settlement = &s
	case EventConnected, EventDisconnected:
	case EventError:
		var msg taggedError
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		e.Message = msg.Message
	default:
		return fmt.Errorf("unknown event type: %q", head.Type)
	}

	return nil
}
