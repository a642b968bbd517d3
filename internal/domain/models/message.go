package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownMessage   = errors.New("unknown message type")
)

type MessageKind string

const (
	KindSubscribe   MessageKind = "subscribe"
	KindUnsubscribe MessageKind = "unsubscribe"
	KindSignal      MessageKind = "signal"
	KindAck         MessageKind = "ack"
	KindError       MessageKind = "error"
)

// Message is the closed set of frames exchanged with a relay peer.
// Only types in this file implement it.
type Message interface {
	Kind() MessageKind
	sealed()
}

type SubscribeMessage struct {
	Pairs       []string `json:"pairs,omitempty"`
	SignalTypes []string `json:"signalTypes,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

type UnsubscribeMessage struct {
	Channel string `json:"channel"`
}

type SignalMessage struct {
	Signal Signal
}

type AckMessage struct {
	Ref string `json:"ref,omitempty"`
}

type ErrorMessage struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (SubscribeMessage) Kind() MessageKind   { return KindSubscribe }
func (UnsubscribeMessage) Kind() MessageKind { return KindUnsubscribe }
func (SignalMessage) Kind() MessageKind      { return KindSignal }
func (AckMessage) Kind() MessageKind         { return KindAck }
func (ErrorMessage) Kind() MessageKind       { return KindError }

func (SubscribeMessage) sealed()   {}
func (UnsubscribeMessage) sealed() {}
func (SignalMessage) sealed()      {}
func (AckMessage) sealed()         {}
func (ErrorMessage) sealed()       {}

// SubscribeFromFilter builds the control frame replaying f.
func SubscribeFromFilter(f SignalFilter) SubscribeMessage {
	return SubscribeMessage{Pairs: f.Pairs, SignalTypes: f.SignalTypes, Sources: f.Sources}
}

func (m SubscribeMessage) Filter() SignalFilter {
	return SignalFilter{Pairs: m.Pairs, SignalTypes: m.SignalTypes, Sources: m.Sources}
}

// EncodeMessage renders m as a JSON frame with a "type" discriminator.
func EncodeMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case SubscribeMessage:
		return json.Marshal(struct {
			Type MessageKind `json:"type"`
			SubscribeMessage
		}{KindSubscribe, v})
	case UnsubscribeMessage:
		return json.Marshal(struct {
			Type MessageKind `json:"type"`
			UnsubscribeMessage
		}{KindUnsubscribe, v})
	case SignalMessage:
		return json.Marshal(struct {
			Type MessageKind `json:"type"`
			Data Signal      `json:"data"`
		}{KindSignal, v.Signal})
	case AckMessage:
		return json.Marshal(struct {
			Type MessageKind `json:"type"`
			AckMessage
		}{KindAck, v})
	case ErrorMessage:
		return json.Marshal(struct {
			Type MessageKind `json:"type"`
			ErrorMessage
		}{KindError, v})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, m)
	}
}

// DecodeMessage parses one inbound frame. Any failure wraps ErrMalformedMessage
// or ErrUnknownMessage.
func DecodeMessage(b []byte) (Message, error) {
	var head struct {
		Type MessageKind     `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch head.Type {
	case KindSubscribe:
		var m SubscribeMessage
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return m, nil
	case KindUnsubscribe:
		var m UnsubscribeMessage
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if m.Channel == "" {
			return nil, fmt.Errorf("%w: unsubscribe without channel", ErrMalformedMessage)
		}
		return m, nil
	case KindSignal:
		if len(head.Data) == 0 || string(head.Data) == "null" {
			return nil, fmt.Errorf("%w: signal without data", ErrMalformedMessage)
		}
		var s Signal
		if err := json.Unmarshal(head.Data, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return SignalMessage{Signal: s}, nil
	case KindAck:
		var m AckMessage
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return m, nil
	case KindError:
		var m ErrorMessage
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return m, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, head.Type)
	}
}
