package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/buger/jsonparser"
)

// ErrMalformedMessage marks an inbound frame that is not JSON or has no type tag.
var ErrMalformedMessage = errors.New("malformed message")

// DefaultApplication is the identity an IINA remote server reports in identify_response.
const DefaultApplication = "IINA"

// Codec translates between transport frames and protocol messages.
type Codec interface {
	EncodeIdentify(at time.Time) ([]byte, error)
	EncodeCommand(cmd Command) ([]byte, error)
	DecodeServerMessage(frame []byte) (ServerMessage, error)
}

// JSONCodec implements the textual JSON wire format.
type JSONCodec struct{}

func NewJSONCodec() JSONCodec {
	return JSONCodec{}
}

type identifyFrame struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

type bareCommandFrame struct {
	Type CommandType `json:"type"`
}

type seekFrame struct {
	Type     CommandType `json:"type"`
	Position float64     `json:"position"`
}

type amountFrame struct {
	Type   CommandType `json:"type"`
	Amount float64     `json:"amount"`
}

type volumeFrame struct {
	Type   CommandType `json:"type"`
	Volume float64     `json:"volume"`
}

func (JSONCodec) EncodeIdentify(at time.Time) ([]byte, error) {
	if at.IsZero() {
		at = time.Now()
	}
	raw, err := json.Marshal(identifyFrame{Type: MessageIdentify, Timestamp: at.UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("encode identify: %w", err)
	}

	return raw, nil
}

func (JSONCodec) EncodeCommand(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, errors.New("command is nil")
	}

	var frame any
	switch c := cmd.(type) {
	case Seek:
		frame = seekFrame{Type: c.Type(), Position: c.Position}
	case SkipForward:
		frame = amountFrame{Type: c.Type(), Amount: c.Amount}
	case SkipBackward:
		frame = amountFrame{Type: c.Type(), Amount: c.Amount}
	case SetVolume:
		frame = volumeFrame{Type: c.Type(), Volume: c.Volume}
	default:
		frame = bareCommandFrame{Type: cmd.Type()}
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode %s command: %w", cmd.Type(), err)
	}

	return raw, nil
}

func (JSONCodec) DecodeServerMessage(frame []byte) (ServerMessage, error) {
	if len(frame) == 0 || !json.Valid(frame) {
		return nil, fmt.Errorf("%w: not json", ErrMalformedMessage)
	}

	msgType, err := jsonparser.GetString(frame, "type")
	if err != nil || strings.TrimSpace(msgType) == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	switch MessageType(msgType) {
	case MessageIdentifyResponse:
		app, _ := jsonparser.GetString(frame, "application")
		name, _ := jsonparser.GetString(frame, "name")

		return IdentifyResponse{Application: app, Name: name}, nil
	case MessageStatus:
		data, dataType, _, err := jsonparser.Get(frame, "data")
		if err != nil || dataType != jsonparser.Object {
			return StatusUpdate{}, nil
		}
		var update StatusUpdate
		if err := json.Unmarshal(data, &update.Patch); err != nil {
			return nil, fmt.Errorf("%w: status data: %v", ErrMalformedMessage, err)
		}
		update.HasData = true

		return update, nil
	default:
		return Unknown{Type: msgType}, nil
	}
}
