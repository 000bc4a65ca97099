package protocol

import "github.com/skobkin/mediaremote/internal/domain"

// MessageType is the wire tag of a server message.
type MessageType string

const (
	MessageIdentify         MessageType = "identify"
	MessageIdentifyResponse MessageType = "identify_response"
	MessageStatus           MessageType = "status"
)

// ServerMessage is one of the closed set of server-to-client messages.
type ServerMessage interface {
	MessageType() MessageType
	isServerMessage()
}

// IdentifyResponse answers an identify request.
type IdentifyResponse struct {
	Application string
	Name        string
}

// StatusUpdate carries a partial MediaStatus. HasData is false when the
// message had no data object, such messages carry nothing to merge.
type StatusUpdate struct {
	Patch   domain.MediaStatusPatch
	HasData bool
}

// Unknown is a well-formed message with a type this client does not handle.
type Unknown struct {
	Type string
}

func (IdentifyResponse) MessageType() MessageType { return MessageIdentifyResponse }
func (StatusUpdate) MessageType() MessageType     { return MessageStatus }
func (u Unknown) MessageType() MessageType        { return MessageType(u.Type) }

func (IdentifyResponse) isServerMessage() {}
func (StatusUpdate) isServerMessage()     {}
func (Unknown) isServerMessage()          {}
