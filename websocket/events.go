package websocket

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Inbound event names.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTyping            = "typing"
	EventMarkAsRead        = "mark_as_read"
)

// Outbound event names.
const (
	EventUserOnline         = "user_online"
	EventUserOffline        = "user_offline"
	EventUserJoined         = "user_joined"
	EventUserLeft           = "user_left"
	EventNewMessage         = "new_message"
	EventMessageDelivered   = "message_delivered"
	EventMessagesDelivered  = "messages_delivered"
	EventConversationUpdate = "conversation_update"
	EventMessagesRead       = "messages_read"
	EventUserTyping         = "user_typing"
	EventError              = "error"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// FieldError is one entry of a structured validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type JoinConversationPayload struct {
	ConversationID string `json:"conversation_id" validate:"required,uuid"`
}

type LeaveConversationPayload struct {
	ConversationID string `json:"conversation_id" validate:"required,uuid"`
}

type SendMessagePayload struct {
	ConversationID string `json:"conversation_id" validate:"required,uuid"`
	Content        string `json:"content" validate:"required,max=5000"`
	MessageType    string `json:"message_type" validate:"omitempty,oneof=text image file audio video"`
	FileURL        string `json:"file_url" validate:"omitempty,url,max=2048"`
	FileName       string `json:"file_name" validate:"omitempty,max=255"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id" validate:"required,uuid"`
	IsTyping       *bool  `json:"is_typing" validate:"required"`
}

type MarkAsReadPayload struct {
	ConversationID string `json:"conversation_id" validate:"required,uuid"`
	MessageID      string `json:"message_id" validate:"omitempty,uuid"`
}

var validate = newValidator()

// newValidator reports field names by their json tag so clients can map
// errors straight onto payload keys.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidateEvent decodes and fully validates an inbound payload before any
// domain logic runs. It returns the typed payload or the complete list of
// field errors; there is no partial validation.
func ValidateEvent(event string, data json.RawMessage) (interface{}, []FieldError) {
	var payload interface{}
	switch event {
	case EventJoinConversation:
		payload = &JoinConversationPayload{}
	case EventLeaveConversation:
		payload = &LeaveConversationPayload{}
	case EventSendMessage:
		payload = &SendMessagePayload{}
	case EventTyping:
		payload = &TypingPayload{}
	case EventMarkAsRead:
		payload = &MarkAsReadPayload{}
	default:
		return nil, []FieldError{{Field: "event", Message: fmt.Sprintf("unknown event %q", event)}}
	}

	if err := json.Unmarshal(data, payload); err != nil {
		return nil, []FieldError{{Field: "data", Message: "invalid payload"}}
	}

	if err := validate.Struct(payload); err != nil {
		var fieldErrors []FieldError
		for _, ve := range err.(validator.ValidationErrors) {
			fieldErrors = append(fieldErrors, FieldError{
				Field:   ve.Field(),
				Message: describeRule(ve),
			})
		}
		return nil, fieldErrors
	}

	return payload, nil
}

func describeRule(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a valid id"
	case "max":
		return fmt.Sprintf("must be at most %s characters", ve.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(ve.Param(), " ", ", "))
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("failed %s validation", ve.Tag())
	}
}

// Frame marshals an outbound event envelope. Marshal failures indicate a
// programming error and yield a generic error frame.
func Frame(event string, data interface{}) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte(`{}`)
	}
	frame, _ := json.Marshal(Envelope{Event: event, Data: raw})
	return frame
}

func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

func UserRoom(userID string) string {
	return "user:" + userID
}
