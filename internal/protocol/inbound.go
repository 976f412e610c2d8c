package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/domain"
)

// Inbound is the closed set of client events. Decode returns one of the types below.
type Inbound interface {
	EventName() string
}

type JoinTextChannel struct {
	ChannelID domain.ChannelID `json:"channel_id" validate:"required,gt=0"`
}

type RequestOlderMessages struct {
	ChannelID       domain.ChannelID `json:"channel_id" validate:"required,gt=0"`
	BeforeMessageID domain.MessageID `json:"before_message_id" validate:"required,gt=0"`
	Limit           int              `json:"limit" validate:"omitempty,gt=0"`
}

type SendMessage struct {
	ChannelID domain.ChannelID `json:"channel_id" validate:"required,gt=0"`
	Message   string           `json:"message" validate:"required"`
}

type JoinVoiceChannel struct {
	ChannelID domain.ChannelID `json:"channel_id" validate:"required,gt=0"`
}

type LeaveVoiceChannel struct {
	ChannelID domain.ChannelID `json:"channel_id" validate:"required,gt=0"`
}

type PreviewVoiceChannel struct {
	ChannelID domain.ChannelID `json:"channel_id" validate:"required,gt=0"`
}

type StopPreviewVoiceChannel struct {
	ChannelID domain.ChannelID `json:"channel_id" validate:"required,gt=0"`
}

type UserSpeakingStatus struct {
	ChannelID domain.ChannelID `json:"channel_id" validate:"required,gt=0"`
	Speaking  *bool            `json:"speaking" validate:"required"`
}

type VoiceDataStream struct {
	ChannelID  domain.ChannelID `json:"channel_id" validate:"required,gt=0"`
	AudioData  []float64        `json:"audio_data" validate:"required,min=1"`
	SampleRate int              `json:"samplerate" validate:"omitempty,gt=0,lte=384000"`
	Channels   int              `json:"channels" validate:"omitempty,gt=0,lte=8"`
	DType      string           `json:"dtype" validate:"omitempty,oneof=float32 float64 int16"`
}

// VoiceSignal keeps the whole opaque object; only the recipient is interpreted.
type VoiceSignal struct {
	RecipientID domain.UserID   `json:"recipient_id" validate:"required,gt=0"`
	Payload     json.RawMessage `json:"-"`
}

type Ping struct{}

func (JoinTextChannel) EventName() string         { return EventJoinTextChannel }
func (RequestOlderMessages) EventName() string    { return EventRequestOlderMessages }
func (SendMessage) EventName() string             { return EventSendMessage }
func (JoinVoiceChannel) EventName() string        { return EventJoinVoiceChannel }
func (LeaveVoiceChannel) EventName() string       { return EventLeaveVoiceChannel }
func (PreviewVoiceChannel) EventName() string     { return EventPreviewVoiceChannel }
func (StopPreviewVoiceChannel) EventName() string { return EventStopPreviewVoiceChannel }
func (UserSpeakingStatus) EventName() string      { return EventUserSpeakingStatus }
func (VoiceDataStream) EventName() string         { return EventVoiceDataStream }
func (VoiceSignal) EventName() string             { return EventVoiceSignal }
func (Ping) EventName() string                    { return EventPing }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func newInbound(event string) (Inbound, bool) {
	switch event {
	case EventJoinTextChannel:
		return &JoinTextChannel{}, true
	case EventRequestOlderMessages:
		return &RequestOlderMessages{}, true
	case EventSendMessage:
		return &SendMessage{}, true
	case EventJoinVoiceChannel:
		return &JoinVoiceChannel{}, true
	case EventLeaveVoiceChannel:
		return &LeaveVoiceChannel{}, true
	case EventPreviewVoiceChannel:
		return &PreviewVoiceChannel{}, true
	case EventStopPreviewVoiceChannel:
		return &StopPreviewVoiceChannel{}, true
	case EventUserSpeakingStatus:
		return &UserSpeakingStatus{}, true
	case EventVoiceDataStream:
		return &VoiceDataStream{}, true
	case EventVoiceSignal:
		return &VoiceSignal{}, true
	case EventPing:
		return &Ping{}, true
	}
	return nil, false
}

// Decode parses one inbound frame into its typed variant and validates it.
// Every failure wraps core.ErrValidation.
func Decode(frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope", core.ErrValidation)
	}
	msg, ok := newInbound(env.Event)
	if !ok {
		return nil, fmt.Errorf("%w: unknown event %q", core.ErrValidation, env.Event)
	}
	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", core.ErrValidation, env.Event, describeJSONError(err))
	}
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", core.ErrValidation, env.Event, describeValidationError(err))
	}
	if sig, ok := msg.(*VoiceSignal); ok {
		sig.Payload = append(json.RawMessage(nil), data...)
	}
	return deref(msg), nil
}

func deref(msg Inbound) Inbound {
	return reflect.ValueOf(msg).Elem().Interface().(Inbound)
}

func describeJSONError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("field %s has wrong type", typeErr.Field)
	}
	return "malformed payload"
}

func describeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" {
			return fmt.Sprintf("missing %s", fe.Field())
		}
		return fmt.Sprintf("invalid %s", fe.Field())
	}
	return "invalid payload"
}
