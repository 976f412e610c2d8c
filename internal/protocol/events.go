// Package protocol defines the real-time wire contract: event names, the
// envelope, and the typed payload of every event in both directions.
package protocol

// Inbound events.
const (
	EventJoinTextChannel         = "join_text_channel"
	EventRequestOlderMessages    = "request_older_messages"
	EventSendMessage             = "send_message"
	EventJoinVoiceChannel        = "join_voice_channel"
	EventLeaveVoiceChannel       = "leave_voice_channel"
	EventPreviewVoiceChannel     = "preview_voice_channel"
	EventStopPreviewVoiceChannel = "stop_preview_voice_channel"
	EventUserSpeakingStatus      = "user_speaking_status"
	EventVoiceDataStream         = "voice_data_stream"
	EventVoiceSignal             = "voice_signal"
	EventPing                    = "ping"
)

// Outbound events.
const (
	EventServerUserListUpdate   = "server_user_list_update"
	EventNewMessage             = "new_message"
	EventLoadHistoricalMessages = "load_historical_messages"
	EventOlderMessagesLoaded    = "older_messages_loaded"
	EventUserJoinedVoice        = "user_joined_voice"
	EventUserLeftVoice          = "user_left_voice"
	EventVoiceChannelUsers      = "voice_channel_users"
	EventVoiceDataStreamChunk   = "voice_data_stream_chunk"
	EventUserSpeaking           = "user_speaking"
	EventError                  = "error"
	EventAudioProcessingError   = "audio_processing_error"
	EventPong                   = "pong"
)
