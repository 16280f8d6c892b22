package mcp

type SendFileArgs struct {
	Path            string  `json:"path" jsonschema:"path to a wav, webm, ogg, mp3 or m4a file"`
	ConversationID  string  `json:"conversation_id,omitempty" jsonschema:"conversation to post to, defaults to the configured one"`
	DurationSeconds float64 `json:"duration_seconds,omitempty" jsonschema:"length of the recording, measured automatically for wav"`
}

type SendAudioArgs struct {
	Audio           string  `json:"audio" jsonschema:"base64-encoded audio file contents"`
	ConversationID  string  `json:"conversation_id,omitempty" jsonschema:"conversation to post to, defaults to the configured one"`
	DurationSeconds float64 `json:"duration_seconds,omitempty" jsonschema:"length of the recording, measured automatically for wav"`
}

type PlayMessageArgs struct {
	MessageID string `json:"message_id" jsonschema:"id of the voice message"`
}

type RecentErrorsArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of entries, default 10"`
}

type ListDevicesArgs struct{}

