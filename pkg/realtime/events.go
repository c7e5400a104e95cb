package realtime

// Outbound message types.
const (
	typeSessionUpdate = "session.update"
	typeAudioAppend   = "input_audio_buffer.append"
	typeItemCreate    = "conversation.item.create"
)

// Inbound event types.
const (
	typeSpeechStarted                = "input_audio_buffer.speech_started"
	typeSpeechStopped                = "input_audio_buffer.speech_stopped"
	typeTranscriptionDelta           = "conversation.item.input_audio_transcription.delta"
	typeTranscriptionCompleted       = "conversation.item.input_audio_transcription.completed"
	typeResponseTextDelta            = "response.text.delta"
	typeResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	typeResponseDone                 = "response.done"
	typeError                        = "error"
)

// sessionUpdateMsg carries the session configuration, sent on open and
// again (instructions only) when the prompt changes.
type sessionUpdateMsg struct {
	Type    string         `json:"type"`
	Session sessionPayload `json:"session"`
}

type sessionPayload struct {
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	Modalities              []string             `json:"modalities,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *transcriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetectionConfig `json:"turn_detection,omitempty"`
}

type transcriptionConfig struct {
	Model string `json:"model"`
}

type turnDetectionConfig struct {
	Type string `json:"type"`
}

// audioAppendMsg streams one encoded capture block.
type audioAppendMsg struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// itemCreateMsg carries a user-typed text message.
type itemCreateMsg struct {
	Type string      `json:"type"`
	Item itemPayload `json:"item"`
}

type itemPayload struct {
	Type    string        `json:"type"`
	Content []itemContent `json:"content"`
}

type itemContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// serverEvent is the envelope for all inbound events. Fields are
// populated selectively by event type.
type serverEvent struct {
	Type       string       `json:"type"`
	ItemID     string       `json:"item_id"`
	Delta      string       `json:"delta"`
	Transcript string       `json:"transcript"`
	Error      *serverError `json:"error"`
}

type serverError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
