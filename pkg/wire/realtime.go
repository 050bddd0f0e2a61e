package wire

// Realtime dialect client events.
const (
	RTSessionUpdate    = "session.update"
	RTInputAudioAppend = "input_audio_buffer.append"
	RTInputAudioCommit = "input_audio_buffer.commit"
	RTInputAudioClear  = "input_audio_buffer.clear"
	RTItemCreate       = "conversation.item.create"
	RTItemTruncate     = "conversation.item.truncate"
	RTItemDelete       = "conversation.item.delete"
	RTResponseCreate   = "response.create"
	RTResponseCancel   = "response.cancel"
)

// Realtime dialect server events.
const (
	RTError                       = "error"
	RTSessionCreated              = "session.created"
	RTSessionUpdated              = "session.updated"
	RTConversationCreated         = "conversation.created"
	RTItemCreated                 = "conversation.item.created"
	RTItemTruncated               = "conversation.item.truncated"
	RTItemDeleted                 = "conversation.item.deleted"
	RTInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	RTInputTranscriptionFailed    = "conversation.item.input_audio_transcription.failed"
	RTInputAudioCommitted         = "input_audio_buffer.committed"
	RTInputAudioCleared           = "input_audio_buffer.cleared"
	RTSpeechStarted               = "input_audio_buffer.speech_started"
	RTSpeechStopped               = "input_audio_buffer.speech_stopped"
	RTResponseCreated             = "response.created"
	RTResponseDone                = "response.done"
	RTOutputItemAdded             = "response.output_item.added"
	RTOutputItemDone              = "response.output_item.done"
	RTContentPartAdded            = "response.content_part.added"
	RTContentPartDone             = "response.content_part.done"
	RTTextDelta                   = "response.text.delta"
	RTTextDone                    = "response.text.done"
	RTAudioTranscriptDelta        = "response.audio_transcript.delta"
	RTAudioTranscriptDone         = "response.audio_transcript.done"
	RTAudioDelta                  = "response.audio.delta"
	RTAudioDone                   = "response.audio.done"
	RTFunctionArgsDelta           = "response.function_call_arguments.delta"
	RTFunctionArgsDone            = "response.function_call_arguments.done"
	RTRateLimitsUpdated           = "rate_limits.updated"
)

// RealtimeSampleRate is the fixed PCM16 rate of the realtime dialect.
const RealtimeSampleRate = 24000

// Realtime error codes the proxy translates.
const (
	RTCodeActiveResponse = "conversation_already_has_active_response"
)
