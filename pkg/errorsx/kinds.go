package errorsx

// Kind classifies an error for propagation and status mapping.
type Kind string

const (
	KindUnknown    Kind = "unknown"
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindQuota      Kind = "quota_exceeded"
	KindProvider   Kind = "provider"
	KindTransport  Kind = "transport"
	KindFatal      Kind = "fatal"
)

// HTTPStatus maps a kind to the status code surfaced to callers.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return 400
	case KindAuth:
		return 401
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindQuota:
		return 402
	default:
		return 500
	}
}

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTRequest   ReasonCode = "stt_request"
	ReasonSTTRateLimit ReasonCode = "stt_rate_limit"

	ReasonTTSRequest   ReasonCode = "tts_request"
	ReasonTTSRateLimit ReasonCode = "tts_rate_limit"

	ReasonLLMGenerate  ReasonCode = "llm_generate"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	ReasonToolTimeout ReasonCode = "tool_timeout"
	ReasonToolRequest ReasonCode = "tool_request"

	ReasonWebhookInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonMediaTokenInvalid       ReasonCode = "media_token_invalid"
	ReasonTransportSend           ReasonCode = "transport_send"
	ReasonClientDisconnect        ReasonCode = "client_disconnect"

	ReasonStoreWrite ReasonCode = "store_write"
)
