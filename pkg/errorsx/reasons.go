package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonOracleUnreachable ReasonCode = "oracle_unreachable"
	ReasonOracleTimeout     ReasonCode = "oracle_timeout"
	ReasonOracleStatus      ReasonCode = "oracle_status"
	ReasonOracleDecode      ReasonCode = "oracle_decode"
	ReasonOracleCircuitOpen ReasonCode = "oracle_circuit_open"

	ReasonCaptureNoSpeech    ReasonCode = "capture_no_speech"
	ReasonCaptureUnavailable ReasonCode = "capture_unavailable"
	ReasonCaptureFatal       ReasonCode = "capture_fatal"
	ReasonSTTConnect         ReasonCode = "stt_connect"
	ReasonSTTSend            ReasonCode = "stt_send"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonConfigInvalid             ReasonCode = "config_invalid"
)
