package frames

// Metadata keys carried on frames.
const (
	MetaStreamID      = "stream_id"
	MetaCallSID       = "call_sid"
	MetaTraceID       = "trace_id"
	MetaFromNumber    = "from_number"
	MetaOldStreamID   = "old_stream_id"
	MetaSource        = "source"
	MetaEncoding      = "encoding"
	MetaCodec         = "codec"
	MetaFormat        = "format"
	MetaCallEndReason = "call_end_reason"
)
