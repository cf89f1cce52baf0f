package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"
	FieldWorkerID  = "worker_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldQueue     = "queue"
	FieldMessageID = "msg_id"
	FieldStage     = "stage"
	FieldReadCount = "read_count"
	FieldCategory  = "category"
	FieldResource  = "resource"
	FieldAttempt   = "attempt"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Domain fields
	FieldArtistID = "artist_id"
	FieldAlbumID  = "album_id"
	FieldTrackID  = "track_id"
	FieldOffset   = "offset"
)
