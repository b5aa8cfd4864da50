package jobs

// Status is a job's position in the processing state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Type is one of the seven supported media operations.
type Type string

const (
	TypeGetMetadata   Type = "get_metadata"
	TypeCaptureFrame  Type = "capture_frame"
	TypeExtractAudio  Type = "extract_audio"
	TypeCutAudio      Type = "cut_audio"
	TypeConcatAudios  Type = "concat_audios"
	TypeCompressVideo Type = "compress_video"
	TypeConvertMP4    Type = "convert_mp4"
)

// Priority bands for the job queue. Lower number means more urgent.
const (
	PriorityHigh   = 10
	PriorityNormal = 50
	PriorityLow    = 100
)

// outputExtensions maps a job type to its output file extension.
var outputExtensions = map[Type]string{
	TypeGetMetadata:   "json",
	TypeCaptureFrame:  "webp",
	TypeExtractAudio:  "mp3",
	TypeCutAudio:      "mp3",
	TypeConcatAudios:  "mp3",
	TypeCompressVideo: "mp4",
	TypeConvertMP4:    "mp4",
}

// defaultPriorities maps a job type to its default priority band.
var defaultPriorities = map[Type]int{
	TypeGetMetadata:   PriorityHigh,
	TypeCaptureFrame:  PriorityHigh,
	TypeExtractAudio:  PriorityNormal,
	TypeCutAudio:      PriorityNormal,
	TypeConcatAudios:  PriorityNormal,
	TypeCompressVideo: PriorityLow,
	TypeConvertMP4:    PriorityLow,
}

// OutputExtension returns the output file extension for a job type, or
// ("", false) if the type is unknown.
func OutputExtension(t Type) (string, bool) {
	ext, ok := outputExtensions[t]
	return ext, ok
}

// DefaultPriority returns the default priority band for a job type, or
// (0, false) if the type is unknown.
func DefaultPriority(t Type) (int, bool) {
	p, ok := defaultPriorities[t]
	return p, ok
}

// Metadata bundles the original filename, size, and operation-specific
// parameters.
type Metadata struct {
	OriginalFilename string                 `json:"original_filename"`
	FileSizeMB       float64                `json:"file_size_mb"`
	Parameters       map[string]interface{} `json:"parameters"`
}

// Record is the persisted state of a single job.
type Record struct {
	ID          string   `json:"id"`
	Status      Status   `json:"status"`
	Type        Type     `json:"type"`
	Priority    int      `json:"priority"`
	CreatedAt   string   `json:"created_at"`
	StartedAt   string   `json:"started_at,omitempty"`
	CompletedAt string   `json:"completed_at,omitempty"`
	Progress    int      `json:"progress"`
	InputFile   string   `json:"input_file"`
	UploadID    string   `json:"upload_id,omitempty"`
	OutputFile  string   `json:"output_file,omitempty"`
	ResultURL   string   `json:"result_url,omitempty"`
	Error       string   `json:"error,omitempty"`
	Metadata    Metadata `json:"metadata"`

	// QueuePosition is populated only by list_pending; it is never
	// persisted to the store.
	QueuePosition int `json:"queue_position,omitempty"`
}

// Stats is a snapshot of queue depth and recent completion counts.
type Stats struct {
	Queued      int64 `json:"queued"`
	Processing  int64 `json:"processing"`
	Completed8h int64 `json:"completed_8h"`
	Failed7d    int64 `json:"failed_7d"`
}
