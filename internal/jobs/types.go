package jobs

const (
	TaskRenderSession = "session:render"
)

// Video describes one staged upload; the bytes live in the scratch store under ObjectID.
type Video struct {
	ObjectID string `json:"object_id"` // scratch store id
	Caption  string `json:"caption"`
	Duration int    `json:"duration"` // seconds
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileName string `json:"file_name"`
	Size     int64  `json:"size"` // bytes as reported by Telegram
}

type RenderPayload struct {
	SessionID   string  `json:"session_id"` // ULID of the editing session
	ChatID      int64   `json:"chat_id"`
	UserID      int64   `json:"user_id"`
	Videos      []Video `json:"videos"`        // arrival order
	ThumbFileID string  `json:"thumb_file_id"` // Telegram file_id, shared by every video
	Find        string  `json:"find"`          // optional
	Replace     string  `json:"replace"`       // optional
}
