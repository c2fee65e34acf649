package models

// CallbackAction type of callback action
type CallbackAction string

const (
	CallbackMarkRead CallbackAction = "mr"
	CallbackArchive  CallbackAction = "ar"
	CallbackReply    CallbackAction = "re"
	CallbackView     CallbackAction = "vw"
)

// CallbackData structure for inline button callback. Message-IDs do not
// fit the callback size limit, so buttons carry the store sequence number.
type CallbackData struct {
	Action CallbackAction `json:"a"`
	Seq    int64          `json:"m"`
}
