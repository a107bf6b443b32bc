package codec

import "github.com/matheus3301/chatsync/internal/docstore"

// Collection names.
const (
	Users         = "users"
	Conversations = "conversations"
	Accounts      = "accounts"
)

func UserPath(uid string) string { return docstore.Join(Users, uid) }

func ConversationPath(cid string) string { return docstore.Join(Conversations, cid) }

func Messages(cid string) string { return docstore.Join(Conversations, cid, "messages") }

func MessagePath(cid, mid string) string { return docstore.Join(Messages(cid), mid) }

func Typing(cid string) string { return docstore.Join(Conversations, cid, "typing") }

func TypingPath(cid, uid string) string { return docstore.Join(Typing(cid), uid) }

// ConversationOf extracts the conversation id from a message or typing path.
func ConversationOf(docPath string) string {
	col, _ := docstore.Split(docPath)
	parent, _ := docstore.Split(col)
	_, cid := docstore.Split(parent)
	return cid
}
