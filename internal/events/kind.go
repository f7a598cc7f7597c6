package events

// Kind enumerates the inbound events. The set is closed: adding a kind
// means adding a method to Handler, which every dispatcher must implement.
type Kind int

const (
	KindUnknown Kind = iota
	KindGetConversationList
	KindAddConversation
	KindGetMessageList
	KindSendMessage
	KindReadMessage
	KindGetUnreadInfo
	KindGetUnreadMessages

	numKinds
)

// Names of unsolicited pushes.
const (
	ReceiveMessageEvent = "Event.ReceiveMessage"
	UnreadUpdateEvent   = "Event.UnreadUpdate"
)

var kindNames = [numKinds]string{
	KindUnknown:             "",
	KindGetConversationList: "Event.GetConversationList",
	KindAddConversation:     "Event.AddConversation",
	KindGetMessageList:      "Event.GetMessageList",
	KindSendMessage:         "Event.SendMessage",
	KindReadMessage:         "Event.ReadMessage",
	KindGetUnreadInfo:       "Event.GetUnreadInfo",
	KindGetUnreadMessages:   "Event.GetUnreadMessages",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, numKinds)
	for k := KindUnknown + 1; k < numKinds; k++ {
		m[kindNames[k]] = k
	}
	return m
}()

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return ""
	}
	return kindNames[k]
}

// ParseKind returns KindUnknown for names outside the protocol.
func ParseKind(name string) Kind {
	return kindsByName[name]
}

// Kinds lists every valid kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, numKinds-1)
	for k := KindUnknown + 1; k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}
