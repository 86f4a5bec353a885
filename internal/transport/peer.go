package transport

import (
	"strconv"
	"strings"
)

// PeerType classifies a numeric peer ID as "user", "chat", or "channel"
// from its shape: users are positive, channels carry the -100 prefix, and
// every other negative ID is a basic chat.
func PeerType(peerID int64) string {
	s := strconv.FormatInt(peerID, 10)
	switch {
	case !strings.HasPrefix(s, "-"):
		return "user"
	case strings.HasPrefix(s, "-100"):
		return "channel"
	default:
		return "chat"
	}
}
