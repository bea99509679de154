package scriptarchive

import (
	"github.com/rs/xid"
	"sync"
)

var sessionOnce sync.Once
var sessionID string

/**
identifier for this submitting process, shared by every archive it creates
*/
func SessionID() string {
	sessionOnce.Do(func() {
		sessionID = xid.New().String()
	})
	return sessionID
}
