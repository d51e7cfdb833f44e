package mailsync

import (
	"time"

	"github.com/mikey/mail-triage/internal/core"
)

// Window returns the start of the fetch window for an account and whether it is a full sync.
// A forced run or an account that was never synced looks back the full lookback; otherwise the
// window reopens overlap before the last sync so late-indexed mail is not missed.
func Window(account core.Account, forceFull bool, now time.Time, lookback, overlap time.Duration) (time.Time, bool) {
	if forceFull || account.Cursor.LastSync.IsZero() {
		return now.Add(-lookback), true
	}
	return account.Cursor.LastSync.Add(-overlap), false
}
