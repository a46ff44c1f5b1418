package core

// Well-known job identifiers.
const (
	// JobRenumber reorders the pending production queue daily at 00:01.
	JobRenumber = "production-renumber"

	// JobDailyCheck snapshots queue depth and prunes the run log, daily at
	// the configured check time.
	JobDailyCheck = "daily-check"

	// JobFollowUp dispatches follow-up reminders, daily at the check time
	// plus the configured delay.
	JobFollowUp = "followup-dispatch"
)
