package consts

// Run status
const (
	State_Running   = "running"
	State_Completed = "completed"
	State_Failed    = "failed"
)

// Order status as recorded for the dashboard
const (
	Order_Submitted = "submitted"
	Order_Rejected  = "rejected"
	Order_DryRun    = "dry_run"
	Order_Skipped   = "skipped"
)

// Post outcomes
const (
	Post_Judged    = "judged"
	Post_Duplicate = "duplicate"
	Post_Stale     = "stale"
	Post_NoTicker  = "no_ticker"
	Post_Cached    = "cached"
	Post_Failed    = "failed"
)
