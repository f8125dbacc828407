package eventbus

// Event types published by the engine.
const (
	TypeUpdateDispatched = "ingest.dispatched"
	TypeUpdateDuplicate  = "ingest.duplicate"
	TypeDispatchFailed   = "ingest.dispatch_failed"

	TypeTenantProvisioned = "tenant.provisioned"

	TypeHeartbeatCycle = "heartbeat.cycle"

	TypeNotifierSent    = "notifier.sent"
	TypeNotifierFailed  = "notifier.failed"
	TypeNotifierDropped = "notifier.dropped"
	TypeNotifierDeduped = "notifier.deduped"

	TypeReminderSent = "reminder.sent"

	TypeScheduleRun = "schedule.run"
)
