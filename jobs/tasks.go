package jobs

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileNightly runs the nightly inventory-versus-GL reconciliation.
	TaskReconcileNightly = "reconcile:nightly"
	// TaskStandardCostRefresh re-rolls standard costs for every bill of materials.
	TaskStandardCostRefresh = "costing:standard_refresh"
)
