package domain

import "github.com/jmoiron/sqlx/types"

// Schedule is a stored cron schedule owned by the web application
type Schedule struct {
	ID                 string             `db:"id"`
	AutomationID       string             `db:"automation_id"`
	CronExpression     string             `db:"cron_expression"`
	Timezone           string             `db:"timezone"`
	RuntimeEnvironment types.NullJSONText `db:"runtime_environment"`
}

// Automation is the subset of an automation record the scheduler consults
type Automation struct {
	ID             string `db:"id"`
	TriggerEnabled bool   `db:"trigger_enabled"`
}
