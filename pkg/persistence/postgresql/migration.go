package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Execution log: one row per materialized task
			CREATE TABLE task_executions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL,
				workflow_type VARCHAR(255) NOT NULL,
				task_type VARCHAR(255) NOT NULL,
				executor_kind VARCHAR(20) NOT NULL CHECK (executor_kind IN ('ai', 'human')),
				sequence_order INT NOT NULL DEFAULT 0,
				status VARCHAR(50) NOT NULL CHECK (status IN ('not_started', 'in_progress', 'interrupt', 'completed', 'failed')),
				dependencies JSONB,
				sla_hours INT NOT NULL DEFAULT 0,
				sla_due_at TIMESTAMP WITH TIME ZONE,
				sla_status VARCHAR(20) NOT NULL DEFAULT 'on_time' CHECK (sla_status IN ('on_time', 'at_risk', 'breached')),
				retry_count INT NOT NULL DEFAULT 0,
				max_retries INT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT NOT NULL DEFAULT '',
				output_data JSONB,
				assigned_operator VARCHAR(255) NOT NULL DEFAULT '',
				version BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (workflow_id, task_type)
			);

			CREATE INDEX idx_task_executions_workflow_id ON task_executions(workflow_id);
			CREATE INDEX idx_task_executions_status ON task_executions(status);
			CREATE INDEX idx_task_executions_sla_due_at ON task_executions(sla_due_at) WHERE status IN ('not_started', 'in_progress', 'interrupt');

			-- HIL review items, never physically deleted
			CREATE TABLE interrupts (
				id UUID PRIMARY KEY,
				task_id UUID NOT NULL REFERENCES task_executions(id),
				workflow_id UUID NOT NULL,
				reason TEXT NOT NULL,
				priority VARCHAR(20) NOT NULL CHECK (priority IN ('low', 'medium', 'high', 'urgent')),
				status VARCHAR(20) NOT NULL CHECK (status IN ('open', 'resolved')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				resolved_at TIMESTAMP WITH TIME ZONE,
				resolved_by VARCHAR(255) NOT NULL DEFAULT '',
				resolution_notes TEXT NOT NULL DEFAULT ''
			);

			-- At most one open interrupt per task
			CREATE UNIQUE INDEX idx_interrupts_open_task ON interrupts(task_id) WHERE status = 'open';
			CREATE INDEX idx_interrupts_status ON interrupts(status);

			CREATE TABLE hil_notifications (
				id UUID PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				type VARCHAR(50) NOT NULL,
				priority VARCHAR(20) NOT NULL CHECK (priority IN ('low', 'medium', 'high', 'urgent')),
				title VARCHAR(500) NOT NULL,
				message TEXT NOT NULL,
				read BOOLEAN NOT NULL DEFAULT FALSE,
				action_ref JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_hil_notifications_user_unread ON hil_notifications(user_id) WHERE read = FALSE;
			CREATE INDEX idx_hil_notifications_created_at ON hil_notifications(created_at);

			-- Append-only compliance log
			CREATE TABLE audit_events (
				id UUID PRIMARY KEY,
				actor VARCHAR(255) NOT NULL,
				action VARCHAR(100) NOT NULL,
				resource_ref VARCHAR(500) NOT NULL,
				event_data JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_audit_events_resource_ref ON audit_events(resource_ref);
			CREATE INDEX idx_audit_events_created_at ON audit_events(created_at);

			-- Outbound resume-signal queue, at-least-once delivery
			CREATE TABLE resume_signals (
				id UUID PRIMARY KEY,
				task_id UUID NOT NULL,
				workflow_id UUID NOT NULL,
				resolution_id UUID NOT NULL,
				attempts INT NOT NULL DEFAULT 0,
				delivered_at TIMESTAMP WITH TIME ZONE,
				last_error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (task_id, resolution_id)
			);

			CREATE INDEX idx_resume_signals_pending ON resume_signals(created_at) WHERE delivered_at IS NULL;
		`,
	}
}
