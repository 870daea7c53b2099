package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				owner VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(32) NOT NULL CHECK (status IN ('draft', 'active', 'paused', 'archived')),
				layout JSONB,
				max_executions INTEGER NOT NULL DEFAULT 0,
				delay_between_executions_ms BIGINT NOT NULL DEFAULT 0,
				start_date TIMESTAMP WITH TIME ZONE,
				end_date TIMESTAMP WITH TIME ZONE,
				execution_count BIGINT NOT NULL DEFAULT 0,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_owner ON workflows(owner);
			CREATE INDEX idx_workflows_status ON workflows(status);

			CREATE TABLE workflow_nodes (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				node_type VARCHAR(32) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				position_x INT NOT NULL DEFAULT 0,
				position_y INT NOT NULL DEFAULT 0,
				is_active BOOLEAN NOT NULL DEFAULT true,
				config JSONB NOT NULL DEFAULT '{}',
				sort_order INT NOT NULL,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE TABLE workflow_connections (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				source_node_id VARCHAR(255) NOT NULL,
				target_node_id VARCHAR(255) NOT NULL,
				connection_type VARCHAR(32) NOT NULL,
				condition_id VARCHAR(255) NOT NULL DEFAULT '',
				sort_order INT NOT NULL,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_connections_source ON workflow_connections(workflow_id, source_node_id);
		`,
		2: `
			CREATE TABLE triggers (
				id VARCHAR(255) PRIMARY KEY,
				owner VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT true,
				config JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_triggers_type_active ON triggers(trigger_type, is_active);
			CREATE INDEX idx_triggers_owner_type ON triggers(owner, trigger_type);

			CREATE TABLE trigger_workflow_associations (
				id VARCHAR(255) PRIMARY KEY,
				trigger_id VARCHAR(255) NOT NULL REFERENCES triggers(id) ON DELETE CASCADE,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				is_active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (trigger_id, workflow_id)
			);

			CREATE INDEX idx_associations_workflow ON trigger_workflow_associations(workflow_id);
		`,
		3: `
			CREATE TABLE event_logs (
				event_id VARCHAR(255) PRIMARY KEY,
				event_type VARCHAR(64) NOT NULL,
				user_id VARCHAR(255) NOT NULL DEFAULT '',
				tenant_id VARCHAR(255) NOT NULL DEFAULT '',
				conversation_id VARCHAR(255) NOT NULL DEFAULT '',
				data JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_event_logs_conversation ON event_logs(conversation_id, created_at);

			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				triggering_event_id VARCHAR(255) NOT NULL,
				conversation_id VARCHAR(255) NOT NULL DEFAULT '',
				owner VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(32) NOT NULL,
				context JSONB NOT NULL DEFAULT '{}',
				results JSONB NOT NULL DEFAULT '[]',
				continuations JSONB NOT NULL DEFAULT '[]',
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (workflow_id, triggering_event_id)
			);

			CREATE INDEX idx_executions_workflow_started ON workflow_executions(workflow_id, started_at DESC);
			CREATE INDEX idx_executions_workflow_conversation ON workflow_executions(workflow_id, conversation_id, started_at DESC);
			CREATE INDEX idx_executions_conversation_status ON workflow_executions(conversation_id, status);
		`,
		4: `
			ALTER TABLE event_logs ADD COLUMN published_at TIMESTAMP WITH TIME ZONE;
			UPDATE event_logs SET published_at = created_at;
		`,
	}
}
