package database

// schema is applied statement by statement; the driver runs without multiStatements.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS quota (
    id CHAR(36) NOT NULL PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    type VARCHAR(48) NOT NULL,
    amount INT NOT NULL,
    consumed INT NOT NULL DEFAULT 0,
    issued_at DATETIME(6) NOT NULL,
    expires_at DATETIME(6) NULL,
    daily_key DATE NULL,
    created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    UNIQUE KEY uniq_quota_daily (user_id, daily_key),
    KEY idx_quota_user_issued (user_id, issued_at),
    CONSTRAINT chk_quota_amount CHECK (amount >= 0),
    CONSTRAINT chk_quota_consumed CHECK (consumed >= 0)
)`,

	`CREATE TABLE IF NOT EXISTS quota_transaction (
    id CHAR(36) NOT NULL PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    quota_id CHAR(36) NOT NULL,
    type VARCHAR(16) NOT NULL,
    amount INT NOT NULL,
    balance_before INT NOT NULL,
    balance_after INT NOT NULL,
    related_transaction_id CHAR(36) NULL,
    note VARCHAR(255) NOT NULL DEFAULT '',
    created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    UNIQUE KEY uniq_quota_transaction_related (related_transaction_id),
    KEY idx_quota_transaction_user (user_id, created_at),
    FOREIGN KEY (quota_id) REFERENCES quota(id)
)`,

	`CREATE TABLE IF NOT EXISTS quota_transaction_allocation (
    transaction_id CHAR(36) NOT NULL,
    quota_id CHAR(36) NOT NULL,
    position INT NOT NULL,
    amount INT NOT NULL,
    PRIMARY KEY (transaction_id, position),
    FOREIGN KEY (transaction_id) REFERENCES quota_transaction(id),
    FOREIGN KEY (quota_id) REFERENCES quota(id)
)`,

	`CREATE TABLE IF NOT EXISTS media_generation_task (
    id CHAR(36) NOT NULL PRIMARY KEY,
    share_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    task_type VARCHAR(32) NOT NULL,
    provider VARCHAR(32) NOT NULL,
    provider_request_id VARCHAR(128) NOT NULL DEFAULT '',
    model VARCHAR(128) NOT NULL,
    status VARCHAR(16) NOT NULL,
    progress INT NOT NULL DEFAULT 0,
    parameters JSON NOT NULL,
    results JSON NULL,
    consume_transaction_id CHAR(36) NOT NULL,
    refund_transaction_id CHAR(36) NULL,
    credits_cost INT NOT NULL,
    error JSON NULL,
    started_at DATETIME(6) NOT NULL,
    completed_at DATETIME(6) NULL,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    deleted_at DATETIME(6) NULL,
    UNIQUE KEY uniq_task_share (share_id),
    KEY idx_task_user_created (user_id, created_at),
    FOREIGN KEY (consume_transaction_id) REFERENCES quota_transaction(id)
)`,

	`CREATE TABLE IF NOT EXISTS subscription (
    id CHAR(36) NOT NULL PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    plan_type VARCHAR(48) NOT NULL,
    next_plan_type VARCHAR(48) NULL,
    status VARCHAR(16) NOT NULL,
    amount_paid BIGINT NOT NULL DEFAULT 0,
    currency VARCHAR(8) NOT NULL DEFAULT 'USD',
    expires_at DATETIME(6) NULL,
    next_billing_date DATETIME(6) NULL,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    UNIQUE KEY uniq_subscription_user (user_id)
)`,

	"CREATE TABLE IF NOT EXISTS `transaction` (" + `
    id CHAR(36) NOT NULL PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    provider VARCHAR(32) NOT NULL,
    provider_transaction_id VARCHAR(128) NOT NULL,
    event_type VARCHAR(48) NOT NULL,
    plan_type VARCHAR(48) NOT NULL DEFAULT '',
    amount BIGINT NOT NULL DEFAULT 0,
    currency VARCHAR(8) NOT NULL DEFAULT '',
    status VARCHAR(16) NOT NULL,
    raw_payload TEXT NULL,
    created_at DATETIME(6) NOT NULL,
    UNIQUE KEY uniq_transaction_provider (provider, provider_transaction_id),
    KEY idx_transaction_user (user_id, created_at)
)`,
}
