package storage

import (
	"database/sql"
	"fmt"
)

var sqliteMigrations = []string{
	// Migration 1: Cost pipeline schema
	`CREATE TABLE IF NOT EXISTS cost_exports (
		id                   TEXT PRIMARY KEY,
		blob_path            TEXT NOT NULL,
		subscription_id      TEXT NOT NULL DEFAULT '',
		export_name          TEXT NOT NULL DEFAULT '',
		export_guid          TEXT NOT NULL DEFAULT '',
		part_number          INTEGER NOT NULL DEFAULT 0,
		billing_period_start TEXT NOT NULL DEFAULT '',
		billing_period_end   TEXT NOT NULL DEFAULT '',
		status               TEXT NOT NULL CHECK(status IN ('pending', 'processing', 'completed', 'failed', 'superseded')),
		blob_last_modified   DATETIME,
		blob_etag            TEXT NOT NULL DEFAULT '',
		blob_size            INTEGER NOT NULL DEFAULT 0,
		records_imported     INTEGER NOT NULL DEFAULT 0,
		duplicates_skipped   INTEGER NOT NULL DEFAULT 0,
		duplicates_in_file   INTEGER NOT NULL DEFAULT 0,
		rows_failed          INTEGER NOT NULL DEFAULT 0,
		error_message        TEXT NOT NULL DEFAULT '',
		created_at           DATETIME NOT NULL,
		updated_at           DATETIME NOT NULL,
		completed_at         DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_exports_blob_path ON cost_exports(blob_path);
	CREATE INDEX IF NOT EXISTS idx_exports_period ON cost_exports(subscription_id, export_name, billing_period_start);

	CREATE TABLE IF NOT EXISTS cost_records (
		id                       INTEGER PRIMARY KEY AUTOINCREMENT,
		export_id                TEXT NOT NULL REFERENCES cost_exports(id) ON DELETE CASCADE,
		billed_cost              REAL NOT NULL DEFAULT 0.0,
		effective_cost           REAL NOT NULL DEFAULT 0.0,
		list_cost                REAL NOT NULL DEFAULT 0.0,
		contracted_cost          REAL NOT NULL DEFAULT 0.0,
		billing_currency         TEXT NOT NULL,
		charge_period_start      DATETIME NOT NULL,
		charge_period_end        DATETIME NOT NULL,
		charge_date              TEXT NOT NULL,
		charge_month             TEXT NOT NULL,
		billing_period_start     TEXT NOT NULL DEFAULT '',
		billing_period_end       TEXT NOT NULL DEFAULT '',
		billing_account_id       TEXT NOT NULL DEFAULT '',
		sub_account_id           TEXT NOT NULL DEFAULT '',
		sub_account_name         TEXT NOT NULL DEFAULT '',
		resource_id              TEXT NOT NULL DEFAULT '',
		resource_name            TEXT NOT NULL DEFAULT '',
		resource_type            TEXT NOT NULL DEFAULT '',
		resource_group           TEXT NOT NULL DEFAULT '',
		region_id                TEXT NOT NULL DEFAULT '',
		region_name              TEXT NOT NULL DEFAULT '',
		service_name             TEXT NOT NULL DEFAULT '',
		service_category         TEXT NOT NULL DEFAULT '',
		sku_id                   TEXT NOT NULL DEFAULT '',
		charge_category          TEXT NOT NULL DEFAULT '',
		charge_class             TEXT NOT NULL DEFAULT '',
		charge_description       TEXT NOT NULL DEFAULT '',
		consumed_quantity        REAL NOT NULL DEFAULT 0.0,
		consumed_unit            TEXT NOT NULL DEFAULT '',
		pricing_quantity         REAL NOT NULL DEFAULT 0.0,
		pricing_unit             TEXT NOT NULL DEFAULT '',
		commitment_discount_id   TEXT NOT NULL DEFAULT '',
		commitment_discount_type TEXT NOT NULL DEFAULT '',
		tags                     TEXT NOT NULL DEFAULT '{}',
		record_hash              TEXT NOT NULL UNIQUE,
		created_at               DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_records_export ON cost_records(export_id);
	CREATE INDEX IF NOT EXISTS idx_records_date ON cost_records(billing_currency, charge_date);
	CREATE INDEX IF NOT EXISTS idx_records_month ON cost_records(billing_currency, charge_month);
	CREATE INDEX IF NOT EXISTS idx_records_commitment ON cost_records(commitment_discount_id);

	CREATE TABLE IF NOT EXISTS cost_aggregations (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		aggregation_type TEXT NOT NULL CHECK(aggregation_type IN ('daily', 'monthly')),
		dimension_type   TEXT NOT NULL,
		dimension_value  TEXT NOT NULL,
		period_start     TEXT NOT NULL,
		period_end       TEXT NOT NULL,
		currency         TEXT NOT NULL,
		total_cost       REAL NOT NULL DEFAULT 0.0,
		usage_cost       REAL NOT NULL DEFAULT 0.0,
		purchase_cost    REAL NOT NULL DEFAULT 0.0,
		tax_cost         REAL NOT NULL DEFAULT 0.0,
		record_count     INTEGER NOT NULL DEFAULT 0,
		top_services     TEXT NOT NULL DEFAULT '[]',
		top_resources    TEXT NOT NULL DEFAULT '[]',
		updated_at       DATETIME NOT NULL,
		UNIQUE(aggregation_type, dimension_type, dimension_value, period_start, currency)
	);

	CREATE INDEX IF NOT EXISTS idx_aggregations_lookup ON cost_aggregations(aggregation_type, currency, dimension_type, period_start);

	CREATE TABLE IF NOT EXISTS cost_anomalies (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		detected_date     TEXT NOT NULL,
		dimension_type    TEXT NOT NULL,
		dimension_value   TEXT NOT NULL,
		anomaly_type      TEXT NOT NULL,
		detection_method  TEXT NOT NULL,
		severity          TEXT NOT NULL CHECK(severity IN ('low', 'medium', 'high', 'critical')),
		actual_cost       REAL NOT NULL,
		expected_cost     REAL NOT NULL,
		deviation_percent REAL NOT NULL,
		z_score           REAL NOT NULL DEFAULT 0.0,
		currency          TEXT NOT NULL,
		description       TEXT NOT NULL DEFAULT '',
		created_at        DATETIME NOT NULL,
		UNIQUE(detected_date, dimension_type, dimension_value)
	);

	CREATE TABLE IF NOT EXISTS cost_forecasts (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		forecast_date    TEXT NOT NULL,
		dimension_type   TEXT NOT NULL,
		dimension_value  TEXT NOT NULL,
		currency         TEXT NOT NULL,
		forecast_cost    REAL NOT NULL,
		lower_bound      REAL NOT NULL,
		upper_bound      REAL NOT NULL,
		confidence_level REAL NOT NULL,
		model_type       TEXT NOT NULL,
		training_days    INTEGER NOT NULL,
		metadata         TEXT NOT NULL DEFAULT '{}',
		created_at       DATETIME NOT NULL,
		updated_at       DATETIME NOT NULL,
		UNIQUE(forecast_date, dimension_type, dimension_value)
	);

	CREATE TABLE IF NOT EXISTS reservation_costs (
		reservation_id    TEXT NOT NULL,
		reservation_name  TEXT NOT NULL DEFAULT '',
		billing_period    TEXT NOT NULL,
		currency          TEXT NOT NULL,
		purchase_cost     REAL NOT NULL DEFAULT 0.0,
		term_months       INTEGER NOT NULL DEFAULT 12,
		amortized_monthly REAL NOT NULL DEFAULT 0.0,
		amortized_daily   REAL NOT NULL DEFAULT 0.0,
		source            TEXT NOT NULL CHECK(source IN ('derived', 'manual')),
		updated_at        DATETIME NOT NULL,
		PRIMARY KEY (reservation_id, billing_period)
	);`,
	// Migration 2: Override reservation source
	`CREATE TABLE reservation_costs_v2 (
		reservation_id    TEXT NOT NULL,
		reservation_name  TEXT NOT NULL DEFAULT '',
		billing_period    TEXT NOT NULL,
		currency          TEXT NOT NULL,
		purchase_cost     REAL NOT NULL DEFAULT 0.0,
		term_months       INTEGER NOT NULL DEFAULT 12,
		amortized_monthly REAL NOT NULL DEFAULT 0.0,
		amortized_daily   REAL NOT NULL DEFAULT 0.0,
		source            TEXT NOT NULL CHECK(source IN ('derived', 'override', 'manual')),
		updated_at        DATETIME NOT NULL,
		PRIMARY KEY (reservation_id, billing_period)
	);

	INSERT INTO reservation_costs_v2 SELECT * FROM reservation_costs;
	DROP TABLE reservation_costs;
	ALTER TABLE reservation_costs_v2 RENAME TO reservation_costs;`,
}

var postgresMigrations = []string{
	// Migration 1: Cost pipeline schema
	`CREATE TABLE IF NOT EXISTS cost_exports (
		id                   TEXT PRIMARY KEY,
		blob_path            TEXT NOT NULL,
		subscription_id      TEXT NOT NULL DEFAULT '',
		export_name          TEXT NOT NULL DEFAULT '',
		export_guid          TEXT NOT NULL DEFAULT '',
		part_number          INTEGER NOT NULL DEFAULT 0,
		billing_period_start TEXT NOT NULL DEFAULT '',
		billing_period_end   TEXT NOT NULL DEFAULT '',
		status               TEXT NOT NULL CHECK(status IN ('pending', 'processing', 'completed', 'failed', 'superseded')),
		blob_last_modified   TIMESTAMPTZ,
		blob_etag            TEXT NOT NULL DEFAULT '',
		blob_size            BIGINT NOT NULL DEFAULT 0,
		records_imported     BIGINT NOT NULL DEFAULT 0,
		duplicates_skipped   BIGINT NOT NULL DEFAULT 0,
		duplicates_in_file   BIGINT NOT NULL DEFAULT 0,
		rows_failed          BIGINT NOT NULL DEFAULT 0,
		error_message        TEXT NOT NULL DEFAULT '',
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL,
		completed_at         TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_exports_blob_path ON cost_exports(blob_path);
	CREATE INDEX IF NOT EXISTS idx_exports_period ON cost_exports(subscription_id, export_name, billing_period_start);

	CREATE TABLE IF NOT EXISTS cost_records (
		id                       BIGSERIAL PRIMARY KEY,
		export_id                TEXT NOT NULL REFERENCES cost_exports(id) ON DELETE CASCADE,
		billed_cost              DOUBLE PRECISION NOT NULL DEFAULT 0,
		effective_cost           DOUBLE PRECISION NOT NULL DEFAULT 0,
		list_cost                DOUBLE PRECISION NOT NULL DEFAULT 0,
		contracted_cost          DOUBLE PRECISION NOT NULL DEFAULT 0,
		billing_currency         TEXT NOT NULL,
		charge_period_start      TIMESTAMPTZ NOT NULL,
		charge_period_end        TIMESTAMPTZ NOT NULL,
		charge_date              TEXT NOT NULL,
		charge_month             TEXT NOT NULL,
		billing_period_start     TEXT NOT NULL DEFAULT '',
		billing_period_end       TEXT NOT NULL DEFAULT '',
		billing_account_id       TEXT NOT NULL DEFAULT '',
		sub_account_id           TEXT NOT NULL DEFAULT '',
		sub_account_name         TEXT NOT NULL DEFAULT '',
		resource_id              TEXT NOT NULL DEFAULT '',
		resource_name            TEXT NOT NULL DEFAULT '',
		resource_type            TEXT NOT NULL DEFAULT '',
		resource_group           TEXT NOT NULL DEFAULT '',
		region_id                TEXT NOT NULL DEFAULT '',
		region_name              TEXT NOT NULL DEFAULT '',
		service_name             TEXT NOT NULL DEFAULT '',
		service_category         TEXT NOT NULL DEFAULT '',
		sku_id                   TEXT NOT NULL DEFAULT '',
		charge_category          TEXT NOT NULL DEFAULT '',
		charge_class             TEXT NOT NULL DEFAULT '',
		charge_description       TEXT NOT NULL DEFAULT '',
		consumed_quantity        DOUBLE PRECISION NOT NULL DEFAULT 0,
		consumed_unit            TEXT NOT NULL DEFAULT '',
		pricing_quantity         DOUBLE PRECISION NOT NULL DEFAULT 0,
		pricing_unit             TEXT NOT NULL DEFAULT '',
		commitment_discount_id   TEXT NOT NULL DEFAULT '',
		commitment_discount_type TEXT NOT NULL DEFAULT '',
		tags                     TEXT NOT NULL DEFAULT '{}',
		record_hash              TEXT NOT NULL UNIQUE,
		created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_records_export ON cost_records(export_id);
	CREATE INDEX IF NOT EXISTS idx_records_date ON cost_records(billing_currency, charge_date);
	CREATE INDEX IF NOT EXISTS idx_records_month ON cost_records(billing_currency, charge_month);
	CREATE INDEX IF NOT EXISTS idx_records_commitment ON cost_records(commitment_discount_id);

	CREATE TABLE IF NOT EXISTS cost_aggregations (
		id               BIGSERIAL PRIMARY KEY,
		aggregation_type TEXT NOT NULL CHECK(aggregation_type IN ('daily', 'monthly')),
		dimension_type   TEXT NOT NULL,
		dimension_value  TEXT NOT NULL,
		period_start     TEXT NOT NULL,
		period_end       TEXT NOT NULL,
		currency         TEXT NOT NULL,
		total_cost       DOUBLE PRECISION NOT NULL DEFAULT 0,
		usage_cost       DOUBLE PRECISION NOT NULL DEFAULT 0,
		purchase_cost    DOUBLE PRECISION NOT NULL DEFAULT 0,
		tax_cost         DOUBLE PRECISION NOT NULL DEFAULT 0,
		record_count     BIGINT NOT NULL DEFAULT 0,
		top_services     TEXT NOT NULL DEFAULT '[]',
		top_resources    TEXT NOT NULL DEFAULT '[]',
		updated_at       TIMESTAMPTZ NOT NULL,
		UNIQUE(aggregation_type, dimension_type, dimension_value, period_start, currency)
	);

	CREATE INDEX IF NOT EXISTS idx_aggregations_lookup ON cost_aggregations(aggregation_type, currency, dimension_type, period_start);

	CREATE TABLE IF NOT EXISTS cost_anomalies (
		id                BIGSERIAL PRIMARY KEY,
		detected_date     TEXT NOT NULL,
		dimension_type    TEXT NOT NULL,
		dimension_value   TEXT NOT NULL,
		anomaly_type      TEXT NOT NULL,
		detection_method  TEXT NOT NULL,
		severity          TEXT NOT NULL CHECK(severity IN ('low', 'medium', 'high', 'critical')),
		actual_cost       DOUBLE PRECISION NOT NULL,
		expected_cost     DOUBLE PRECISION NOT NULL,
		deviation_percent DOUBLE PRECISION NOT NULL,
		z_score           DOUBLE PRECISION NOT NULL DEFAULT 0,
		currency          TEXT NOT NULL,
		description       TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL,
		UNIQUE(detected_date, dimension_type, dimension_value)
	);

	CREATE TABLE IF NOT EXISTS cost_forecasts (
		id               BIGSERIAL PRIMARY KEY,
		forecast_date    TEXT NOT NULL,
		dimension_type   TEXT NOT NULL,
		dimension_value  TEXT NOT NULL,
		currency         TEXT NOT NULL,
		forecast_cost    DOUBLE PRECISION NOT NULL,
		lower_bound      DOUBLE PRECISION NOT NULL,
		upper_bound      DOUBLE PRECISION NOT NULL,
		confidence_level DOUBLE PRECISION NOT NULL,
		model_type       TEXT NOT NULL,
		training_days    INTEGER NOT NULL,
		metadata         TEXT NOT NULL DEFAULT '{}',
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL,
		UNIQUE(forecast_date, dimension_type, dimension_value)
	);

	CREATE TABLE IF NOT EXISTS reservation_costs (
		reservation_id    TEXT NOT NULL,
		reservation_name  TEXT NOT NULL DEFAULT '',
		billing_period    TEXT NOT NULL,
		currency          TEXT NOT NULL,
		purchase_cost     DOUBLE PRECISION NOT NULL DEFAULT 0,
		term_months       INTEGER NOT NULL DEFAULT 12,
		amortized_monthly DOUBLE PRECISION NOT NULL DEFAULT 0,
		amortized_daily   DOUBLE PRECISION NOT NULL DEFAULT 0,
		source            TEXT NOT NULL CHECK(source IN ('derived', 'manual')),
		updated_at        TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (reservation_id, billing_period)
	);`,
	// Migration 2: Override reservation source
	`ALTER TABLE reservation_costs DROP CONSTRAINT IF EXISTS reservation_costs_source_check;
	ALTER TABLE reservation_costs ADD CONSTRAINT reservation_costs_source_check
		CHECK(source IN ('derived', 'override', 'manual'));`,
}

// runMigrations applies pending schema migrations.
func runMigrations(db *sql.DB, migrations []string) error {
	// Ensure migration tracking table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		// Literal version keeps this statement placeholder-free for both drivers.
		if _, err := tx.Exec(fmt.Sprintf("INSERT INTO schema_migrations (version) VALUES (%d)", i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
