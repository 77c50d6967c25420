package repository

// ClickHouseSchema creates the database and tables used by the ClickHouse
// repositories. Statements are idempotent.
var ClickHouseSchema = []string{
	`CREATE DATABASE IF NOT EXISTS stocksense`,
	`CREATE TABLE IF NOT EXISTS stocksense.daily_bars (
        date   Date,
        ticker LowCardinality(String),
        open   Float64,
        high   Float64,
        low    Float64,
        close  Float64,
        volume Float64
    ) ENGINE = ReplacingMergeTree
    ORDER BY (ticker, date)`,
	`CREATE TABLE IF NOT EXISTS stocksense.predictions (
        ticker           LowCardinality(String),
        as_of            Date,
        generated_at     DateTime64(3),
        signal           LowCardinality(String),
        confidence       Float64,
        current_price    Float64,
        predicted_price  Float64,
        predicted_return Float64,
        horizon_days     UInt16,
        model_version    Int64,
        payload          String
    ) ENGINE = MergeTree
    ORDER BY (ticker, generated_at)`,
}

// PostgresSchema creates the versioned artifact tables.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS scalers (
        ticker     TEXT        NOT NULL,
        version    BIGINT      NOT NULL,
        payload    JSONB       NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (ticker, version)
    )`,
	`CREATE TABLE IF NOT EXISTS models (
        ticker     TEXT        NOT NULL,
        version    BIGINT      NOT NULL,
        payload    JSONB       NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (ticker, version)
    )`,
}
