package journal

const Schema = `
CREATE TABLE IF NOT EXISTS plans (
	ref TEXT PRIMARY KEY,
	time DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	exchange TEXT NOT NULL,
	currency TEXT NOT NULL,
	action TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	order_type TEXT NOT NULL,
	order_ids TEXT NOT NULL,
	entry_price REAL NOT NULL,
	stop_price REAL NOT NULL,
	target_price REAL NOT NULL,
	risk_amount REAL NOT NULL,
	note TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS order_status (
	ref TEXT NOT NULL,
	order_id INTEGER NOT NULL,
	parent_id INTEGER NOT NULL,
	status TEXT NOT NULL,
	filled REAL NOT NULL,
	remaining REAL NOT NULL,
	avg_fill_price REAL NOT NULL,
	time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_plans_time ON plans(time);
CREATE INDEX IF NOT EXISTS idx_order_status_ref ON order_status(ref);
`
