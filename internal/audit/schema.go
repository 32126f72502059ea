package audit

// Schema bootstraps the bookkeeping tables this system owns: the set
// of DIDs and bots the gateway contract has subscribed, the chain-scan
// cursor used to resume event polling, and a log of DID-update
// payloads already reported on-chain (so a restart doesn't re-submit
// one the chain already has, mirroring the original tool's
// subscribed_dids/shadow_updates Postgres tables).
const Schema = `
CREATE TABLE IF NOT EXISTS subscribed_dids (
	did          TEXT PRIMARY KEY,
	bot          TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	tx_hash      TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS shadow_updates (
	did            TEXT NOT NULL,
	op_index       INT NOT NULL,
	signed_cid     TEXT NOT NULL,
	tx_hash        TEXT,
	reported_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (did, op_index)
);

CREATE TABLE IF NOT EXISTS chain_cursor (
	id           INT PRIMARY KEY DEFAULT 1,
	last_block   BIGINT NOT NULL,
	CHECK (id = 1)
);
`
