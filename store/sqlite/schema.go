package sqlite

// Tenant scope columns default to the empty string rather than NULL so the
// uniqueness constraints hold for platform-scoped rows.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                TEXT PRIMARY KEY,
	email             TEXT NOT NULL UNIQUE,
	name              TEXT NOT NULL DEFAULT '',
	avatar_url        TEXT NOT NULL DEFAULT '',
	is_platform_owner INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	last_login_at     INTEGER
);

CREATE TABLE IF NOT EXISTS identities (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	provider           TEXT NOT NULL,
	provider_user_id   TEXT NOT NULL,
	email              TEXT NOT NULL DEFAULT '',
	access_token       TEXT NOT NULL DEFAULT '',
	access_token_enc   BLOB,
	refresh_token      TEXT NOT NULL DEFAULT '',
	refresh_token_enc  BLOB,
	enc_key_id         TEXT NOT NULL DEFAULT '',
	token_expires_at   INTEGER,
	scopes             TEXT NOT NULL DEFAULT '',
	issuing_org_id     TEXT NOT NULL DEFAULT '',
	issuing_service_id TEXT NOT NULL DEFAULT '',
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL,
	UNIQUE (user_id, provider, issuing_org_id, issuing_service_id)
);
CREATE INDEX IF NOT EXISTS idx_identities_user ON identities(user_id);
CREATE INDEX IF NOT EXISTS idx_identities_subject ON identities(provider, provider_user_id);
CREATE INDEX IF NOT EXISTS idx_identities_expiry ON identities(token_expires_at);

CREATE TABLE IF NOT EXISTS oauth_states (
	state            TEXT PRIMARY KEY,
	provider         TEXT NOT NULL,
	pkce_verifier    TEXT NOT NULL DEFAULT '',
	redirect_uri     TEXT NOT NULL DEFAULT '',
	org_slug         TEXT NOT NULL DEFAULT '',
	service_slug     TEXT NOT NULL DEFAULT '',
	is_admin_flow    INTEGER NOT NULL DEFAULT 0,
	link_user_id     TEXT NOT NULL DEFAULT '',
	device_user_code TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	expires_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oauth_states_expiry ON oauth_states(expires_at);

CREATE TABLE IF NOT EXISTS device_codes (
	id           TEXT PRIMARY KEY,
	device_code  TEXT NOT NULL UNIQUE,
	user_code    TEXT NOT NULL UNIQUE,
	client_id    TEXT NOT NULL,
	org_slug     TEXT NOT NULL DEFAULT '',
	service_slug TEXT NOT NULL DEFAULT '',
	user_id      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	expires_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_device_codes_expiry ON device_codes(expires_at);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	token_hash TEXT NOT NULL UNIQUE,
	org_id     TEXT NOT NULL DEFAULT '',
	service_id TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	ip_address TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expires_at);

CREATE TABLE IF NOT EXISTS token_refresh_locks (
	lock_key    TEXT PRIMARY KEY,
	acquired_at INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS organizations (
	id         TEXT PRIMARY KEY,
	slug       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'pending',
	plan       TEXT NOT NULL DEFAULT '',
	features   TEXT NOT NULL DEFAULT '[]',
	owner_id   TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS services (
	id              TEXT PRIMARY KEY,
	org_id          TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	slug            TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	redirect_uris   TEXT NOT NULL DEFAULT '[]',
	provider_scopes TEXT NOT NULL DEFAULT '{}',
	created_at      INTEGER NOT NULL,
	UNIQUE (org_id, slug)
);

CREATE TABLE IF NOT EXISTS organization_oauth_credentials (
	id                TEXT PRIMARY KEY,
	org_id            TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	provider          TEXT NOT NULL,
	client_id         TEXT NOT NULL,
	client_secret_enc BLOB NOT NULL,
	enc_key_id        TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	UNIQUE (org_id, provider)
);

CREATE TABLE IF NOT EXISTS provider_token_grants (
	id         TEXT PRIMARY KEY,
	service_id TEXT NOT NULL,
	provider   TEXT NOT NULL,
	required   INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE (service_id, provider)
);
`
