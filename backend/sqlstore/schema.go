package sqlstore

// schemaPostgres and schemaSQLite describe the same three tables in each
// driver's own DDL dialect: mailboxes, messages, and subscriptions. Keywords
// are stored as JSON text rather than a normalized side table, matching the
// teacher's own flags-as-a-flat-column approach rather than introducing a
// join for what SearchEvaluator only ever reads back whole. There is no
// headers column: body always holds the complete raw message, so headers
// are parsed from it on read instead of duplicating them in storage.
const schemaPostgres = `
CREATE TABLE IF NOT EXISTS mailboxes (
	id SERIAL PRIMARY KEY,
	owner TEXT NOT NULL,
	namespace TEXT NOT NULL,
	name TEXT NOT NULL,
	delimiter SMALLINT NOT NULL,
	uid_validity INTEGER NOT NULL DEFAULT 0,
	last_uid INTEGER NOT NULL DEFAULT 0,
	highest_modseq BIGINT NOT NULL DEFAULT 0,
	UNIQUE(owner, namespace, name)
);

CREATE TABLE IF NOT EXISTS messages (
	id SERIAL PRIMARY KEY,
	mailbox_id INTEGER NOT NULL REFERENCES mailboxes(id) ON DELETE CASCADE,
	uid INTEGER NOT NULL,
	modseq BIGINT NOT NULL,
	internal_date TIMESTAMPTZ NOT NULL,
	size BIGINT NOT NULL,
	seen BOOLEAN NOT NULL DEFAULT FALSE,
	answered BOOLEAN NOT NULL DEFAULT FALSE,
	flagged BOOLEAN NOT NULL DEFAULT FALSE,
	draft BOOLEAN NOT NULL DEFAULT FALSE,
	deleted BOOLEAN NOT NULL DEFAULT FALSE,
	keywords TEXT NOT NULL DEFAULT '[]',
	body BYTEA,
	UNIQUE(mailbox_id, uid)
);
CREATE INDEX IF NOT EXISTS messages_mailbox_modseq ON messages(mailbox_id, modseq);

CREATE TABLE IF NOT EXISTS subscriptions (
	id SERIAL PRIMARY KEY,
	owner TEXT NOT NULL,
	path TEXT NOT NULL,
	UNIQUE(owner, path)
);
`

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS mailboxes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner TEXT NOT NULL,
	namespace TEXT NOT NULL,
	name TEXT NOT NULL,
	delimiter INTEGER NOT NULL,
	uid_validity INTEGER NOT NULL DEFAULT 0,
	last_uid INTEGER NOT NULL DEFAULT 0,
	highest_modseq INTEGER NOT NULL DEFAULT 0,
	UNIQUE(owner, namespace, name)
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mailbox_id INTEGER NOT NULL REFERENCES mailboxes(id) ON DELETE CASCADE,
	uid INTEGER NOT NULL,
	modseq INTEGER NOT NULL,
	internal_date DATETIME NOT NULL,
	size INTEGER NOT NULL,
	seen BOOLEAN NOT NULL DEFAULT 0,
	answered BOOLEAN NOT NULL DEFAULT 0,
	flagged BOOLEAN NOT NULL DEFAULT 0,
	draft BOOLEAN NOT NULL DEFAULT 0,
	deleted BOOLEAN NOT NULL DEFAULT 0,
	keywords TEXT NOT NULL DEFAULT '[]',
	body BLOB,
	UNIQUE(mailbox_id, uid)
);
CREATE INDEX IF NOT EXISTS messages_mailbox_modseq ON messages(mailbox_id, modseq);

CREATE TABLE IF NOT EXISTS subscriptions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner TEXT NOT NULL,
	path TEXT NOT NULL,
	UNIQUE(owner, path)
);
`
