// pkg/storage/migrations.go
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Up applies (idempotent) DDL for the tool provider:
//   - registered tool consumers (lti_consumers)
//   - resource links and their sharing pointers (lti_resource_links)
//   - users holding a result sourcedid (lti_users)
//   - share keys and replay-protection nonces (lti_share_keys, lti_nonces)
//
// Timestamps are unix seconds so both drivers read them back the same way.
// Call this once on startup (after Connect). Drivers supported: postgres|sqlite.
func Up(ctx context.Context, db *DB) error {
	if db == nil || db.SQL == nil {
		return fmt.Errorf("migrations: db is nil")
	}

	var schema string
	switch normalizeDriver(db.Driver) {
	case "postgres":
		schema = schemaPostgres
	case "sqlite":
		schema = schemaSQLite
	default:
		return fmt.Errorf("migrations: unsupported driver %q (expected postgres|sqlite)", db.Driver)
	}

	// Try to run as a single script; if the driver rejects multiple statements,
	// fall back to splitting on semicolons (sufficient for simple DDL).
	if _, err := db.SQL.ExecContext(ctx, schema); err != nil {
		for _, stmt := range splitSQL(schema) {
			if _, e := db.SQL.ExecContext(ctx, stmt); e != nil {
				return fmt.Errorf("migrations: failed at:\n%s\nerr: %w", firstLine(stmt), e)
			}
		}
	}
	return nil
}

/* ----------------------------- POSTGRES SCHEMA ----------------------------- */

const schemaPostgres = `
-- Tool consumers -------------------------------------------------------------
CREATE TABLE IF NOT EXISTS lti_consumers (
  consumer_key       TEXT PRIMARY KEY,
  name               TEXT NOT NULL,
  secret             TEXT NOT NULL,
  lti_version        TEXT,
  consumer_name      TEXT,
  consumer_version   TEXT,
  consumer_guid      TEXT,
  css_path           TEXT,
  protected          BOOLEAN NOT NULL DEFAULT FALSE,
  enabled            BOOLEAN NOT NULL DEFAULT FALSE,
  enable_from        BIGINT,
  enable_until       BIGINT,
  last_access        BIGINT,
  id_scope           INTEGER NOT NULL DEFAULT 0,
  default_email      TEXT,
  created            BIGINT NOT NULL,
  updated            BIGINT NOT NULL
);

-- Resource links -------------------------------------------------------------
CREATE TABLE IF NOT EXISTS lti_resource_links (
  consumer_key             TEXT NOT NULL REFERENCES lti_consumers(consumer_key),
  resource_link_id         TEXT NOT NULL,
  lti_context_id           TEXT,
  lti_resource_id          TEXT,
  title                    TEXT NOT NULL DEFAULT '',
  settings                 TEXT,                      -- JSON object
  group_sets               TEXT,                      -- JSON object
  groups_json              TEXT,                      -- JSON object
  primary_consumer_key     TEXT,
  primary_resource_link_id TEXT,
  share_approved           BOOLEAN,
  created                  BIGINT NOT NULL,
  updated                  BIGINT NOT NULL,
  PRIMARY KEY (consumer_key, resource_link_id),
  FOREIGN KEY (primary_consumer_key, primary_resource_link_id)
    REFERENCES lti_resource_links(consumer_key, resource_link_id)
);

CREATE INDEX IF NOT EXISTS lti_resource_links_primary_idx
  ON lti_resource_links (primary_consumer_key, primary_resource_link_id);

-- Users with a result sourcedid ----------------------------------------------
CREATE TABLE IF NOT EXISTS lti_users (
  consumer_key         TEXT NOT NULL,
  resource_link_id     TEXT NOT NULL,
  user_id              TEXT NOT NULL,
  lti_result_sourcedid TEXT NOT NULL,
  created              BIGINT NOT NULL,
  updated              BIGINT NOT NULL,
  PRIMARY KEY (consumer_key, resource_link_id, user_id),
  FOREIGN KEY (consumer_key, resource_link_id)
    REFERENCES lti_resource_links(consumer_key, resource_link_id)
);

-- Share keys -----------------------------------------------------------------
CREATE TABLE IF NOT EXISTS lti_share_keys (
  share_key_id             TEXT PRIMARY KEY,
  primary_consumer_key     TEXT NOT NULL,
  primary_resource_link_id TEXT NOT NULL,
  auto_approve             BOOLEAN NOT NULL,
  life                     INTEGER NOT NULL,
  length                   INTEGER NOT NULL,
  expires                  BIGINT NOT NULL,
  FOREIGN KEY (primary_consumer_key, primary_resource_link_id)
    REFERENCES lti_resource_links(consumer_key, resource_link_id)
);

CREATE INDEX IF NOT EXISTS lti_share_keys_expires_idx ON lti_share_keys (expires);

-- Replay protection ----------------------------------------------------------
CREATE TABLE IF NOT EXISTS lti_nonces (
  consumer_key       TEXT NOT NULL,
  value              TEXT NOT NULL,
  expires            BIGINT NOT NULL,
  PRIMARY KEY (consumer_key, value)
);

CREATE INDEX IF NOT EXISTS lti_nonces_expires_idx ON lti_nonces (expires);
`

/* ------------------------------ SQLITE SCHEMA ------------------------------ */

const schemaSQLite = `
PRAGMA foreign_keys = ON;

-- Tool consumers -------------------------------------------------------------
CREATE TABLE IF NOT EXISTS lti_consumers (
  consumer_key       TEXT PRIMARY KEY,
  name               TEXT NOT NULL,
  secret             TEXT NOT NULL,
  lti_version        TEXT,
  consumer_name      TEXT,
  consumer_version   TEXT,
  consumer_guid      TEXT,
  css_path           TEXT,
  protected          INTEGER NOT NULL DEFAULT 0,
  enabled            INTEGER NOT NULL DEFAULT 0,
  enable_from        INTEGER,
  enable_until       INTEGER,
  last_access        INTEGER,
  id_scope           INTEGER NOT NULL DEFAULT 0,
  default_email      TEXT,
  created            INTEGER NOT NULL,
  updated            INTEGER NOT NULL
);

-- Resource links -------------------------------------------------------------
CREATE TABLE IF NOT EXISTS lti_resource_links (
  consumer_key             TEXT NOT NULL,
  resource_link_id         TEXT NOT NULL,
  lti_context_id           TEXT,
  lti_resource_id          TEXT,
  title                    TEXT NOT NULL DEFAULT '',
  settings                 TEXT,
  group_sets               TEXT,
  groups_json              TEXT,
  primary_consumer_key     TEXT,
  primary_resource_link_id TEXT,
  share_approved           INTEGER,
  created                  INTEGER NOT NULL,
  updated                  INTEGER NOT NULL,
  PRIMARY KEY (consumer_key, resource_link_id),
  FOREIGN KEY (consumer_key) REFERENCES lti_consumers(consumer_key),
  FOREIGN KEY (primary_consumer_key, primary_resource_link_id)
    REFERENCES lti_resource_links(consumer_key, resource_link_id),
  CHECK (settings IS NULL OR json_valid(settings))
);

CREATE INDEX IF NOT EXISTS lti_resource_links_primary_idx
  ON lti_resource_links (primary_consumer_key, primary_resource_link_id);

-- Users with a result sourcedid ----------------------------------------------
CREATE TABLE IF NOT EXISTS lti_users (
  consumer_key         TEXT NOT NULL,
  resource_link_id     TEXT NOT NULL,
  user_id              TEXT NOT NULL,
  lti_result_sourcedid TEXT NOT NULL,
  created              INTEGER NOT NULL,
  updated              INTEGER NOT NULL,
  PRIMARY KEY (consumer_key, resource_link_id, user_id),
  FOREIGN KEY (consumer_key, resource_link_id)
    REFERENCES lti_resource_links(consumer_key, resource_link_id)
);

-- Share keys -----------------------------------------------------------------
CREATE TABLE IF NOT EXISTS lti_share_keys (
  share_key_id             TEXT PRIMARY KEY,
  primary_consumer_key     TEXT NOT NULL,
  primary_resource_link_id TEXT NOT NULL,
  auto_approve             INTEGER NOT NULL,
  life                     INTEGER NOT NULL,
  length                   INTEGER NOT NULL,
  expires                  INTEGER NOT NULL,
  FOREIGN KEY (primary_consumer_key, primary_resource_link_id)
    REFERENCES lti_resource_links(consumer_key, resource_link_id)
);

CREATE INDEX IF NOT EXISTS lti_share_keys_expires_idx ON lti_share_keys (expires);

-- Replay protection ----------------------------------------------------------
CREATE TABLE IF NOT EXISTS lti_nonces (
  consumer_key       TEXT NOT NULL,
  value              TEXT NOT NULL,
  expires            INTEGER NOT NULL,
  PRIMARY KEY (consumer_key, value)
);

CREATE INDEX IF NOT EXISTS lti_nonces_expires_idx ON lti_nonces (expires);
`

/* ------------------------------ LOCAL HELPERS ------------------------------ */

// splitSQL naively splits on ';' boundaries so we can run one statement at a time.
// This is acceptable for our simple DDL (no functions/procedures).
func splitSQL(s string) []string {
	raw := strings.Split(s, ";")
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part+";")
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
