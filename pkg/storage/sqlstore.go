// pkg/storage/sqlstore.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements every lti storage port on postgres or sqlite. Queries use
// $n placeholders, which both drivers accept.
type Store struct {
	db *DB
	q  querier
	tx bool

	// Now stamps records and decides expiry. Defaults to time.Now.
	Now func() time.Time
}

var _ lti.Store = (*Store)(nil)

// NewStore returns a store over db. Run Up first.
func NewStore(db *DB) *Store {
	return &Store{db: db, q: db.SQL}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Atomically runs fn inside one transaction. Nested calls join the outer one.
func (s *Store) Atomically(ctx context.Context, fn func(lti.Store) error) error {
	if s.tx {
		return fn(s)
	}
	return WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		return fn(&Store{db: s.db, q: tx, tx: true, Now: s.Now})
	})
}

/* ------------------------------ consumers ------------------------------ */

const consumerColumns = `consumer_key, name, secret, lti_version, consumer_name, consumer_version,
	consumer_guid, css_path, protected, enabled, enable_from, enable_until, last_access,
	id_scope, default_email, created, updated`

func (s *Store) LoadToolConsumer(ctx context.Context, key string) (*lti.ToolConsumer, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+consumerColumns+` FROM lti_consumers WHERE consumer_key=$1`, key)
	c, err := scanConsumer(row)
	if err != nil {
		return nil, notFound("load consumer", err)
	}
	return c, nil
}

func (s *Store) SaveToolConsumer(ctx context.Context, c *lti.ToolConsumer) error {
	now := s.now()
	created := now
	if c.Created != nil {
		created = *c.Created
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO lti_consumers (`+consumerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (consumer_key) DO UPDATE SET
		  name=excluded.name, secret=excluded.secret, lti_version=excluded.lti_version,
		  consumer_name=excluded.consumer_name, consumer_version=excluded.consumer_version,
		  consumer_guid=excluded.consumer_guid, css_path=excluded.css_path,
		  protected=excluded.protected, enabled=excluded.enabled,
		  enable_from=excluded.enable_from, enable_until=excluded.enable_until,
		  last_access=excluded.last_access, id_scope=excluded.id_scope,
		  default_email=excluded.default_email, updated=excluded.updated`,
		c.Key, c.Name, c.Secret, nullString(c.LTIVersion), nullString(c.ConsumerName),
		nullString(c.ConsumerVersion), nullString(c.ConsumerGUID), nullString(c.CSSPath),
		c.Protected, c.Enabled, unixOrNull(c.EnableFrom), unixOrNull(c.EnableUntil),
		unixOrNull(c.LastAccess), int(c.IDScope), nullString(c.DefaultEmail),
		created.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("storage: save consumer: %w", err)
	}
	c.Created = &created
	c.Updated = &now
	return nil
}

// DeleteToolConsumer removes the consumer and everything hanging off it.
func (s *Store) DeleteToolConsumer(ctx context.Context, key string) error {
	return s.Atomically(ctx, func(tx lti.Store) error {
		q := tx.(*Store).q
		steps := []struct{ what, stmt string }{
			{"nonces", `DELETE FROM lti_nonces WHERE consumer_key=$1`},
			{"share keys", `DELETE FROM lti_share_keys WHERE primary_consumer_key=$1`},
			{"users", `DELETE FROM lti_users WHERE consumer_key=$1`},
			{"share pointers", `UPDATE lti_resource_links SET primary_consumer_key=NULL, primary_resource_link_id=NULL
				WHERE primary_consumer_key=$1`},
			{"links", `DELETE FROM lti_resource_links WHERE consumer_key=$1`},
		}
		for _, st := range steps {
			if _, err := q.ExecContext(ctx, st.stmt, key); err != nil {
				return fmt.Errorf("storage: delete consumer %s: %w", st.what, err)
			}
		}
		res, err := q.ExecContext(ctx, `DELETE FROM lti_consumers WHERE consumer_key=$1`, key)
		if err != nil {
			return fmt.Errorf("storage: delete consumer: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return lti.ErrNotFound
		}
		return nil
	})
}

func (s *Store) ListToolConsumers(ctx context.Context) ([]*lti.ToolConsumer, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+consumerColumns+` FROM lti_consumers ORDER BY name, consumer_key`)
	if err != nil {
		return nil, fmt.Errorf("storage: list consumers: %w", err)
	}
	defer rows.Close()
	var out []*lti.ToolConsumer
	for rows.Next() {
		c, err := scanConsumer(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: list consumers: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface{ Scan(dest ...any) error }

func scanConsumer(r scanner) (*lti.ToolConsumer, error) {
	var (
		c                                  lti.ToolConsumer
		ver, cname, cver, guid, css, email sql.NullString
		from, until, last                  sql.NullInt64
		scope                              int
		created, updated                   int64
	)
	if err := r.Scan(&c.Key, &c.Name, &c.Secret, &ver, &cname, &cver, &guid, &css,
		&c.Protected, &c.Enabled, &from, &until, &last, &scope, &email, &created, &updated); err != nil {
		return nil, err
	}
	c.LTIVersion, c.ConsumerName, c.ConsumerVersion = ver.String, cname.String, cver.String
	c.ConsumerGUID, c.CSSPath, c.DefaultEmail = guid.String, css.String, email.String
	c.EnableFrom, c.EnableUntil, c.LastAccess = fromUnix(from), fromUnix(until), fromUnix(last)
	c.IDScope = lti.IDScope(scope)
	c.Created, c.Updated = unixTime(created), unixTime(updated)
	return &c, nil
}

/* ---------------------------- resource links ---------------------------- */

const linkColumns = `consumer_key, resource_link_id, lti_context_id, lti_resource_id, title,
	settings, group_sets, groups_json, primary_consumer_key, primary_resource_link_id,
	share_approved, created, updated`

func (s *Store) LoadResourceLink(ctx context.Context, consumerKey, id string) (*lti.ResourceLink, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+linkColumns+`
		FROM lti_resource_links WHERE consumer_key=$1 AND resource_link_id=$2`, consumerKey, id)
	l, err := scanLink(row)
	if err != nil {
		return nil, notFound("load resource link", err)
	}
	return l, nil
}

func (s *Store) SaveResourceLink(ctx context.Context, l *lti.ResourceLink) error {
	settings, err := jsonOrNull(l.Settings)
	if err != nil {
		return fmt.Errorf("storage: encode settings: %w", err)
	}
	sets, err := jsonOrNull(l.GroupSets)
	if err != nil {
		return fmt.Errorf("storage: encode group sets: %w", err)
	}
	groups, err := jsonOrNull(l.Groups)
	if err != nil {
		return fmt.Errorf("storage: encode groups: %w", err)
	}
	var approved sql.NullBool
	if l.ShareApproved != nil {
		approved = sql.NullBool{Bool: *l.ShareApproved, Valid: true}
	}
	var pKey, pID sql.NullString
	if l.HasPrimary() {
		pKey, pID = nullString(l.PrimaryConsumerKey), nullString(l.PrimaryResourceLinkID)
	}

	now := s.now()
	created := now
	if l.Created != nil {
		created = *l.Created
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO lti_resource_links (`+linkColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (consumer_key, resource_link_id) DO UPDATE SET
		  lti_context_id=excluded.lti_context_id, lti_resource_id=excluded.lti_resource_id,
		  title=excluded.title, settings=excluded.settings, group_sets=excluded.group_sets,
		  groups_json=excluded.groups_json, primary_consumer_key=excluded.primary_consumer_key,
		  primary_resource_link_id=excluded.primary_resource_link_id,
		  share_approved=excluded.share_approved, updated=excluded.updated`,
		l.ConsumerKey, l.ID, nullString(l.LTIContextID), nullString(l.LTIResourceID), l.Title,
		settings, sets, groups, pKey, pID, approved, created.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("storage: save resource link: %w", err)
	}
	l.Created = &created
	l.Updated = &now
	return nil
}

// DeleteResourceLink removes the link, its users and its share keys, and
// detaches links sharing it.
func (s *Store) DeleteResourceLink(ctx context.Context, l *lti.ResourceLink) error {
	err := s.Atomically(ctx, func(tx lti.Store) error {
		q := tx.(*Store).q
		steps := []struct{ what, stmt string }{
			{"share keys", `DELETE FROM lti_share_keys WHERE primary_consumer_key=$1 AND primary_resource_link_id=$2`},
			{"users", `DELETE FROM lti_users WHERE consumer_key=$1 AND resource_link_id=$2`},
			{"share pointers", `UPDATE lti_resource_links SET primary_consumer_key=NULL, primary_resource_link_id=NULL
				WHERE primary_consumer_key=$1 AND primary_resource_link_id=$2`},
			{"link", `DELETE FROM lti_resource_links WHERE consumer_key=$1 AND resource_link_id=$2`},
		}
		for _, st := range steps {
			if _, err := q.ExecContext(ctx, st.stmt, l.ConsumerKey, l.ID); err != nil {
				return fmt.Errorf("storage: delete resource link %s: %w", st.what, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.Created, l.Updated = nil, nil
	return nil
}

func (s *Store) UserResultSourcedIDs(ctx context.Context, l *lti.ResourceLink, localOnly bool, scope lti.IDScope) (map[string]*lti.User, error) {
	query := `SELECT u.user_id, u.lti_result_sourcedid, u.created, u.updated,
		  r.consumer_key, r.resource_link_id, r.lti_context_id, r.lti_resource_id
		FROM lti_users u
		JOIN lti_resource_links r
		  ON u.consumer_key = r.consumer_key AND u.resource_link_id = r.resource_link_id
		WHERE (r.consumer_key=$1 AND r.resource_link_id=$2 AND r.primary_consumer_key IS NULL)`
	args := []any{l.ConsumerKey, l.ID}
	if !localOnly {
		query += `
		   OR (r.primary_consumer_key=$1 AND r.primary_resource_link_id=$2 AND r.share_approved=$3)`
		args = append(args, true)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: user result sourcedids: %w", err)
	}
	defer rows.Close()

	out := map[string]*lti.User{}
	for rows.Next() {
		var (
			u                lti.User
			owner            lti.ResourceLink
			ctxID, resID     sql.NullString
			created, updated int64
		)
		if err := rows.Scan(&u.ID, &u.LTIResultSourcedID, &created, &updated,
			&owner.ConsumerKey, &owner.ID, &ctxID, &resID); err != nil {
			return nil, fmt.Errorf("storage: user result sourcedids: %w", err)
		}
		owner.LTIContextID, owner.LTIResourceID = ctxID.String, resID.String
		u.Created, u.Updated = unixTime(created), unixTime(updated)
		u.Link = &owner
		out[u.ScopedID(scope)] = &u
	}
	return out, rows.Err()
}

func (s *Store) ResourceLinkShares(ctx context.Context, l *lti.ResourceLink) ([]lti.ResourceLinkShare, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT consumer_key, resource_link_id, title, share_approved
		FROM lti_resource_links
		WHERE primary_consumer_key=$1 AND primary_resource_link_id=$2
		ORDER BY consumer_key, resource_link_id`, l.ConsumerKey, l.ID)
	if err != nil {
		return nil, fmt.Errorf("storage: resource link shares: %w", err)
	}
	defer rows.Close()
	var out []lti.ResourceLinkShare
	for rows.Next() {
		var (
			sh       lti.ResourceLinkShare
			approved sql.NullBool
		)
		if err := rows.Scan(&sh.ConsumerKey, &sh.ResourceLinkID, &sh.Title, &approved); err != nil {
			return nil, fmt.Errorf("storage: resource link shares: %w", err)
		}
		sh.Approved = approved.Valid && approved.Bool
		out = append(out, sh)
	}
	return out, rows.Err()
}

func scanLink(r scanner) (*lti.ResourceLink, error) {
	var (
		l                      lti.ResourceLink
		ctxID, resID           sql.NullString
		settings, sets, groups sql.NullString
		pKey, pID              sql.NullString
		approved               sql.NullBool
		created, updated       int64
	)
	if err := r.Scan(&l.ConsumerKey, &l.ID, &ctxID, &resID, &l.Title, &settings, &sets, &groups,
		&pKey, &pID, &approved, &created, &updated); err != nil {
		return nil, err
	}
	l.LTIContextID, l.LTIResourceID = ctxID.String, resID.String
	l.PrimaryConsumerKey, l.PrimaryResourceLinkID = pKey.String, pID.String
	if approved.Valid {
		v := approved.Bool
		l.ShareApproved = &v
	}
	l.Settings = map[string]any{}
	if err := decodeJSON(settings, &l.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := decodeJSON(sets, &l.GroupSets); err != nil {
		return nil, fmt.Errorf("decode group sets: %w", err)
	}
	if err := decodeJSON(groups, &l.Groups); err != nil {
		return nil, fmt.Errorf("decode groups: %w", err)
	}
	l.Created, l.Updated = unixTime(created), unixTime(updated)
	return &l, nil
}

/* --------------------------------- users -------------------------------- */

func (s *Store) LoadUser(ctx context.Context, l *lti.ResourceLink, id string) (*lti.User, error) {
	var created, updated int64
	u := lti.NewUser(l, id)
	err := s.q.QueryRowContext(ctx, `
		SELECT lti_result_sourcedid, created, updated FROM lti_users
		WHERE consumer_key=$1 AND resource_link_id=$2 AND user_id=$3`,
		l.ConsumerKey, l.ID, id).Scan(&u.LTIResultSourcedID, &created, &updated)
	if err != nil {
		return nil, notFound("load user", err)
	}
	u.Created, u.Updated = unixTime(created), unixTime(updated)
	return u, nil
}

// SaveUser only stores users holding a result sourcedid.
func (s *Store) SaveUser(ctx context.Context, u *lti.User) error {
	if u.LTIResultSourcedID == "" {
		return nil
	}
	now := s.now()
	created := now
	if u.Created != nil {
		created = *u.Created
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO lti_users (consumer_key, resource_link_id, user_id, lti_result_sourcedid, created, updated)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (consumer_key, resource_link_id, user_id) DO UPDATE SET
		  lti_result_sourcedid=excluded.lti_result_sourcedid, updated=excluded.updated`,
		u.Link.ConsumerKey, u.Link.ID, u.ID, u.LTIResultSourcedID, created.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("storage: save user: %w", err)
	}
	u.Created = &created
	u.Updated = &now
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, u *lti.User) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM lti_users WHERE consumer_key=$1 AND resource_link_id=$2 AND user_id=$3`,
		u.Link.ConsumerKey, u.Link.ID, u.ID)
	if err != nil {
		return fmt.Errorf("storage: delete user: %w", err)
	}
	u.LTIResultSourcedID = ""
	u.Created, u.Updated = nil, nil
	return nil
}

/* ------------------------------ share keys ------------------------------ */

func (s *Store) LoadShareKey(ctx context.Context, id string) (*lti.ShareKey, error) {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM lti_share_keys WHERE expires <= $1`, s.now().Unix()); err != nil {
		return nil, fmt.Errorf("storage: purge share keys: %w", err)
	}
	var (
		k       lti.ShareKey
		expires int64
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT share_key_id, primary_consumer_key, primary_resource_link_id, auto_approve, life, length, expires
		FROM lti_share_keys WHERE share_key_id=$1`, id).
		Scan(&k.ID, &k.PrimaryConsumerKey, &k.PrimaryResourceLinkID, &k.AutoApprove, &k.Life, &k.Length, &expires)
	if err != nil {
		return nil, notFound("load share key", err)
	}
	k.ExpiresAt = time.Unix(expires, 0).UTC()
	return &k, nil
}

func (s *Store) SaveShareKey(ctx context.Context, k *lti.ShareKey) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO lti_share_keys (share_key_id, primary_consumer_key, primary_resource_link_id, auto_approve, life, length, expires)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		k.ID, k.PrimaryConsumerKey, k.PrimaryResourceLinkID, k.AutoApprove, k.Life, k.Length, k.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("storage: save share key: %w", err)
	}
	return nil
}

func (s *Store) DeleteShareKey(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM lti_share_keys WHERE share_key_id=$1`, id); err != nil {
		return fmt.Errorf("storage: delete share key: %w", err)
	}
	return nil
}

/* -------------------------------- nonces -------------------------------- */

func (s *Store) purgeNonces(ctx context.Context) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM lti_nonces WHERE expires <= $1`, s.now().Unix()); err != nil {
		return fmt.Errorf("storage: purge nonces: %w", err)
	}
	return nil
}

func (s *Store) LoadNonce(ctx context.Context, consumerKey, value string) (bool, error) {
	if err := s.purgeNonces(ctx); err != nil {
		return false, err
	}
	var one int
	err := s.q.QueryRowContext(ctx, `SELECT 1 FROM lti_nonces WHERE consumer_key=$1 AND value=$2`,
		consumerKey, value).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("storage: load nonce: %w", err)
	}
	return true, nil
}

func (s *Store) SaveNonce(ctx context.Context, n lti.Nonce) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO lti_nonces (consumer_key, value, expires) VALUES ($1,$2,$3)
		ON CONFLICT (consumer_key, value) DO UPDATE SET expires=excluded.expires`,
		n.ConsumerKey, n.Value, n.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("storage: save nonce: %w", err)
	}
	return nil
}

// CheckAndRecordNonce relies on the primary key: an insert that affects no
// row means the nonce is already recorded.
func (s *Store) CheckAndRecordNonce(ctx context.Context, n lti.Nonce) (bool, error) {
	if err := s.purgeNonces(ctx); err != nil {
		return false, err
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO lti_nonces (consumer_key, value, expires) VALUES ($1,$2,$3)
		ON CONFLICT (consumer_key, value) DO NOTHING`,
		n.ConsumerKey, n.Value, n.ExpiresAt.Unix())
	if err != nil {
		return false, fmt.Errorf("storage: record nonce: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: record nonce: %w", err)
	}
	return affected == 0, nil
}

/* -------------------------------- helpers ------------------------------- */

func notFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return lti.ErrNotFound
	}
	return fmt.Errorf("storage: %s: %w", op, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func unixOrNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	return unixTime(v.Int64)
}

func unixTime(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

// jsonOrNull stores empty maps as NULL.
func jsonOrNull[M ~map[K]V, K comparable, V any](m M) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeJSON(v sql.NullString, dst any) error {
	if !v.Valid || v.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(v.String), dst)
}
