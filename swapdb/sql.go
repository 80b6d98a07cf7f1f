package swapdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/keychain"
	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/boltz-exchange/swapd/swap"
)

// SQLTxOptions is a superset of sql.TxOptions used to distinguish read-only
// transactions, the same wrapper the teacher's ExecTx pattern uses so read
// paths can be routed to a replica in the future without touching call
// sites.
type SQLTxOptions struct {
	readOnly bool
}

func (o *SQLTxOptions) ReadOnly() bool { return o.readOnly }

func NewSQLReadOpts() *SQLTxOptions  { return &SQLTxOptions{readOnly: true} }
func NewSQLWriteOpts() *SQLTxOptions { return &SQLTxOptions{readOnly: false} }

// BaseDB wraps a *sql.DB with the transaction helper (ExecTx) every
// SQL-backed store method uses. ExecTx runs each body once; a failed
// transaction is not retried.
type BaseDB struct {
	*sql.DB

	// dialect is either "postgres" or "sqlite", used to rewrite "?"
	// placeholders for Postgres (rebind) and to recognise each engine's
	// unique-constraint error (isUniqueViolation).
	dialect string
}

var _ Store = (*BaseDB)(nil)

// dbTx wraps a *sql.Tx and rewrites "?" placeholders to "$N" when the
// underlying driver is Postgres, so every call site can be written once in
// SQLite's native placeholder style.
type dbTx struct {
	*sql.Tx
	dialect string
}

func (t *dbTx) ExecContext(ctx context.Context, query string,
	args ...interface{}) (sql.Result, error) {

	return t.Tx.ExecContext(ctx, rebind(query, t.dialect), args...)
}

func (t *dbTx) QueryContext(ctx context.Context, query string,
	args ...interface{}) (*sql.Rows, error) {

	return t.Tx.QueryContext(ctx, rebind(query, t.dialect), args...)
}

func (t *dbTx) QueryRowContext(ctx context.Context, query string,
	args ...interface{}) *sql.Row {

	return t.Tx.QueryRowContext(ctx, rebind(query, t.dialect), args...)
}

// rebind rewrites "?" placeholders into Postgres's "$1", "$2", ... form.
// SQLite and the fork of golang-migrate we use both accept "?" natively, so
// this is a no-op for the sqlite dialect.
func rebind(query, dialect string) string {
	if dialect != "postgres" {
		return query
	}

	var b []byte
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b = append(b, '$')
			b = append(b, []byte(fmt.Sprintf("%d", n))...)
			continue
		}
		b = append(b, query[i])
	}

	return string(b)
}

// ExecTx runs txBody inside a single SQL transaction.
func (db *BaseDB) ExecTx(ctx context.Context, opts *SQLTxOptions,
	txBody func(*dbTx) error) error {

	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: opts.readOnly})
	if err != nil {
		return err
	}

	wrapped := &dbTx{Tx: tx, dialect: db.dialect}

	if err := txBody(wrapped); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (db *BaseDB) Close() error {
	return db.DB.Close()
}

func (db *BaseDB) Create(ctx context.Context, s *Swap) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	s.Status = StatusCreated

	return db.ExecTx(ctx, NewSQLWriteOpts(), func(tx *dbTx) error {
		var toLockupTxid []byte
		if s.ToLockupTxid != nil {
			toLockupTxid = s.ToLockupTxid[:]
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO swaps (
				id, hash, preimage, swap_type, pair, status,
				onchain_amount, invoice, cltv_expiry,
				our_pubkey, our_key_family, our_key_index,
				their_pubkey, created_at, updated_at,
				to_our_pubkey, to_key_family, to_key_index,
				to_their_pubkey, to_cltv_expiry, to_lockup_txid,
				to_lockup_vout, accepted_zero_conf
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
				?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, s.Hash[:], preimageBytes(s.Preimage),
			uint8(s.Type), s.Pair, uint8(s.Status),
			int64(s.OnchainAmount), s.Invoice, s.CltvExpiry,
			s.HtlcKeys.OurPubkey[:], s.HtlcKeys.OurKeyLocator.Family,
			s.HtlcKeys.OurKeyLocator.Index, s.HtlcKeys.TheirPubkey[:],
			s.CreatedAt, s.UpdatedAt,
			s.ToHtlcKeys.OurPubkey[:], s.ToHtlcKeys.OurKeyLocator.Family,
			s.ToHtlcKeys.OurKeyLocator.Index, s.ToHtlcKeys.TheirPubkey[:],
			s.ToCltvExpiry, toLockupTxid, s.ToLockupVout,
			s.AcceptedZeroConf,
		)
		if isUniqueViolation(err, db.dialect) {
			return ErrDuplicateSwap
		}

		return err
	})
}

func (db *BaseDB) FetchSwap(ctx context.Context,
	hash lntypes.Hash) (*Swap, error) {

	var out *Swap

	err := db.ExecTx(ctx, NewSQLReadOpts(), func(tx *dbTx) error {
		row := tx.QueryRowContext(ctx, swapSelect+" WHERE hash = ?", hash[:])

		s, err := scanSwap(row)
		if err != nil {
			return err
		}

		out = s
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, ErrSwapNotFound
	}
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (db *BaseDB) FetchSwaps(ctx context.Context) ([]*Swap, error) {
	return db.querySwaps(ctx, swapSelect)
}

func (db *BaseDB) FetchSwapsByStatus(ctx context.Context,
	statuses ...Status) ([]*Swap, error) {

	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := ""
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = uint8(s)
	}

	query := fmt.Sprintf(
		"%s WHERE status IN (%s)", swapSelect, placeholders,
	)

	return db.querySwaps(ctx, query, args...)
}

func (db *BaseDB) FetchSwapByLockup(ctx context.Context, txid chainhash.Hash,
	vout uint32) (*Swap, error) {

	rows, err := db.querySwaps(
		ctx, swapSelect+" WHERE lockup_txid = ? AND lockup_vout = ?",
		txid[:], vout,
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrSwapNotFound
	}

	return rows[0], nil
}

func (db *BaseDB) querySwaps(ctx context.Context, query string,
	args ...interface{}) ([]*Swap, error) {

	var out []*Swap

	err := db.ExecTx(ctx, NewSQLReadOpts(), func(tx *dbTx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			s, err := scanSwap(rows)
			if err != nil {
				return err
			}
			out = append(out, s)
		}

		return rows.Err()
	})

	return out, err
}

func (db *BaseDB) SetStatus(ctx context.Context, hash lntypes.Hash,
	status Status) error {

	return db.ExecTx(ctx, NewSQLWriteOpts(), func(tx *dbTx) error {
		var current uint8
		err := tx.QueryRowContext(
			ctx, "SELECT status FROM swaps WHERE hash = ?", hash[:],
		).Scan(&current)
		if err == sql.ErrNoRows {
			return ErrSwapNotFound
		}
		if err != nil {
			return err
		}

		if !CanTransition(Status(current), status) {
			return fmt.Errorf(
				"%w: %v -> %v", ErrIllegalTransition,
				Status(current), status,
			)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE swaps SET status = ?, updated_at = ? WHERE hash = ?",
			uint8(status), time.Now().UTC(), hash[:],
		)
		return err
	})
}

func (db *BaseDB) SetLockup(ctx context.Context, hash lntypes.Hash,
	txid chainhash.Hash, vout uint32, amount btcutil.Amount) error {

	return db.execUpdate(ctx,
		"UPDATE swaps SET lockup_txid = ?, lockup_vout = ?, onchain_amount = ?, updated_at = ? WHERE hash = ?",
		txid[:], vout, int64(amount), time.Now().UTC(), hash[:],
	)
}

func (db *BaseDB) SetToLockup(ctx context.Context, hash lntypes.Hash,
	txid chainhash.Hash, vout uint32) error {

	return db.execUpdate(ctx,
		"UPDATE swaps SET to_lockup_txid = ?, to_lockup_vout = ?, updated_at = ? WHERE hash = ?",
		txid[:], vout, time.Now().UTC(), hash[:],
	)
}

func (db *BaseDB) SetInvoice(ctx context.Context, hash lntypes.Hash,
	invoice string) error {

	return db.execUpdate(ctx,
		"UPDATE swaps SET invoice = ?, updated_at = ? WHERE hash = ?",
		invoice, time.Now().UTC(), hash[:],
	)
}

func (db *BaseDB) SetPreimage(ctx context.Context, hash lntypes.Hash,
	preimage lntypes.Preimage) error {

	return db.execUpdate(ctx,
		"UPDATE swaps SET preimage = ?, updated_at = ? WHERE hash = ?",
		preimage[:], time.Now().UTC(), hash[:],
	)
}

func (db *BaseDB) SetAcceptedZeroConf(ctx context.Context, hash lntypes.Hash,
	accepted bool) error {

	return db.execUpdate(ctx,
		"UPDATE swaps SET accepted_zero_conf = ?, updated_at = ? WHERE hash = ?",
		accepted, time.Now().UTC(), hash[:],
	)
}

func (db *BaseDB) SetChannelCreation(ctx context.Context, hash lntypes.Hash,
	cc *ChannelCreation) error {

	return db.ExecTx(ctx, NewSQLWriteOpts(), func(tx *dbTx) error {
		var funding []byte
		if cc.FundingTxid != nil {
			funding = cc.FundingTxid[:]
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO channel_creations
				(swap_hash, node_pubkey, private, attempts, funding_txid, channel_id)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (swap_hash) DO UPDATE SET
				private = excluded.private,
				attempts = excluded.attempts,
				funding_txid = excluded.funding_txid,
				channel_id = excluded.channel_id`,
			hash[:], cc.NodePubkey[:], cc.Private, cc.Attempts,
			funding, cc.ChannelID,
		)
		return err
	})
}

func (db *BaseDB) execUpdate(ctx context.Context, query string,
	args ...interface{}) error {

	return db.ExecTx(ctx, NewSQLWriteOpts(), func(tx *dbTx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrSwapNotFound
		}

		return nil
	})
}

const swapSelect = `
	SELECT id, hash, preimage, swap_type, pair, status, onchain_amount,
	       invoice, cltv_expiry, our_pubkey, our_key_family,
	       our_key_index, their_pubkey, lockup_txid, lockup_vout,
	       created_at, updated_at, to_our_pubkey, to_key_family,
	       to_key_index, to_their_pubkey, to_cltv_expiry,
	       to_lockup_txid, to_lockup_vout, accepted_zero_conf
	FROM swaps`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSwap(row scanner) (*Swap, error) {
	var (
		s                          Swap
		hash, preimage             []byte
		ourPubkey, theirPubkey     []byte
		lockupTxid                 []byte
		lockupVout                 sql.NullInt64
		swapType, status           uint8
		keyFamily, keyIndex        uint32
		toOurPubkey, toTheirPubkey []byte
		toKeyFamily, toKeyIndex    sql.NullInt64
		toCltvExpiry               sql.NullInt64
		toLockupTxid               []byte
		toLockupVout               sql.NullInt64
		acceptedZeroConf           bool
	)

	err := row.Scan(
		&s.ID, &hash, &preimage, &swapType, &s.Pair, &status,
		&s.OnchainAmount, &s.Invoice, &s.CltvExpiry, &ourPubkey,
		&keyFamily, &keyIndex, &theirPubkey, &lockupTxid, &lockupVout,
		&s.CreatedAt, &s.UpdatedAt, &toOurPubkey, &toKeyFamily,
		&toKeyIndex, &toTheirPubkey, &toCltvExpiry, &toLockupTxid,
		&toLockupVout, &acceptedZeroConf,
	)
	if err != nil {
		return nil, err
	}

	s.AcceptedZeroConf = acceptedZeroConf

	copy(s.Hash[:], hash)
	s.Type = swap.Type(swapType)
	s.Status = Status(status)
	copy(s.HtlcKeys.OurPubkey[:], ourPubkey)
	copy(s.HtlcKeys.TheirPubkey[:], theirPubkey)
	s.HtlcKeys.OurKeyLocator = keychain.KeyLocator{
		Family: keychain.KeyFamily(keyFamily),
		Index:  keyIndex,
	}

	if len(preimage) == lntypes.HashSize {
		var p lntypes.Preimage
		copy(p[:], preimage)
		s.Preimage = &p
	}

	if lockupVout.Valid {
		var txid chainhash.Hash
		copy(txid[:], lockupTxid)
		s.LockupTxid = &txid
		s.LockupVout = uint32(lockupVout.Int64)
	}

	if len(toOurPubkey) == 33 {
		copy(s.ToHtlcKeys.OurPubkey[:], toOurPubkey)
	}
	if len(toTheirPubkey) == 33 {
		copy(s.ToHtlcKeys.TheirPubkey[:], toTheirPubkey)
	}
	if toKeyFamily.Valid {
		s.ToHtlcKeys.OurKeyLocator = keychain.KeyLocator{
			Family: keychain.KeyFamily(toKeyFamily.Int64),
			Index:  uint32(toKeyIndex.Int64),
		}
	}
	if toCltvExpiry.Valid {
		s.ToCltvExpiry = int32(toCltvExpiry.Int64)
	}
	if toLockupVout.Valid {
		var txid chainhash.Hash
		copy(txid[:], toLockupTxid)
		s.ToLockupTxid = &txid
		s.ToLockupVout = uint32(toLockupVout.Int64)
	}

	return &s, nil
}

func preimageBytes(p *lntypes.Preimage) []byte {
	if p == nil {
		return nil
	}
	return p[:]
}
