package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/STTM-NSU/virtual-trading/internal/store"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var (
	_ store.Store     = (*Store)(nil)
	_ store.Committer = (*Store)(nil)
)

const (
	_queryPortfolio = "SELECT user_id, cash, last_updated, version FROM portfolios WHERE user_id = $1"
	_queryItems     = `SELECT user_id, symbol, name, shares, average_cost, current_price
						FROM portfolio_items WHERE user_id = $1`
	_queryAllPortfolios = "SELECT user_id, cash, last_updated, version FROM portfolios"
	_queryAllItems      = "SELECT user_id, symbol, name, shares, average_cost, current_price FROM portfolio_items"
	_queryTransactions  = `SELECT id, user_id, symbol, name, type, shares, price, total, created_at
						FROM transactions WHERE user_id = $1 ORDER BY seq DESC`
)

const (
	_createPortfolio = `INSERT INTO portfolios (user_id, cash, total_value, last_updated)
						VALUES ($1, $2, $2, $3)
						ON CONFLICT (user_id) DO NOTHING`
	// Updates only the row still at version $5; zero affected rows means
	// another writer got there first.
	_upsertPortfolio = `INSERT INTO portfolios (user_id, cash, total_value, last_updated, version)
						VALUES ($1, $2, $3, $4, $5 + 1)
						ON CONFLICT (user_id)
						DO UPDATE SET
							cash = EXCLUDED.cash,
							total_value = EXCLUDED.total_value,
							last_updated = EXCLUDED.last_updated,
							version = EXCLUDED.version
						WHERE portfolios.version = $5`
	_deleteItems = "DELETE FROM portfolio_items WHERE user_id = $1"
	_insertItem  = `INSERT INTO portfolio_items (
							user_id, symbol, name, shares, average_cost, current_price
						) VALUES ($1, $2, $3, $4, $5, $6)`
	_insertTransaction = `INSERT INTO transactions (
							id, user_id, symbol, name, type, shares, price, total, created_at
						) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

type portfolioRow struct {
	UserID      string          `db:"user_id"`
	Cash        decimal.Decimal `db:"cash"`
	LastUpdated time.Time       `db:"last_updated"`
	Version     int64           `db:"version"`
}

func (r portfolioRow) toModel() model.UserPortfolio {
	p := model.NewUserPortfolio(r.UserID, r.Cash, r.LastUpdated.UTC())
	p.Version = r.Version
	return p
}

type itemRow struct {
	UserID string `db:"user_id"`
	model.PortfolioItem
}

// Store keeps one row per portfolio plus one row per position. A portfolio
// and its positions are always read and written in a single transaction.
type Store struct {
	db           *sqlx.DB
	startingCash decimal.Decimal
	now          func() time.Time
}

func NewStore(db *sqlx.DB, startingCash decimal.Decimal) *Store {
	return &Store{
		db:           db,
		startingCash: startingCash,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Get(ctx context.Context, userID string) (model.UserPortfolio, error) {
	p, exists, err := s.load(ctx, userID)
	if err != nil || exists {
		return p, err
	}

	if _, err := s.db.ExecContext(ctx, _createPortfolio, userID, s.startingCash, s.now()); err != nil {
		return model.UserPortfolio{}, fmt.Errorf("%w: can't create portfolio", err)
	}

	p, exists, err = s.load(ctx, userID)
	if err != nil {
		return model.UserPortfolio{}, err
	}
	if !exists {
		return model.UserPortfolio{}, fmt.Errorf("portfolio %s vanished after creation", userID)
	}
	return p, nil
}

func (s *Store) load(ctx context.Context, userID string) (model.UserPortfolio, bool, error) {
	var (
		row    portfolioRow
		items  []itemRow
		exists bool
	)
	err := s.readTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &row, _queryPortfolio, userID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("%w: can't query portfolio", err)
		}
		exists = true

		if err := tx.SelectContext(ctx, &items, _queryItems, userID); err != nil {
			return fmt.Errorf("%w: can't query portfolio items", err)
		}
		return nil
	})
	if err != nil || !exists {
		return model.UserPortfolio{}, exists, err
	}

	p := row.toModel()
	for _, item := range items {
		p.Items[item.Symbol] = item.PortfolioItem
	}
	return p, true, nil
}

func (s *Store) Put(ctx context.Context, p model.UserPortfolio) error {
	return s.writeTx(ctx, func(tx *sqlx.Tx) error {
		return putPortfolio(ctx, tx, p)
	})
}

func (s *Store) Commit(ctx context.Context, p model.UserPortfolio, t model.Transaction) error {
	return s.writeTx(ctx, func(tx *sqlx.Tx) error {
		if err := putPortfolio(ctx, tx, p); err != nil {
			return err
		}
		return insertTransaction(ctx, tx, t)
	})
}

func (s *Store) AppendTransaction(ctx context.Context, t model.Transaction) error {
	return s.writeTx(ctx, func(tx *sqlx.Tx) error {
		return insertTransaction(ctx, tx, t)
	})
}

func (s *Store) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	txs := make([]model.Transaction, 0)
	if err := s.db.SelectContext(ctx, &txs, _queryTransactions, userID); err != nil {
		return nil, fmt.Errorf("%w: can't query transactions", err)
	}
	for i := range txs {
		txs[i].Timestamp = txs[i].Timestamp.UTC()
	}
	return txs, nil
}

func (s *Store) ListPortfolios(ctx context.Context) ([]model.UserPortfolio, error) {
	var (
		rows  []portfolioRow
		items []itemRow
	)
	err := s.readTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &rows, _queryAllPortfolios); err != nil {
			return fmt.Errorf("%w: can't query portfolios", err)
		}
		if err := tx.SelectContext(ctx, &items, _queryAllItems); err != nil {
			return fmt.Errorf("%w: can't query portfolio items", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	byUser := make(map[string]model.UserPortfolio, len(rows))
	for _, row := range rows {
		byUser[row.UserID] = row.toModel()
	}
	for _, item := range items {
		if p, ok := byUser[item.UserID]; ok {
			p.Items[item.Symbol] = item.PortfolioItem
		}
	}

	portfolios := make([]model.UserPortfolio, 0, len(byUser))
	for _, row := range rows {
		portfolios = append(portfolios, byUser[row.UserID])
	}
	return portfolios, nil
}

func putPortfolio(ctx context.Context, tx *sqlx.Tx, p model.UserPortfolio) error {
	res, err := tx.ExecContext(ctx, _upsertPortfolio, p.UserID, p.Cash, p.TotalValue(), p.LastUpdated, p.Version)
	if err != nil {
		return fmt.Errorf("%w: can't update portfolio", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: can't update portfolio", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s is no longer at version %d", store.ConflictError, p.UserID, p.Version)
	}
	if _, err := tx.ExecContext(ctx, _deleteItems, p.UserID); err != nil {
		return fmt.Errorf("%w: can't clear portfolio items", err)
	}
	for _, item := range p.SortedItems() {
		if _, err := tx.ExecContext(ctx, _insertItem,
			p.UserID,
			item.Symbol,
			item.Name,
			item.Shares,
			item.AverageCost,
			item.CurrentPrice,
		); err != nil {
			return fmt.Errorf("%w: can't update portfolio item %s", err, item.Symbol)
		}
	}
	return nil
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, t model.Transaction) error {
	if _, err := tx.ExecContext(ctx, _insertTransaction,
		t.ID,
		t.UserID,
		t.Symbol,
		t.Name,
		string(t.Type),
		t.Shares,
		t.Price,
		t.Total,
		t.Timestamp,
	); err != nil {
		return fmt.Errorf("%w: can't insert transaction", err)
	}
	return nil
}

func (s *Store) readTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return s.inTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

func (s *Store) writeTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return s.inTx(ctx, nil, fn)
}

func (s *Store) inTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("%w: can't begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: can't commit transaction", err)
	}
	return nil
}
