package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/STTM-NSU/virtual-trading/internal/store"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var (
	_ store.Store     = (*Store)(nil)
	_ store.Committer = (*Store)(nil)
)

const _mgetBatch = 500

// Store keeps each portfolio as one JSON document, so a reader always sees a
// whole document. Layout:
//
//	{prefix}:portfolio:{userID}     portfolio document
//	{prefix}:portfolios             set of user ids
//	{prefix}:transactions:{userID}  list of transaction documents, newest first
type Store struct {
	client       *redis.Client
	prefix       string
	startingCash decimal.Decimal
	now          func() time.Time
}

func NewStore(client *redis.Client, prefix string, startingCash decimal.Decimal) *Store {
	return &Store{
		client:       client,
		prefix:       prefix,
		startingCash: startingCash,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) portfolioKey(userID string) string {
	return s.prefix + ":portfolio:" + userID
}

func (s *Store) indexKey() string {
	return s.prefix + ":portfolios"
}

func (s *Store) transactionsKey(userID string) string {
	return s.prefix + ":transactions:" + userID
}

func (s *Store) Get(ctx context.Context, userID string) (model.UserPortfolio, error) {
	p, err := s.get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, redis.Nil) {
		return model.UserPortfolio{}, err
	}

	doc, err := sonic.Marshal(model.NewUserPortfolio(userID, s.startingCash, s.now()))
	if err != nil {
		return model.UserPortfolio{}, fmt.Errorf("%w: can't encode portfolio", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, s.portfolioKey(userID), doc, 0)
		pipe.SAdd(ctx, s.indexKey(), userID)
		return nil
	})
	if err != nil {
		return model.UserPortfolio{}, fmt.Errorf("%w: can't create portfolio", err)
	}

	return s.get(ctx, userID)
}

func (s *Store) get(ctx context.Context, userID string) (model.UserPortfolio, error) {
	doc, err := s.client.Get(ctx, s.portfolioKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.UserPortfolio{}, err
		}
		return model.UserPortfolio{}, fmt.Errorf("%w: can't get portfolio", err)
	}
	return decodePortfolio(doc)
}

func (s *Store) Put(ctx context.Context, p model.UserPortfolio) error {
	return s.write(ctx, p, nil)
}

func (s *Store) AppendTransaction(ctx context.Context, t model.Transaction) error {
	doc, err := sonic.Marshal(t)
	if err != nil {
		return fmt.Errorf("%w: can't encode transaction", err)
	}
	if err := s.client.LPush(ctx, s.transactionsKey(t.UserID), doc).Err(); err != nil {
		return fmt.Errorf("%w: can't append transaction", err)
	}
	return nil
}

func (s *Store) Commit(ctx context.Context, p model.UserPortfolio, t model.Transaction) error {
	tdoc, err := sonic.Marshal(t)
	if err != nil {
		return fmt.Errorf("%w: can't encode transaction", err)
	}
	return s.write(ctx, p, func(pipe redis.Pipeliner) {
		pipe.LPush(ctx, s.transactionsKey(t.UserID), tdoc)
	})
}

// write replaces the portfolio document, and runs extra in the same
// MULTI/EXEC, only if the stored version still equals p.Version. The
// document key is watched so a writer slipping in between the check and
// EXEC aborts the transaction.
func (s *Store) write(ctx context.Context, p model.UserPortfolio, extra func(pipe redis.Pipeliner)) error {
	next := p
	next.Version++
	doc, err := sonic.Marshal(next)
	if err != nil {
		return fmt.Errorf("%w: can't encode portfolio", err)
	}

	key := s.portfolioKey(p.UserID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if stored != p.Version {
			return fmt.Errorf("%w: %s is at version %d, write based on %d", store.ConflictError, p.UserID, stored, p.Version)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			pipe.SAdd(ctx, s.indexKey(), p.UserID)
			if extra != nil {
				extra(pipe)
			}
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%w: %s changed during write", store.ConflictError, p.UserID)
	case errors.Is(err, store.ConflictError):
		return err
	default:
		return fmt.Errorf("%w: can't write portfolio", err)
	}
}

func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	doc, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: can't get portfolio", err)
	}
	p, err := decodePortfolio(doc)
	if err != nil {
		return 0, err
	}
	return p.Version, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	docs, err := s.client.LRange(ctx, s.transactionsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: can't list transactions", err)
	}

	txs := make([]model.Transaction, 0, len(docs))
	for _, doc := range docs {
		var t model.Transaction
		if err := sonic.UnmarshalString(doc, &t); err != nil {
			return nil, fmt.Errorf("%w: can't decode transaction", err)
		}
		txs = append(txs, t)
	}
	return txs, nil
}

func (s *Store) ListPortfolios(ctx context.Context) ([]model.UserPortfolio, error) {
	userIDs, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: can't list portfolio ids", err)
	}

	portfolios := make([]model.UserPortfolio, 0, len(userIDs))
	for start := 0; start < len(userIDs); start += _mgetBatch {
		batch := userIDs[start:min(start+_mgetBatch, len(userIDs))]
		keys := make([]string, 0, len(batch))
		for _, userID := range batch {
			keys = append(keys, s.portfolioKey(userID))
		}

		docs, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: can't get portfolios", err)
		}
		for _, doc := range docs {
			str, ok := doc.(string)
			if !ok {
				continue
			}
			p, err := decodePortfolio([]byte(str))
			if err != nil {
				return nil, err
			}
			portfolios = append(portfolios, p)
		}
	}
	return portfolios, nil
}

func decodePortfolio(doc []byte) (model.UserPortfolio, error) {
	var p model.UserPortfolio
	if err := sonic.Unmarshal(doc, &p); err != nil {
		return model.UserPortfolio{}, fmt.Errorf("%w: can't decode portfolio", err)
	}
	if p.Items == nil {
		p.Items = make(map[string]model.PortfolioItem)
	}
	return p, nil
}
