package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vexmarkets/yield-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Market IDs come from a sequence so the monotonic counter survives
// restarts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) NextMarketID(ctx context.Context) (uint64, error) {
	var id uint64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('market_id_seq')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("next market id: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, description, creator, protocol, target_yield_bps,
		                      created_at, betting_ends_at, settlement_at,
		                      total_yes_stake, total_no_stake, fee_rate_bps,
		                      status, final_yield_bps, winner_side,
		                      random_duration, random_request)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11, $12, $13, $14, $15, $16)`,
		m.ID, m.Description, m.Creator, m.Protocol, m.TargetYieldBps,
		m.CreatedAt, m.BettingEndsAt, m.SettlementAt,
		m.TotalYesStake.String(), m.TotalNoStake.String(), m.FeeRateBps,
		m.Status, m.FinalYieldBps, string(m.WinnerSide),
		m.RandomDuration, m.RandomRequest.Hex(),
	)
	return err
}

const marketColumns = `id, description, creator, protocol, target_yield_bps,
       created_at, betting_ends_at, settlement_at,
       total_yes_stake::TEXT, total_no_stake::TEXT, fee_rate_bps,
       status, final_yield_bps, winner_side, random_duration, random_request`

func (s *PostgresStore) GetMarket(ctx context.Context, id uint64) (*model.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("market %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get market %d: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketColumns+` FROM markets ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) SettleMarket(ctx context.Context, id uint64, status model.MarketStatus, finalYieldBps int64, winner model.Side) error {
	// Guarded update: only an Active market may settle, and only once.
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET status = $2, final_yield_bps = $3, winner_side = $4
		 WHERE id = $1 AND status = $5`,
		id, status, finalYieldBps, string(winner), model.StatusActive,
	)
	if err != nil {
		return fmt.Errorf("settle market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetMarket(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("market %d: %w", id, ErrInvalidTransition)
	}
	return nil
}

func (s *PostgresStore) AppendBet(ctx context.Context, bet *model.Bet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	column := "total_yes_stake"
	if bet.Side == model.SideNo {
		column = "total_no_stake"
	}
	tag, err := tx.Exec(ctx,
		`UPDATE markets SET `+column+` = `+column+` + $2::NUMERIC WHERE id = $1`,
		bet.MarketID, bet.Amount.String(),
	)
	if err != nil {
		return fmt.Errorf("bump stake total: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %d: %w", bet.MarketID, ErrNotFound)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO bets (id, market_id, bettor, side, amount, placed_at, claimed)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		bet.ID, bet.MarketID, bet.Bettor, string(bet.Side),
		bet.Amount.String(), bet.PlacedAt, bet.Claimed,
	); err != nil {
		return fmt.Errorf("insert bet: %w", err)
	}

	return tx.Commit(ctx)
}

const betColumns = `id, market_id, bettor, side, amount::TEXT, placed_at, claimed`

func (s *PostgresStore) BetsByMarket(ctx context.Context, marketID uint64) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE market_id = $1 ORDER BY placed_at, id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBets(rows)
}

func (s *PostgresStore) BetsByBettor(ctx context.Context, marketID uint64, bettor string) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE market_id = $1 AND bettor = $2 ORDER BY placed_at, id`,
		marketID, bettor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBets(rows)
}

func (s *PostgresStore) MarketIDsByBettor(ctx context.Context, bettor string) ([]uint64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT market_id FROM bets WHERE bettor = $1 ORDER BY market_id`, bettor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) SetBetsClaimed(ctx context.Context, marketID uint64, betIDs []string, claimed bool) error {
	if len(betIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE bets SET claimed = $3 WHERE market_id = $1 AND id = ANY($2)`,
		marketID, betIDs, claimed,
	)
	return err
}

// pgxRow is the shared scan surface of pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...any) error
}

func scanMarket(row pgxRow) (*model.Market, error) {
	var m model.Market
	var yesS, noS, winner, requestHex string

	if err := row.Scan(&m.ID, &m.Description, &m.Creator, &m.Protocol, &m.TargetYieldBps,
		&m.CreatedAt, &m.BettingEndsAt, &m.SettlementAt,
		&yesS, &noS, &m.FeeRateBps,
		&m.Status, &m.FinalYieldBps, &winner, &m.RandomDuration, &requestHex); err != nil {
		return nil, err
	}

	m.TotalYesStake, _ = decimal.NewFromString(yesS)
	m.TotalNoStake, _ = decimal.NewFromString(noS)
	m.WinnerSide = model.Side(winner)
	m.RandomRequest = common.HexToHash(requestHex)
	return &m, nil
}

func scanBets(rows pgx.Rows) ([]model.Bet, error) {
	var bets []model.Bet
	for rows.Next() {
		var b model.Bet
		var amountS, side string

		if err := rows.Scan(&b.ID, &b.MarketID, &b.Bettor, &side,
			&amountS, &b.PlacedAt, &b.Claimed); err != nil {
			return nil, err
		}

		b.Side = model.Side(side)
		b.Amount, _ = decimal.NewFromString(amountS)
		bets = append(bets, b)
	}
	return bets, rows.Err()
}
