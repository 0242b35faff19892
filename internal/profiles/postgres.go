// internal/profiles/postgres.go
package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidwire/goofspiel/internal/models"
)

// PostgresRepository persists profiles in Postgres. The rating_history
// table keeps one row per applied delta, so a player's rating trajectory
// can be reconstructed game by game.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects and pings the database.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (models.Profile, error) {
	var p models.Profile
	q := `
	SELECT name, rating, rd, vol, games_played, games_won
	FROM profiles
	WHERE user_id = $1
	`
	err := r.pool.QueryRow(ctx, q, userID).Scan(
		&p.Name, &p.Rating, &p.RD, &p.Vol, &p.GamesPlayed, &p.GamesWon,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NewProfile(""), nil
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("query profile %s: %w", userID, err)
	}
	normalize(&p)
	return p, nil
}

func (r *PostgresRepository) Save(ctx context.Context, userID string, p models.Profile) error {
	q := `
	INSERT INTO profiles (user_id, name, rating, rd, vol, games_played, games_won)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (user_id) DO UPDATE SET
		name = EXCLUDED.name,
		rating = EXCLUDED.rating,
		rd = EXCLUDED.rd,
		vol = EXCLUDED.vol,
		games_played = EXCLUDED.games_played,
		games_won = EXCLUDED.games_won
	`
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q, userID, p.Name, p.Rating, p.RD, p.Vol, p.GamesPlayed, p.GamesWon)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("save profile %s: %w", userID, err)
	}
	return nil
}

// ApplyDelta writes the new rating fields and the history row in one
// transaction, so no crash can record a rating change without its audit row.
func (r *PostgresRepository) ApplyDelta(ctx context.Context, userID, gameID string, d models.RatingDelta) error {
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var oldRating float64
		err := tx.QueryRow(ctx, `SELECT rating FROM profiles WHERE user_id = $1`, userID).Scan(&oldRating)
		if errors.Is(err, pgx.ErrNoRows) {
			oldRating = models.DefaultRating
			if _, err := tx.Exec(ctx,
				`INSERT INTO profiles (user_id, rating, rd, vol, games_played, games_won)
				 VALUES ($1, $2, $3, $4, 0, 0)`,
				userID, models.DefaultRating, models.DefaultRD, models.DefaultVol,
			); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE profiles
			 SET rating = $1, rd = $2, vol = $3, games_played = $4, games_won = $5
			 WHERE user_id = $6`,
			d.Rating, d.RD, d.Vol, d.GamesPlayed, d.GamesWon, userID,
		); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO rating_history (user_id, game_id, old_rating, new_rating)
			 VALUES ($1, $2, $3, $4)`,
			userID, gameID, oldRating, d.Rating,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("apply rating delta for %s: %w", userID, err)
	}
	return nil
}
