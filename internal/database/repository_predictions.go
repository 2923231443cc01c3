package database

import (
	"context"
	"fmt"
	"time"
)

const predictionColumns = `id, market, prediction_date, fold_number, model_name,
	actual_direction, actual_return, pred_direction, pred_proba_up, pred_proba_down,
	max_proba, confidence, take_profit_price, stop_loss_price, correct`

// ReplacePredictions deletes existing rows for (market, fold, model) and
// inserts the given rows in one transaction, making loads idempotent.
func (r *Repository) ReplacePredictions(ctx context.Context, market string, fold int, model string, preds []Prediction) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM historical_ai_predictions WHERE market = $1 AND fold_number = $2 AND model_name = $3`,
		market, fold, model)
	if err != nil {
		return fmt.Errorf("failed to delete existing predictions: %w", err)
	}

	query := `
		INSERT INTO historical_ai_predictions (
			market, prediction_date, fold_number, model_name,
			actual_direction, actual_return, pred_direction, pred_proba_up, pred_proba_down,
			max_proba, confidence, take_profit_price, stop_loss_price, correct
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	for _, p := range preds {
		_, err = tx.Exec(ctx, query,
			p.Market, p.Date, p.FoldNumber, p.ModelName,
			p.ActualDirection, p.ActualReturn, p.PredDirection, p.PredProbaUp, p.PredProbaDown,
			p.MaxProba, p.Confidence, p.TakeProfitPrice, p.StopLossPrice, p.Correct,
		)
		if err != nil {
			return fmt.Errorf("failed to insert prediction %s: %w", p.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit prediction load: %w", err)
	}

	return nil
}

// FindPredictions returns predictions for (market, fold, model) ordered by date.
func (r *Repository) FindPredictions(ctx context.Context, market string, fold int, model string) ([]Prediction, error) {
	query := `
		SELECT ` + predictionColumns + `
		FROM historical_ai_predictions
		WHERE market = $1 AND fold_number = $2 AND model_name = $3
		ORDER BY prediction_date ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, market, fold, model)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	preds := []Prediction{}
	for rows.Next() {
		var p Prediction
		err := rows.Scan(
			&p.ID, &p.Market, &p.Date, &p.FoldNumber, &p.ModelName,
			&p.ActualDirection, &p.ActualReturn, &p.PredDirection, &p.PredProbaUp, &p.PredProbaDown,
			&p.MaxProba, &p.Confidence, &p.TakeProfitPrice, &p.StopLossPrice, &p.Correct,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		preds = append(preds, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}

	return preds, nil
}

// FindPredictionsInRange returns predictions for (market, fold, model) whose
// date falls within [start, end].
func (r *Repository) FindPredictionsInRange(ctx context.Context, market string, fold int, model string, start, end time.Time) ([]Prediction, error) {
	query := `
		SELECT ` + predictionColumns + `
		FROM historical_ai_predictions
		WHERE market = $1 AND fold_number = $2 AND model_name = $3
		  AND prediction_date >= $4 AND prediction_date <= $5
		ORDER BY prediction_date ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, market, fold, model, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions in range: %w", err)
	}
	defer rows.Close()

	preds := []Prediction{}
	for rows.Next() {
		var p Prediction
		err := rows.Scan(
			&p.ID, &p.Market, &p.Date, &p.FoldNumber, &p.ModelName,
			&p.ActualDirection, &p.ActualReturn, &p.PredDirection, &p.PredProbaUp, &p.PredProbaDown,
			&p.MaxProba, &p.Confidence, &p.TakeProfitPrice, &p.StopLossPrice, &p.Correct,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		preds = append(preds, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}

	return preds, nil
}

// CountPredictions returns the number of stored prediction rows for a market.
func (r *Repository) CountPredictions(ctx context.Context, market string) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM historical_ai_predictions WHERE market = $1`, market).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count predictions: %w", err)
	}
	return n, nil
}
