package signal

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/logging"
)

// PredictionStore is the persistence capability the loader needs.
type PredictionStore interface {
	ReplacePredictions(ctx context.Context, market string, fold int, model string, preds []database.Prediction) error
}

// PredictionLoader bulk-loads per-(fold, model) prediction CSV files.
type PredictionLoader struct {
	store PredictionStore
	log   *logging.Logger
}

// NewPredictionLoader creates a prediction loader.
func NewPredictionLoader(store PredictionStore) *PredictionLoader {
	return &PredictionLoader{
		store: store,
		log:   logging.WithComponent("signal"),
	}
}

// Fixed column order of the per-fold per-model prediction CSV.
const (
	colDate = iota
	colActualDirection
	colActualReturn
	colTakeProfit
	colStopLoss
	colPredDirection
	colPredProbaUp
	colPredProbaDown
	colMaxProba
	colConfidence
	colCorrect
	predictionColumnCount
)

// LoadFile parses one prediction CSV and replaces the stored rows for
// (market, fold, model). Rows with unparseable cells are skipped with a
// warning; the load does not abort. Returns (inserted, skipped).
func (l *PredictionLoader) LoadFile(ctx context.Context, market string, fold int, model, path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open prediction file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	// Header row is required
	if _, err := reader.Read(); err != nil {
		return 0, 0, fmt.Errorf("failed to read prediction header: %w", err)
	}

	preds := []database.Prediction{}
	skipped := 0
	line := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read prediction row: %w", err)
		}
		line++

		p, perr := l.parseRow(record, market, fold, model)
		if perr != nil {
			l.log.Warn("skipping unparseable prediction row",
				"file", filepath.Base(path), "line", line, "error", perr)
			skipped++
			continue
		}
		preds = append(preds, p)
	}

	if err := l.store.ReplacePredictions(ctx, market, fold, model, preds); err != nil {
		return 0, 0, err
	}

	l.log.Info("loaded predictions",
		"market", market, "fold", fold, "model", model,
		"inserted", len(preds), "skipped", skipped)

	return len(preds), skipped, nil
}

var predictionFilePattern = regexp.MustCompile(`^([A-Za-z0-9]+)_fold(\d+)\.csv$`)

// LoadDir loads every prediction CSV in dir. File names follow
// <MODEL>_fold<N>.csv; files that do not match are ignored.
func (l *PredictionLoader) LoadDir(ctx context.Context, market, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read prediction directory: %w", err)
	}

	total := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := predictionFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		model := strings.ToUpper(m[1])
		fold, _ := strconv.Atoi(m[2])

		inserted, _, err := l.LoadFile(ctx, market, fold, model, filepath.Join(dir, entry.Name()))
		if err != nil {
			return total, fmt.Errorf("failed to load %s: %w", entry.Name(), err)
		}
		total += inserted
	}

	return total, nil
}

func (l *PredictionLoader) parseRow(record []string, market string, fold int, model string) (database.Prediction, error) {
	var p database.Prediction

	if len(record) < predictionColumnCount {
		return p, fmt.Errorf("expected %d columns, got %d", predictionColumnCount, len(record))
	}

	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(record[colDate]), database.KST)
	if err != nil {
		return p, fmt.Errorf("bad date %q: %w", record[colDate], err)
	}

	actualReturn, err := decimal.NewFromString(strings.TrimSpace(record[colActualReturn]))
	if err != nil {
		return p, fmt.Errorf("bad actualReturn %q: %w", record[colActualReturn], err)
	}
	takeProfit, err := decimal.NewFromString(strings.TrimSpace(record[colTakeProfit]))
	if err != nil {
		return p, fmt.Errorf("bad takeProfitPrice %q: %w", record[colTakeProfit], err)
	}
	stopLoss, err := decimal.NewFromString(strings.TrimSpace(record[colStopLoss]))
	if err != nil {
		return p, fmt.Errorf("bad stopLossPrice %q: %w", record[colStopLoss], err)
	}
	if !stopLoss.LessThan(takeProfit) {
		return p, fmt.Errorf("stopLossPrice %s not below takeProfitPrice %s", stopLoss, takeProfit)
	}

	probaUp, err := strconv.ParseFloat(strings.TrimSpace(record[colPredProbaUp]), 64)
	if err != nil {
		return p, fmt.Errorf("bad predProbaUp %q: %w", record[colPredProbaUp], err)
	}
	probaDown, err := strconv.ParseFloat(strings.TrimSpace(record[colPredProbaDown]), 64)
	if err != nil {
		return p, fmt.Errorf("bad predProbaDown %q: %w", record[colPredProbaDown], err)
	}
	maxProba, err := strconv.ParseFloat(strings.TrimSpace(record[colMaxProba]), 64)
	if err != nil {
		return p, fmt.Errorf("bad maxProba %q: %w", record[colMaxProba], err)
	}
	confidence, err := strconv.ParseFloat(strings.TrimSpace(record[colConfidence]), 64)
	if err != nil {
		return p, fmt.Errorf("bad confidence %q: %w", record[colConfidence], err)
	}

	p = database.Prediction{
		Market:          market,
		Date:            date,
		FoldNumber:      fold,
		ModelName:       model,
		ActualDirection: strings.TrimSpace(record[colActualDirection]),
		ActualReturn:    actualReturn,
		PredDirection:   strings.TrimSpace(record[colPredDirection]),
		PredProbaUp:     probaUp,
		PredProbaDown:   probaDown,
		MaxProba:        maxProba,
		Confidence:      confidence,
		TakeProfitPrice: takeProfit,
		StopLossPrice:   stopLoss,
		Correct:         parseBool(record[colCorrect]),
	}
	return p, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "t", "yes", "y":
		return true
	default:
		return false
	}
}
