package signal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"upbit-trading-bot/internal/database"
)

type fakePredictionStore struct {
	replaced map[string][]database.Prediction
}

func (f *fakePredictionStore) ReplacePredictions(_ context.Context, market string, fold int, model string, preds []database.Prediction) error {
	if f.replaced == nil {
		f.replaced = map[string][]database.Prediction{}
	}
	key := market + "/" + model
	f.replaced[key] = preds
	return nil
}

const predictionHeader = "date,actualDirection,actualReturn,takeProfitPrice,stopLossPrice,predDirection,predProbaUp,predProbaDown,maxProba,confidence,correct\n"

func writePredictionCSV(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPredictionLoadFile(t *testing.T) {
	csv := predictionHeader +
		"2024-01-15,UP,0.021,5150000,4900000,UP,0.7,0.3,0.7,0.2,1\n" +
		"2024-01-16,DOWN,-0.01,5100000,4850000,UP,0.55,0.45,0.55,0.05,0\n"

	path := writePredictionCSV(t, "GRU_fold1.csv", csv)
	store := &fakePredictionStore{}
	loader := NewPredictionLoader(store)

	inserted, skipped, err := loader.LoadFile(context.Background(), "KRW-ETH", 1, "GRU", path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if inserted != 2 || skipped != 0 {
		t.Fatalf("expected 2 inserted / 0 skipped, got %d / %d", inserted, skipped)
	}

	preds := store.replaced["KRW-ETH/GRU"]
	if len(preds) != 2 {
		t.Fatalf("store should hold 2 rows, got %d", len(preds))
	}
	if preds[0].PredProbaUp != 0.7 || preds[0].FoldNumber != 1 {
		t.Errorf("unexpected first row: %+v", preds[0])
	}
	if !preds[0].StopLossPrice.LessThan(preds[0].TakeProfitPrice) {
		t.Error("stop loss must sit below take profit")
	}
}

func TestPredictionLoadSkipsBadRows(t *testing.T) {
	csv := predictionHeader +
		"2024-01-15,UP,0.021,5150000,4900000,UP,0.7,0.3,0.7,0.2,1\n" +
		"2024-01-16,UP,abc,5150000,4900000,UP,0.7,0.3,0.7,0.2,1\n" + // bad numeric
		"2024-01-17,UP,0.02,4900000,5150000,UP,0.7,0.3,0.7,0.2,1\n" + // SL above TP
		"bad-date,UP,0.02,5150000,4900000,UP,0.7,0.3,0.7,0.2,1\n"

	path := writePredictionCSV(t, "GRU_fold2.csv", csv)
	loader := NewPredictionLoader(&fakePredictionStore{})

	inserted, skipped, err := loader.LoadFile(context.Background(), "KRW-ETH", 2, "GRU", path)
	if err != nil {
		t.Fatalf("bad rows must not abort: %v", err)
	}
	if inserted != 1 || skipped != 3 {
		t.Errorf("expected 1 inserted / 3 skipped, got %d / %d", inserted, skipped)
	}
}

func TestPredictionLoadDir(t *testing.T) {
	dir := t.TempDir()
	csv := predictionHeader + "2024-01-15,UP,0.021,5150000,4900000,UP,0.7,0.3,0.7,0.2,1\n"

	for _, name := range []string{"GRU_fold1.csv", "LSTM_fold2.csv", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(csv), 0644); err != nil {
			t.Fatal(err)
		}
	}

	store := &fakePredictionStore{}
	loader := NewPredictionLoader(store)

	total, err := loader.LoadDir(context.Background(), "KRW-ETH", dir)
	if err != nil {
		t.Fatalf("load dir failed: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 rows across matching files, got %d", total)
	}
	if len(store.replaced) != 2 {
		t.Errorf("expected 2 (fold, model) loads, got %d", len(store.replaced))
	}
}

func TestGetFoldBounds(t *testing.T) {
	if _, err := GetFold(0); err == nil {
		t.Error("fold 0 must be rejected")
	}
	if _, err := GetFold(9); err == nil {
		t.Error("fold 9 must be rejected")
	}
	fold, err := GetFold(8)
	if err != nil {
		t.Fatalf("fold 8 must exist: %v", err)
	}
	if !fold.StartDate.Before(fold.EndDate) {
		t.Error("fold dates out of order")
	}
}
