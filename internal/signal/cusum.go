package signal

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/logging"
)

// CUSUM final actions.
const (
	ActionBuy  = "BUY"
	ActionPass = "PASS"
)

// CusumSignal is one event-time row from the master CUSUM CSV.
type CusumSignal struct {
	SignalTime      time.Time
	Strategy        string
	Model           string
	FoldID          int
	PrimarySignal   bool
	MLPrediction    int // 0 or 1
	FinalAction     string
	Confidence      float64
	Threshold       float64
	SelectivityPct  float64
	SuggestedWeight float64
	EntryPriceRef   decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopLossPrice   decimal.Decimal
	ExpirationTime  time.Time
	ActualDirection string
	Correct         bool
}

// CusumSummary aggregates the loaded signal set.
type CusumSummary struct {
	TotalSignals    int            `json:"total_signals"`
	TotalBuy        int            `json:"total_buy"`
	CorrectBuy      int            `json:"correct_buy"`
	Accuracy        float64        `json:"accuracy"` // correct / total BUY, percent
	CountsByStrategy map[string]int `json:"counts_by_strategy"`
	CountsByModel    map[string]int `json:"counts_by_model"`
	CountsByFold     map[int]int    `json:"counts_by_fold"`
}

// cusumAliases maps each canonical column to the header names it may appear
// under. Lookup is case-insensitive. Adding a legacy alias is a data change
// here, not a code change.
var cusumAliases = map[string][]string{
	"signal_time":           {"signal_time", "time", "datetime", "signal_datetime"},
	"strategy":              {"strategy", "strategy_id", "strategy_name"},
	"model":                 {"model", "model_id", "model_name"},
	"fold_id":               {"fold_id", "fold", "fold_number"},
	"primary_signal":        {"primary_signal", "is_primary"},
	"ml_prediction":         {"ml_prediction", "ml_pred", "prediction"},
	"final_action":          {"final_action", "action"},
	"confidence":            {"confidence", "conf"},
	"threshold":             {"threshold", "cusum_threshold"},
	"cusum_selectivity_pct": {"cusum_selectivity_pct", "selectivity_pct", "selectivity"},
	"suggested_weight":      {"suggested_weight", "kelly_weight", "weight"},
	"entry_price_ref":       {"entry_price_ref", "entry_price", "ref_price"},
	"take_profit_price":     {"take_profit_price", "tp_price", "take_profit"},
	"stop_loss_price":       {"stop_loss_price", "sl_price", "stop_loss"},
	"expiration_time":       {"expiration_time", "expiry", "expiration"},
	"actual_direction":      {"actual_direction", "actual_dir"},
	"correct":               {"correct", "is_correct"},
}

// CusumStore holds the CUSUM signal set, loaded once at startup and cached
// for the process lifetime. Reload atomically replaces the whole vector.
type CusumStore struct {
	mu      sync.RWMutex
	signals []CusumSignal
	log     *logging.Logger
}

// NewCusumStore creates an empty store.
func NewCusumStore() *CusumStore {
	return &CusumStore{log: logging.WithComponent("signal")}
}

// Load parses the master CSV and replaces the cached vector. Per-row parse
// failures are logged and skipped; an I/O failure aborts the load.
func (s *CusumStore) Load(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open cusum csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read cusum header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	index, err := resolveColumns(header)
	if err != nil {
		return 0, err
	}

	signals := []CusumSignal{}
	skipped := 0
	line := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read cusum row: %w", err)
		}
		line++

		sig, perr := parseCusumRow(record, index)
		if perr != nil {
			s.log.Warn("skipping unparseable cusum row", "line", line, "error", perr)
			skipped++
			continue
		}
		signals = append(signals, sig)
	}

	sort.Slice(signals, func(i, j int) bool {
		return signals[i].SignalTime.Before(signals[j].SignalTime)
	})

	s.mu.Lock()
	s.signals = signals
	s.mu.Unlock()

	s.log.Info("loaded cusum signals", "count", len(signals), "skipped", skipped)
	return len(signals), nil
}

func resolveColumns(header []string) (map[string]int, error) {
	lower := make(map[string]int, len(header))
	for i, h := range header {
		lower[strings.ToLower(strings.TrimSpace(h))] = i
	}

	index := make(map[string]int, len(cusumAliases))
	for canonical, aliases := range cusumAliases {
		found := -1
		for _, alias := range aliases {
			if i, ok := lower[alias]; ok {
				found = i
				break
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("cusum csv missing required column %q", canonical)
		}
		index[canonical] = found
	}
	return index, nil
}

var cusumTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

func parseCusumTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range cusumTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, database.KST); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", value)
}

func parseCusumRow(record []string, index map[string]int) (CusumSignal, error) {
	var sig CusumSignal

	cell := func(name string) (string, error) {
		i := index[name]
		if i >= len(record) {
			return "", fmt.Errorf("row too short for column %q", name)
		}
		return strings.TrimSpace(record[i]), nil
	}
	num := func(name string) (float64, error) {
		v, err := cell(name)
		if err != nil {
			return 0, err
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("bad %s %q: %w", name, v, err)
		}
		return f, nil
	}
	dec := func(name string) (decimal.Decimal, error) {
		v, err := cell(name)
		if err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("bad %s %q: %w", name, v, err)
		}
		return d, nil
	}

	signalTimeStr, err := cell("signal_time")
	if err != nil {
		return sig, err
	}
	sig.SignalTime, err = parseCusumTime(signalTimeStr)
	if err != nil {
		return sig, err
	}

	expirationStr, err := cell("expiration_time")
	if err != nil {
		return sig, err
	}
	sig.ExpirationTime, err = parseCusumTime(expirationStr)
	if err != nil {
		return sig, err
	}
	if !sig.ExpirationTime.After(sig.SignalTime) {
		return sig, fmt.Errorf("expiration %s not after signal time %s", sig.ExpirationTime, sig.SignalTime)
	}

	if sig.Strategy, err = cell("strategy"); err != nil {
		return sig, err
	}
	if sig.Model, err = cell("model"); err != nil {
		return sig, err
	}

	foldStr, err := cell("fold_id")
	if err != nil {
		return sig, err
	}
	if sig.FoldID, err = strconv.Atoi(foldStr); err != nil {
		return sig, fmt.Errorf("bad fold_id %q: %w", foldStr, err)
	}

	primaryStr, err := cell("primary_signal")
	if err != nil {
		return sig, err
	}
	sig.PrimarySignal = parseBool(primaryStr)

	mlStr, err := cell("ml_prediction")
	if err != nil {
		return sig, err
	}
	if sig.MLPrediction, err = strconv.Atoi(mlStr); err != nil {
		return sig, fmt.Errorf("bad ml_prediction %q: %w", mlStr, err)
	}

	action, err := cell("final_action")
	if err != nil {
		return sig, err
	}
	sig.FinalAction = strings.ToUpper(action)

	if sig.Confidence, err = num("confidence"); err != nil {
		return sig, err
	}
	if sig.Threshold, err = num("threshold"); err != nil {
		return sig, err
	}
	if sig.SelectivityPct, err = num("cusum_selectivity_pct"); err != nil {
		return sig, err
	}
	if sig.SuggestedWeight, err = num("suggested_weight"); err != nil {
		return sig, err
	}

	if sig.EntryPriceRef, err = dec("entry_price_ref"); err != nil {
		return sig, err
	}
	if sig.TakeProfitPrice, err = dec("take_profit_price"); err != nil {
		return sig, err
	}
	if sig.StopLossPrice, err = dec("stop_loss_price"); err != nil {
		return sig, err
	}

	if sig.ActualDirection, err = cell("actual_direction"); err != nil {
		return sig, err
	}
	correctStr, err := cell("correct")
	if err != nil {
		return sig, err
	}
	sig.Correct = parseBool(correctStr)

	return sig, nil
}

// All returns the cached signal vector, sorted by signal time.
func (s *CusumStore) All() []CusumSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CusumSignal, len(s.signals))
	copy(out, s.signals)
	return out
}

// BuySignals returns only rows whose final action is BUY; only these enter
// the simulator.
func (s *CusumStore) BuySignals() []CusumSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []CusumSignal{}
	for _, sig := range s.signals {
		if sig.FinalAction == ActionBuy {
			out = append(out, sig)
		}
	}
	return out
}

// Strategies returns the distinct strategy ids, sorted.
func (s *CusumStore) Strategies() []string {
	return s.distinct(func(sig CusumSignal) string { return sig.Strategy })
}

// Models returns the distinct model ids, sorted.
func (s *CusumStore) Models() []string {
	return s.distinct(func(sig CusumSignal) string { return sig.Model })
}

// Folds returns the distinct fold ids, sorted.
func (s *CusumStore) Folds() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[int]bool{}
	for _, sig := range s.signals {
		seen[sig.FoldID] = true
	}
	out := make([]int, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Ints(out)
	return out
}

func (s *CusumStore) distinct(key func(CusumSignal) string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	for _, sig := range s.signals {
		seen[key(sig)] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DateRange returns the earliest and latest signal times. ok is false when
// the store is empty.
func (s *CusumStore) DateRange() (first, last time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.signals) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return s.signals[0].SignalTime, s.signals[len(s.signals)-1].SignalTime, true
}

// Summary aggregates the loaded set: BUY counts, accuracy, and counts by
// strategy, model, and fold.
func (s *CusumStore) Summary() CusumSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := CusumSummary{
		TotalSignals:     len(s.signals),
		CountsByStrategy: map[string]int{},
		CountsByModel:    map[string]int{},
		CountsByFold:     map[int]int{},
	}

	for _, sig := range s.signals {
		summary.CountsByStrategy[sig.Strategy]++
		summary.CountsByModel[sig.Model]++
		summary.CountsByFold[sig.FoldID]++
		if sig.FinalAction == ActionBuy {
			summary.TotalBuy++
			if sig.Correct {
				summary.CorrectBuy++
			}
		}
	}

	if summary.TotalBuy > 0 {
		summary.Accuracy = float64(summary.CorrectBuy) / float64(summary.TotalBuy) * 100
	}

	return summary
}
