package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/princedwivedi2/pet-help-backend/internal/config"
	"github.com/princedwivedi2/pet-help-backend/internal/db"
	"github.com/princedwivedi2/pet-help-backend/internal/logging"
)

// RaceConfig controls how hard the simulator contends for each slot.
type RaceConfig struct {
	APIBaseURL   string
	Vets         int
	SlotsPerVet  int
	Contenders   int // concurrent owners racing for one slot
	Date         time.Time
	CancelRatio  float64
	FirstOwnerID int64
}

type vetTarget struct {
	PublicID    uuid.UUID
	OwnerUserID int64
}

// slotRace is one vet/start-time pair and the outcome of everyone who tried to book it.
type slotRace struct {
	Vet     vetTarget
	StartAt time.Time
	Winners []uuid.UUID
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentiles() (p50, p95, p99 time.Duration) {
	om.mu.Lock()
	sorted := append([]time.Duration(nil), om.latencies...)
	om.mu.Unlock()

	if len(sorted) == 0 {
		return 0, 0, 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	at := func(pct int) time.Duration {
		idx := len(sorted) * pct / 100
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	return at(50), at(95), at(99)
}

type Metrics struct {
	Book    OperationMetrics
	Confirm OperationMetrics
	Cancel  OperationMetrics
	Slots   OperationMetrics
}

type Simulator struct {
	cfg     RaceConfig
	loc     *time.Location
	client  *http.Client
	log     zerolog.Logger
	metrics Metrics
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty, "simulate")

	race := RaceConfig{
		APIBaseURL:   getEnv("API_BASE_URL", "http://localhost:"+cfg.HTTPPort),
		Vets:         getEnvInt("SIM_VETS", 10),
		SlotsPerVet:  getEnvInt("SIM_SLOTS_PER_VET", 8),
		Contenders:   getEnvInt("SIM_CONTENDERS", 25),
		Date:         nextWeekday(time.Now().In(cfg.Location())),
		CancelRatio:  getEnvFloat("SIM_CANCEL_RATIO", 0.25),
		FirstOwnerID: int64(getEnvInt("SIM_FIRST_OWNER_ID", 1_000_000)),
	}
	if raw := os.Getenv("SIM_DATE"); raw != "" {
		d, err := time.ParseInLocation(time.DateOnly, raw, cfg.Location())
		if err != nil {
			logger.Fatal().Err(err).Str("SIM_DATE", raw).Msg("invalid date")
		}
		race.Date = d
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	vets, err := loadVets(context.Background(), pool, race.Vets)
	if err != nil {
		logger.Fatal().Err(err).Msg("load vets")
	}
	if len(vets) == 0 {
		logger.Fatal().Msg("no vet profiles found, run cmd/seed first")
	}

	sim := &Simulator{
		cfg:    race,
		loc:    cfg.Location(),
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	logger.Info().
		Str("api", race.APIBaseURL).
		Int("vets", len(vets)).
		Int("slots_per_vet", race.SlotsPerVet).
		Int("contenders", race.Contenders).
		Str("date", race.Date.Format(time.DateOnly)).
		Msg("starting booking race")

	start := time.Now()
	races := sim.buildRaces(context.Background(), vets)
	sim.runRaces(context.Background(), races)
	sim.settle(context.Background(), races)
	elapsed := time.Since(start)

	doubleBooked := sim.PrintReport(races, elapsed)
	if doubleBooked > 0 {
		logger.Error().Int("slots", doubleBooked).Msg("double booking detected")
		os.Exit(1)
	}
}

func loadVets(ctx context.Context, pool *pgxpool.Pool, limit int) ([]vetTarget, error) {
	rows, err := pool.Query(ctx, `
		SELECT uuid, owner_user_id
		FROM vet_profiles
		WHERE deleted_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vetTarget
	for rows.Next() {
		var v vetTarget
		if err := rows.Scan(&v.PublicID, &v.OwnerUserID); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// buildRaces asks the API which slots are free and picks the first few per vet.
func (s *Simulator) buildRaces(ctx context.Context, vets []vetTarget) []*slotRace {
	var races []*slotRace
	day := s.cfg.Date.Format(time.DateOnly)
	for _, v := range vets {
		var body struct {
			Slots []string `json:"slots"`
		}
		url := fmt.Sprintf("%s/vets/%s/slots?date=%s", s.cfg.APIBaseURL, v.PublicID, day)
		status, err := s.do(ctx, &s.metrics.Slots, http.MethodGet, url, 0, nil, &body)
		if err != nil || status != http.StatusOK {
			s.log.Warn().Err(err).Int("status", status).Str("vet", v.PublicID.String()).Msg("slot lookup failed")
			continue
		}
		for i, hhmm := range body.Slots {
			if i == s.cfg.SlotsPerVet {
				break
			}
			startAt, err := time.ParseInLocation(time.DateOnly+" 15:04", day+" "+hhmm, s.loc)
			if err != nil {
				continue
			}
			races = append(races, &slotRace{Vet: v, StartAt: startAt})
		}
	}
	return races
}

// runRaces releases every contender for a slot at the same instant. All slots
// are raced in parallel.
func (s *Simulator) runRaces(ctx context.Context, races []*slotRace) {
	var ownerSeq atomic.Int64
	ownerSeq.Store(s.cfg.FirstOwnerID)

	var wg sync.WaitGroup
	for _, race := range races {
		var mu sync.Mutex
		gate := make(chan struct{})
		var contenders sync.WaitGroup
		for i := 0; i < s.cfg.Contenders; i++ {
			ownerID := ownerSeq.Add(1)
			contenders.Add(1)
			go func() {
				defer contenders.Done()
				<-gate
				id, ok := s.book(ctx, race, ownerID)
				if ok {
					mu.Lock()
					race.Winners = append(race.Winners, id)
					mu.Unlock()
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			close(gate)
			contenders.Wait()
		}()
	}
	wg.Wait()
}

func (s *Simulator) book(ctx context.Context, race *slotRace, ownerID int64) (uuid.UUID, bool) {
	req := map[string]any{
		"scheduled_at": race.StartAt.UTC().Format(time.RFC3339),
		"reason":       "race simulation",
	}
	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	url := fmt.Sprintf("%s/vets/%s/appointments", s.cfg.APIBaseURL, race.Vet.PublicID)
	status, err := s.do(ctx, &s.metrics.Book, http.MethodPost, url, ownerID, req, &resp)
	if err != nil {
		s.log.Debug().Err(err).Msg("booking request failed")
		return uuid.Nil, false
	}
	return resp.ID, status == http.StatusCreated
}

// settle has each vet confirm its winning bookings and cancels a share of
// them again so the freed slots show up in availability.
func (s *Simulator) settle(ctx context.Context, races []*slotRace) {
	var wg sync.WaitGroup
	for i, race := range races {
		if len(race.Winners) == 0 {
			continue
		}
		id := race.Winners[0]
		cancelIt := s.cfg.CancelRatio > 0 && float64(i%100) < s.cfg.CancelRatio*100
		wg.Add(1)
		go func() {
			defer wg.Done()
			base := fmt.Sprintf("%s/appointments/%s", s.cfg.APIBaseURL, id)
			if _, err := s.do(ctx, &s.metrics.Confirm, http.MethodPost, base+"/confirm", race.Vet.OwnerUserID, nil, nil); err != nil {
				s.log.Debug().Err(err).Msg("confirm failed")
				return
			}
			if cancelIt {
				body := map[string]string{"reason": "simulated cancellation"}
				if _, err := s.do(ctx, &s.metrics.Cancel, http.MethodPost, base+"/cancel", race.Vet.OwnerUserID, body, nil); err != nil {
					s.log.Debug().Err(err).Msg("cancel failed")
				}
			}
		}()
	}
	wg.Wait()
}

func (s *Simulator) do(ctx context.Context, m *OperationMetrics, method, url string, userID int64, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		m.Record(time.Since(start), 0)
		return 0, err
	}
	defer resp.Body.Close()
	m.Record(time.Since(start), resp.StatusCode)

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// PrintReport writes the summary and returns how many slots ended up with
// more than one successful booking.
func (s *Simulator) PrintReport(races []*slotRace, elapsed time.Duration) int {
	var won, empty, doubled int
	for _, r := range races {
		switch n := len(r.Winners); {
		case n == 0:
			empty++
		case n == 1:
			won++
		default:
			doubled++
		}
	}

	fmt.Println()
	fmt.Println("=== booking race report ===")
	fmt.Printf("elapsed:          %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("slots contested:  %d\n", len(races))
	fmt.Printf("slots won once:   %d\n", won)
	fmt.Printf("slots unbooked:   %d\n", empty)
	fmt.Printf("slots doubled:    %d\n", doubled)
	fmt.Println()

	for _, row := range []struct {
		name string
		m    *OperationMetrics
	}{
		{"slots", &s.metrics.Slots},
		{"book", &s.metrics.Book},
		{"confirm", &s.metrics.Confirm},
		{"cancel", &s.metrics.Cancel},
	} {
		total := atomic.LoadInt64(&row.m.Total)
		if total == 0 {
			continue
		}
		p50, p95, p99 := row.m.Percentiles()
		fmt.Printf("%-8s total=%-6d ok=%-6d conflict=%-6d error=%-6d p50=%-10s p95=%-10s p99=%s\n",
			row.name, total,
			atomic.LoadInt64(&row.m.Success),
			atomic.LoadInt64(&row.m.Conflict),
			atomic.LoadInt64(&row.m.Error),
			p50.Round(time.Microsecond), p95.Round(time.Microsecond), p99.Round(time.Microsecond))
	}
	return doubled
}

func nextWeekday(now time.Time) time.Time {
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
