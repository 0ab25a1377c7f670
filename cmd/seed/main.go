// Seeder for the Peupajoh food database: loads an Indonesian food
// nutrition CSV into the food_items table.
//
// Expected CSV header: name,calories,proteins,fat,carbohydrate,image
//
// Usage:
//
//	seed -csv indonesian_food_nutrition.csv
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peupajoh/peupajoh/internal/config"
	"github.com/peupajoh/peupajoh/internal/store"
	"github.com/peupajoh/peupajoh/pkg/models"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	csvPath := flag.String("csv", "indonesian_food_nutrition.csv", "path to the nutrition CSV")
	flag.Parse()

	cfg := config.Load()
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer s.Close()

	f, err := os.Open(*csvPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *csvPath).Msg("open csv")
	}
	defer f.Close()

	ctx := context.Background()
	count, skipped, err := seed(ctx, s, f)
	if err != nil {
		log.Fatal().Err(err).Msg("seeding failed")
	}

	log.Info().
		Int("seeded", count).
		Int("skipped", skipped).
		Str("db", cfg.Database.Path).
		Msg("🌱 food database seeded")
}

// seed reads CSV rows and upserts them as food records. Rows with a
// blank name or unparseable numbers are skipped, not fatal.
func seed(ctx context.Context, s store.FoodStore, r io.Reader) (count, skipped int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, 0, err
	}
	col := columnIndex(header)
	for _, required := range []string{"name", "calories", "proteins", "fat", "carbohydrate"} {
		if _, ok := col[required]; !ok {
			return 0, 0, fmt.Errorf("csv is missing column %q", required)
		}
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, skipped, err
		}

		name := strings.TrimSpace(field(row, col, "name"))
		if name == "" {
			skipped++
			continue
		}

		rec := &models.FoodRecord{
			Name:         name,
			Calories:     num(field(row, col, "calories")),
			Proteins:     num(field(row, col, "proteins")),
			Fat:          num(field(row, col, "fat")),
			Carbohydrate: num(field(row, col, "carbohydrate")),
			Image:        strings.TrimSpace(field(row, col, "image")),
		}
		if err := s.UpsertFood(ctx, rec); err != nil {
			log.Warn().Str("name", name).Err(err).Msg("skipping row")
			skipped++
			continue
		}
		count++
	}
	return count, skipped, nil
}

func columnIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return col
}

func field(row []string, col map[string]int, name string) string {
	idx, ok := col[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func num(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
