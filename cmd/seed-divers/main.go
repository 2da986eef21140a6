// Command seed-divers loads divers from a YAML file into Supabase.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/addfeaturesnow/prodesk/supabase/deferred"
)

type seedFile struct {
	Divers []seedDiver `yaml:"divers"`
}

type seedDiver struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// loadSeed parses and validates a seed file. Divers without an id get one.
func loadSeed(data []byte) ([]map[string]any, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(f.Divers) == 0 {
		return nil, errors.New("seed file has no divers")
	}

	seen := make(map[string]bool, len(f.Divers))
	rows := make([]map[string]any, 0, len(f.Divers))
	for i, d := range f.Divers {
		email := strings.ToLower(strings.TrimSpace(d.Email))
		if d.Name == "" || email == "" {
			return nil, fmt.Errorf("diver %d: name and email are required", i)
		}
		if seen[email] {
			return nil, fmt.Errorf("diver %d: duplicate email %s", i, email)
		}
		seen[email] = true
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		rows = append(rows, map[string]any{"id": d.ID, "name": d.Name, "email": email})
	}
	return rows, nil
}

func main() {
	var (
		envFile  = flag.String("env", ".env", "Path to .env with VITE_SUPABASE_URL and VITE_SUPABASE_PUBLISHABLE_KEY")
		seedPath = flag.String("file", "divers.yaml", "YAML seed file")
		dryRun   = flag.Bool("dry-run", false, "Validate the seed file without writing")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}

	data, err := os.ReadFile(filepath.Clean(*seedPath))
	if err != nil {
		log.Fatalf("read seed file: %v", err)
	}
	rows, err := loadSeed(data)
	if err != nil {
		log.Fatal(err)
	}
	if *dryRun {
		fmt.Printf("%d divers ok\n", len(rows))
		return
	}

	cfg := deferred.Config{
		URL:    firstEnv("VITE_SUPABASE_URL", "SUPABASE_URL"),
		APIKey: firstEnv("VITE_SUPABASE_PUBLISHABLE_KEY", "SUPABASE_PUBLISHABLE_KEY"),
	}
	db := deferred.NewSupabase(cfg, deferred.ConstructorOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var inserted []struct {
		ID string `json:"id"`
	}
	if err := db.From("divers").Upsert(rows, "email").Select("id").Rows(ctx, &inserted); err != nil {
		log.Fatalf("seed divers: %v", err)
	}
	fmt.Printf("Seeded %d divers into %s\n", len(inserted), cfg.URL)
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
