package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mint/backend/internal/auth"
	"mint/backend/internal/config"
	"mint/backend/internal/logging"
	"mint/backend/internal/repository"
	"mint/backend/internal/services"
	"mint/backend/pkg/models"
)

//go:embed seed.yaml
var defaultSeed []byte

// SeedFile is the layout of a seed document.
type SeedFile struct {
	Owner     string         `yaml:"owner"`
	Scenarios []SeedScenario `yaml:"scenarios"`
}

type SeedScenario struct {
	Name     string     `yaml:"name"`
	RegionID string     `yaml:"region_id"`
	Start    string     `yaml:"start"`
	End      string     `yaml:"end"`
	Tasks    []SeedTask `yaml:"tasks"`
}

type SeedTask struct {
	Name              string       `yaml:"name"`
	IndicatorID       string       `yaml:"indicator_id"`
	ResponseVariables []string     `yaml:"response_variables"`
	DrivingVariables  []string     `yaml:"driving_variables"`
	Threads           []SeedThread `yaml:"threads"`
}

type SeedThread struct {
	Name  string            `yaml:"name"`
	Notes map[string]string `yaml:"notes"`
}

func main() {
	var configFile, envFile, seedFile string

	cmd := &cobra.Command{
		Use:          "mint-seed",
		Short:        "Load example scenarios, tasks and threads",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader(configFile).Load(envFile)
			if err != nil {
				return err
			}
			logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

			raw := defaultSeed
			if seedFile != "" {
				if raw, err = os.ReadFile(seedFile); err != nil {
					return fmt.Errorf("failed to read seed file: %w", err)
				}
			}
			seed, err := parseSeed(raw)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			repo, closeFn, err := repository.Open(ctx, cfg.DB.Driver, cfg.DSN(), logger)
			if err != nil {
				return err
			}
			defer closeFn()
			if m, ok := repo.(repository.Migrator); ok {
				if err := m.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			created, err := apply(ctx, seed, repo, logger)
			if err != nil {
				return err
			}
			logger.Info("seed complete", "scenarios_created", created)
			return nil
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "Path to config file (default ./config.yaml)")
	cmd.Flags().StringVar(&envFile, "env", "", "Path to .env file")
	cmd.Flags().StringVar(&seedFile, "file", "", "Seed document (default: built-in example)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func parseSeed(raw []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if seed.Owner == "" {
		return nil, fmt.Errorf("seed owner is required")
	}
	return &seed, nil
}

func parseDates(start, end string) (models.DateRange, error) {
	s, err := time.Parse(time.DateOnly, start)
	if err != nil {
		return models.DateRange{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	e, err := time.Parse(time.DateOnly, end)
	if err != nil {
		return models.DateRange{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	return models.DateRange{Start: openapi_types.Date{Time: s}, End: openapi_types.Date{Time: e}}, nil
}

// apply creates every scenario the owner does not already have by name, with its tasks and
// threads. It returns the number of scenarios created.
func apply(ctx context.Context, seed *SeedFile, repo repository.Repository, logger *logging.Logger) (int, error) {
	ctx = auth.WithUser(ctx, seed.Owner)
	scenarios := services.NewScenarioService(repo, logger)
	threads := services.NewThreadService(repo, nil, nil, 0, nil, logger)

	existing, err := scenarios.ListScenarios(ctx, seed.Owner)
	if err != nil {
		return 0, fmt.Errorf("failed to list existing scenarios: %w", err)
	}

	created := 0
	for _, ss := range seed.Scenarios {
		if slices.ContainsFunc(existing, func(sc *models.Scenario) bool { return sc.Name == ss.Name }) {
			logger.Info("scenario already exists, skipping", "name", ss.Name)
			continue
		}
		dates, err := parseDates(ss.Start, ss.End)
		if err != nil {
			return created, fmt.Errorf("scenario %q: %w", ss.Name, err)
		}
		sc, err := scenarios.CreateScenario(ctx, &models.Scenario{Name: ss.Name, RegionID: ss.RegionID, Dates: dates})
		if err != nil {
			return created, fmt.Errorf("scenario %q: %w", ss.Name, err)
		}
		created++

		for _, st := range ss.Tasks {
			task, err := scenarios.CreateTask(ctx, sc.ID, &models.Task{
				Name:              st.Name,
				IndicatorID:       st.IndicatorID,
				ResponseVariables: st.ResponseVariables,
				DrivingVariables:  st.DrivingVariables,
			})
			if err != nil {
				return created, fmt.Errorf("task %q: %w", st.Name, err)
			}
			for _, sth := range st.Threads {
				th, err := threads.CreateThread(ctx, task.ID, sth.Name)
				if err != nil {
					return created, fmt.Errorf("thread %q: %w", sth.Name, err)
				}
				for section, text := range sth.Notes {
					if _, err := threads.SetNotes(ctx, th.ID, section, text); err != nil {
						return created, fmt.Errorf("thread %q notes: %w", sth.Name, err)
					}
				}
			}
		}
		logger.Info("scenario created", "id", sc.ID, "name", sc.Name, "tasks", len(ss.Tasks))
	}
	return created, nil
}
