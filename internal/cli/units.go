package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ormdash.org/internal/errs"
	"ormdash.org/internal/flight"
	"ormdash.org/internal/risk"
)

func init() {
	rootCmd.AddCommand(unitsCmd)
	unitsCmd.AddCommand(unitsLoadCmd)
}

// unitsFile is the YAML layout accepted by "units load".
type unitsFile struct {
	Units []unitEntry `yaml:"units"`
}

type unitEntry struct {
	ID            string      `yaml:"id"`
	Name          string      `yaml:"name"`
	PatchImageURL string      `yaml:"patch_image_url"`
	ChecklistURL  string      `yaml:"checklist_url"`
	Matrix        risk.Matrix `yaml:"orm_matrix"`
}

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "Manage units and their risk worksheets",
}

var unitsLoadCmd = &cobra.Command{
	Use:   "load <file.yaml>",
	Short: "Create or update units from a YAML file",
	Long: "Each unit is created when missing and updated otherwise. A unit whose flights\n" +
		"already reference its worksheet must bump the matrix version to change it.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		units, err := parseUnits(data, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		created, updated, err := loadUnits(ctx, a.Store, units)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "units: %d created, %d updated\n", created, updated)
		return nil
	},
}

func parseUnits(data []byte, now time.Time) ([]flight.Unit, error) {
	var file unitsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: parse units: %v", errs.ErrValidation, err)
	}
	if len(file.Units) == 0 {
		return nil, fmt.Errorf("%w: no units defined", errs.ErrValidation)
	}
	seen := make(map[string]struct{}, len(file.Units))
	out := make([]flight.Unit, 0, len(file.Units))
	for _, e := range file.Units {
		id := strings.TrimSpace(e.ID)
		if id == "" || strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("%w: every unit needs an id and a name", errs.ErrValidation)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: unit %s defined twice", errs.ErrValidation, id)
		}
		seen[id] = struct{}{}
		if e.Matrix.SchemaVersion == 0 {
			e.Matrix.SchemaVersion = risk.SchemaVersion
		}
		if err := e.Matrix.Validate(); err != nil {
			return nil, fmt.Errorf("unit %s: %w", id, err)
		}
		out = append(out, flight.Unit{
			ID:            id,
			Name:          strings.TrimSpace(e.Name),
			PatchImageURL: strings.TrimSpace(e.PatchImageURL),
			ChecklistURL:  strings.TrimSpace(e.ChecklistURL),
			Matrix:        e.Matrix,
			LastUpdated:   now,
		})
	}
	return out, nil
}

func loadUnits(ctx context.Context, store flight.Store, units []flight.Unit) (created, updated int, err error) {
	for _, u := range units {
		_, err := store.GetUnit(ctx, u.ID)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			if err := store.CreateUnit(ctx, u); err != nil {
				return created, updated, fmt.Errorf("create unit %s: %w", u.ID, err)
			}
			created++
		case err != nil:
			return created, updated, err
		default:
			if err := store.UpdateUnit(ctx, u); err != nil {
				return created, updated, fmt.Errorf("update unit %s: %w", u.ID, err)
			}
			updated++
		}
	}
	return created, updated, nil
}
