package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/AppMana/golobulus/internal/instance"
	"github.com/AppMana/golobulus/internal/model"
	"github.com/AppMana/golobulus/internal/store"
)

var (
	flagVersion uint16
	flagFromDB  bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file | instance-id>",
	Short: "decode a saved instance and print it as JSON",
	Long: `inspect decodes a flattened instance. A file holds a big-endian uint16
schema version followed by the payload, unless --version is given, in which
case the whole file is the payload. With --db the argument is an instance id
looked up in the configured database.`,
	Args: cobra.ExactArgs(1),
	RunE: doInspect,
}

func init() {
	inspectCmd.Flags().Uint16Var(&flagVersion, "version", 0, "schema version of a raw payload file")
	inspectCmd.Flags().BoolVar(&flagFromDB, "db", false, "read the instance from the database")
}

type inspectOutput struct {
	Version       uint16       `json:"version"`
	ID            string       `json:"id"`
	Src           *string      `json:"src"`
	VenvPath      *string      `json:"venv_path"`
	LastKnownPath *string      `json:"last_known_path"`
	ShowDebug     bool         `json:"show_debug"`
	ActiveJob     *model.JobID `json:"active_job,omitempty"`
}

func doInspect(cmd *cobra.Command, args []string) error {
	version, data, err := readFlattened(cmd, args[0])
	if err != nil {
		return err
	}
	inst, err := instance.Unflatten(version, data)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(inspectOutput{
		Version:       version,
		ID:            inst.ID.String(),
		Src:           inst.Src,
		VenvPath:      inst.VenvPath,
		LastKnownPath: inst.LastKnownPath,
		ShowDebug:     inst.ShowDebug,
		ActiveJob:     inst.ActiveJob,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}

func readFlattened(cmd *cobra.Command, arg string) (uint16, []byte, error) {
	if flagFromDB {
		id, err := model.ParseInstanceID(arg)
		if err != nil {
			return 0, nil, fmt.Errorf("invalid instance id %q: %w", arg, err)
		}
		db, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return 0, nil, fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		return db.LoadInstance(cmd.Context(), id)
	}

	raw, err := os.ReadFile(arg)
	if err != nil {
		return 0, nil, err
	}
	if cmd.Flags().Changed("version") {
		return flagVersion, raw, nil
	}
	if len(raw) < 2 {
		return 0, nil, fmt.Errorf("%s: too short for a version prefix", arg)
	}
	return binary.BigEndian.Uint16(raw[:2]), raw[2:], nil
}
