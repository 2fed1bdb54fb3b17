package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/config"
	"github.com/springql-go/springql/internal/logging"
	"github.com/springql-go/springql/internal/pipeline"
	"github.com/springql-go/springql/internal/row"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	dim   = color.New(color.Faint).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open a pipeline, install a DDL script, and print popped rows",
	Long: `run opens one pipeline, installs the given DDL script as a
single Command, and — if a --pop queue is named — prints every row it
produces until interrupted (Ctrl-C) or --duration elapses.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("ddl", "", "path to a DDL script to install (required)")
	runCmd.Flags().String("pop", "", "name of an IN_MEMORY_QUEUE sink writer to print rows from")
	runCmd.Flags().Duration("pop-timeout", time.Second, "how long each Pop waits for a row")
	runCmd.Flags().Duration("duration", 0, "stop after this long (0 runs until Ctrl-C)")
	_ = runCmd.MarkFlagRequired("ddl")
}

func runRun(cmd *cobra.Command, _ []string) error {
	ddlPath, _ := cmd.Flags().GetString("ddl")
	popName, _ := cmd.Flags().GetString("pop")
	popTimeout, _ := cmd.Flags().GetDuration("pop-timeout")
	duration, _ := cmd.Flags().GetDuration("duration")
	debug, _ := cmd.Flags().GetBool("debug")

	ddl, err := os.ReadFile(ddlPath)
	if err != nil {
		return fmt.Errorf("reading DDL file: %w", err)
	}

	cfg := config.Default()
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}

	log := logging.New(cmd.OutOrStderr(), debug)

	p, err := pipeline.Open(cfg, log)
	if err != nil {
		return fmt.Errorf("opening pipeline: %w", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), red("close failed:"), err)
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), bold("pipeline "+p.ID()+" opened"))

	if err := p.Command(string(ddl)); err != nil {
		return fmt.Errorf("installing DDL: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), green("DDL installed"))

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	var deadline <-chan time.Time
	if duration > 0 {
		deadline = time.After(duration)
	}

	if popName == "" {
		select {
		case <-done:
		case <-deadline:
		}
		return nil
	}

	for {
		select {
		case <-done:
			return nil
		case <-deadline:
			return nil
		default:
		}

		r, err := p.Pop(popName, popTimeout)
		if err != nil {
			if apperr.Is(err, apperr.InputTimeout) {
				continue
			}
			return fmt.Errorf("pop %q: %w", popName, err)
		}
		printRow(cmd, r)
		r.Release()
	}
}

func printRow(cmd *cobra.Command, r *row.Row) {
	schema := r.Schema()
	fmt.Fprint(cmd.OutOrStdout(), dim(schema.StreamName), " ")
	for i, col := range schema.Columns {
		if i > 0 {
			fmt.Fprint(cmd.OutOrStdout(), ", ")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%v", col.Name, r.Value(i))
	}
	fmt.Fprintln(cmd.OutOrStdout())
}
