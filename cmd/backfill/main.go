package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pirouette-labs/studio-ledger-api/internal/fee"
	"github.com/pirouette-labs/studio-ledger-api/internal/repository"
	"github.com/pirouette-labs/studio-ledger-api/internal/service"
	"github.com/pirouette-labs/studio-ledger-api/pkg/config"
	"github.com/pirouette-labs/studio-ledger-api/pkg/database"
	"github.com/pirouette-labs/studio-ledger-api/pkg/docstore"
	"github.com/pirouette-labs/studio-ledger-api/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Replay historical holiday declarations through the ledger engine",
	Long: `Replay holiday declarations against the production document store.
Each declaration runs the same reconciliation the API performs: charges
on the date are unwound, prepayments refunded, and an origin-tagged
credit recorded per adjustment, so replaying a date twice is safe.`,
}

var holidaysCmd = &cobra.Command{
	Use:   "holidays DATE=NAME [DATE=NAME...]",
	Short: "Declare one or more historical holidays",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHolidays,
}

func init() {
	rootCmd.AddCommand(holidaysCmd)
	holidaysCmd.Flags().Bool("dry-run", false, "Preview adjustments without writing anything")
	holidaysCmd.Flags().Bool("confirm", false, "Actually apply the declarations")
	holidaysCmd.Flags().Bool("json", false, "Emit reports as JSON")
}

func runHolidays(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	confirm, _ := cmd.Flags().GetBool("confirm")
	asJSON, _ := cmd.Flags().GetBool("json")

	if !dryRun && !confirm {
		return fmt.Errorf("refusing to write: pass --confirm to apply, or --dry-run to preview")
	}

	entries := make([][2]string, 0, len(args))
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("invalid argument %q, expected DATE=NAME", arg)
		}
		entries = append(entries, [2]string{parts[0], parts[1]})
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	store, err := docstore.NewPostgres(db, database.DSN(cfg.Database), logr)
	if err != nil {
		return fmt.Errorf("init document store: %w", err)
	}
	defer store.Close() //nolint:errcheck

	holidays, err := buildEngine(cfg, store, logr)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, entry := range entries {
		date, name := entry[0], entry[1]
		if dryRun {
			impact, err := holidays.AnalyzeHolidayImpact(ctx, date, name)
			if err != nil {
				return fmt.Errorf("analyze %s: %w", date, err)
			}
			if err := emit(cmd, asJSON, impact, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %q: %d students affected, attendance credit %d, payment credit %d\n",
					date, name, impact.StudentsAffected, impact.AttendanceCredit, impact.PaymentCredit)
			}); err != nil {
				return err
			}
			continue
		}
		report, err := holidays.DeclareHoliday(ctx, date, name, true)
		if err != nil {
			return fmt.Errorf("declare %s: %w", date, err)
		}
		if err := emit(cmd, asJSON, report, func() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %q: applied %d, skipped %d, failed %d, credited %d\n",
				date, name, report.AppliedCount, report.SkippedCount, report.FailedCount, report.TotalCredited)
		}); err != nil {
			return err
		}
	}
	return nil
}

func buildEngine(cfg *config.Config, store docstore.Gateway, logr *zap.Logger) (*service.HolidayService, error) {
	calendar, err := service.NewCalendar(cfg.Holidays.ManualDates)
	if err != nil {
		return nil, fmt.Errorf("invalid manual holiday configuration: %w", err)
	}
	students := repository.NewStudentRepository(store)
	attendanceDays := repository.NewAttendanceRepository(store)
	credits := repository.NewCreditRepository(store)
	payments := repository.NewPaymentRepository(store)

	metrics := service.NewMetricsService()
	feeEngine := fee.NewEngine(fee.Table{
		Absent:       cfg.Fees.AbsentFee,
		Late:         cfg.Fees.LateFee,
		NoShoes:      cfg.Fees.NoShoesFee,
		NotInUniform: cfg.Fees.NotInUniformFee,
	})
	balances := service.NewBalanceService(students, credits, cfg.Retry, metrics, logr)
	attendance := service.NewAttendanceService(attendanceDays, students, balances, feeEngine, nil, 0, cfg.Retry, metrics, logr)
	return service.NewHolidayService(calendar, attendance, balances, payments, feeEngine, metrics, logr), nil
}

func emit(cmd *cobra.Command, asJSON bool, payload interface{}, plain func()) error {
	if !asJSON {
		plain()
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
