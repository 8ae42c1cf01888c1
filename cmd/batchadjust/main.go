// Command batchadjust applies a bulk wallet adjustment file against the
// configured ledger and prints the per-row outcome.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"payment-orchestrator/internal/batch"
	"payment-orchestrator/internal/config"
	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/server"
	"payment-orchestrator/internal/service"
)

var (
	filePath  = flag.String("file", "", "Path to the adjustment CSV")
	token     = flag.String("token", "", "Authorization header forwarded to downstream services")
	recipient = flag.String("report-to", "", "Email address that receives the report")
	dryRun    = flag.Bool("dry-run", false, "Validate the file and accounts without moving money")
)

func main() {
	flag.Parse()
	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "usage: batchadjust -file adjustments.csv [-token T] [-report-to EMAIL] [-dry-run]")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if err := run(context.Background(), logger); err != nil {
		fmt.Fprintln(os.Stderr, "batchadjust:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	f, err := os.Open(*filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, rowErrors, err := batch.Parse(f)
	if err != nil {
		return err
	}
	if len(rowErrors) > 0 {
		printRowErrors(rowErrors)
		return fmt.Errorf("%d invalid rows", len(rowErrors))
	}

	app, err := server.NewApp(ctx, config.Load(), logger)
	if err != nil {
		return err
	}
	defer app.Close()

	h := domain.Headers{Authorization: *token}
	failures, err := app.Batches.Prevalidate(ctx, h, rows)
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		printFailures(failures)
		return fmt.Errorf("%d rows reference unknown accounts", len(failures))
	}
	if *dryRun {
		fmt.Printf("%d rows valid\n", len(rows))
		return nil
	}

	result := app.Batches.Adjust(ctx, h, rows, *recipient)
	printResult(rows, result)
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d rows failed", result.Failed, len(rows))
	}
	return nil
}

func printRowErrors(rowErrors []batch.RowError) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Row", "Input", "Errors"})
	for _, re := range rowErrors {
		table.Append([]string{strconv.Itoa(re.RowNum), re.Row, strings.Join(re.Errors, "; ")})
	}
	table.Render()
}

func printFailures(failures []service.RowFailure) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Row", "Error", "Code"})
	for _, f := range failures {
		for _, issue := range f.Error {
			table.Append([]string{strconv.Itoa(f.RowNum), issue.Message, issue.Code})
		}
	}
	table.Render()
}

func printResult(rows []batch.Row, result *service.BatchResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Row", "Retailer Id", "Amount", "Currency", "Transaction Type", "Status", "Idempotency Key", "Error"})
	for i, outcome := range result.Rows {
		row := rows[i]
		table.Append([]string{
			strconv.Itoa(outcome.RowNum),
			row.Account,
			row.Amount.StringFixed(2),
			string(row.Money.Currency),
			string(row.TransactionType),
			outcome.Status,
			outcome.IdempotencyKey,
			outcome.Error,
		})
	}
	table.SetFooter([]string{"", "", "", "", "", fmt.Sprintf("%d ok / %d failed", result.Succeeded, result.Failed), "", ""})
	table.Render()
}
