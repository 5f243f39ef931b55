package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"reactionmap/progress/internal/api"
	"reactionmap/progress/internal/config"
	"reactionmap/progress/internal/db"
	progressgrpc "reactionmap/progress/internal/grpc"
	"reactionmap/progress/internal/progress"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	migrateFunc      = db.Migrate        // mockable
	dialFunc         = dialQueryService  // mockable

	errHelp = errors.New("help provided")
)

type reportClient interface {
	GetClassReport(ctx context.Context, req *progressgrpc.GetClassReportRequest) (*progressgrpc.GetClassReportResponse, error)
	Close() error
}

type commandLine struct {
	cfg         config.Config
	out         io.Writer
	openService func(ctx context.Context) (*progress.Service, func(), error)
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate up|down - apply or roll back database migrations")
	fmt.Fprintln(cli.out, "  create-class -code CODE -name NAME [-teacher-code CODE] [-expires RFC3339|DURATION] [-students S1,S2] - create or update a class")
	fmt.Fprintln(cli.out, "  prune-sessions - delete expired sessions and stale rate limit windows")
	fmt.Fprintln(cli.out, "  report -class CODE [-addr HOST:PORT] [-csv leaderboard|activities] - print a class report from the query service")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	createClassCmd := flag.NewFlagSet("create-class", flag.ContinueOnError)
	createClassCmd.SetOutput(cli.out)
	classCode := createClassCmd.String("code", "", "The class code students join with.")
	className := createClassCmd.String("name", "", "A human readable class name.")
	teacherCode := createClassCmd.String("teacher-code", "", "The teacher code. Prompted when omitted.")
	expires := createClassCmd.String("expires", "", "Expiry as an RFC3339 timestamp or a duration from now, e.g. 2160h.")
	students := createClassCmd.String("students", "", "Comma separated student codes to pre-enroll.")

	reportCmd := flag.NewFlagSet("report", flag.ContinueOnError)
	reportCmd.SetOutput(cli.out)
	reportClass := reportCmd.String("class", "", "The class code.")
	reportAddr := reportCmd.String("addr", cli.cfg.GRPCAddr, "The progress query service address.")
	reportCSV := reportCmd.String("csv", "", "Print the report as CSV: leaderboard or activities.")

	ctx := context.Background()

	switch args[1] {
	case "migrate":
		if len(args) != 3 || (args[2] != "up" && args[2] != "down") {
			cli.printUsage()
			return errHelp
		}
		if err := migrateFunc(cli.cfg.DatabaseURL, args[2]); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "migrations %s: done\n", args[2])
		return nil

	case "create-class":
		if err := createClassCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *classCode == "" {
			createClassCmd.Usage()
			return errHelp
		}
		code := *teacherCode
		if code == "" {
			fmt.Fprint(cli.out, "Enter teacher code:")
			raw, err := readPasswordFunc(int(syscall.Stdin))
			fmt.Fprintln(cli.out)
			if err != nil {
				return err
			}
			code = strings.TrimSpace(string(raw))
		}
		expiresAt, err := parseExpiry(*expires, time.Now())
		if err != nil {
			return err
		}
		return cli.createClass(ctx, progress.ClassInput{
			Code:         *classCode,
			Name:         *className,
			TeacherCode:  code,
			ExpiresAt:    expiresAt,
			StudentCodes: splitList(*students),
		})

	case "prune-sessions":
		return cli.pruneSessions(ctx)

	case "report":
		if err := reportCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *reportClass == "" {
			reportCmd.Usage()
			return errHelp
		}
		return cli.report(ctx, *reportAddr, *reportClass, *reportCSV)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) createClass(ctx context.Context, in progress.ClassInput) error {
	svc, closeFn, err := cli.openService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	class, err := svc.CreateClass(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "class %s ready (%d pre-enrolled students)\n", class.Code, len(in.StudentCodes))
	return nil
}

func (cli *commandLine) pruneSessions(ctx context.Context) error {
	svc, closeFn, err := cli.openService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	removed, err := svc.PruneSessions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "removed %d expired sessions\n", removed)
	return nil
}

func (cli *commandLine) report(ctx context.Context, addr, classCode, csvKind string) error {
	if csvKind != "" {
		if _, err := api.ParseCSVKind(csvKind); err != nil {
			return err
		}
	}
	client, err := dialFunc(ctx, addr, cli.cfg.ServiceAuthToken)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := client.GetClassReport(ctx, &progressgrpc.GetClassReportRequest{ClassCode: classCode})
	if err != nil {
		return err
	}

	if csvKind != "" {
		return api.WriteReportCSV(cli.out, resp.Report, csvKind)
	}
	r := resp.Report
	fmt.Fprintf(cli.out, "class %s: %d students, %d active in 24h, coverage %.0f%%\n",
		r.ClassCode, r.Totals.Students, r.Totals.ActiveLast24h, r.Totals.Coverage*100)
	for i, entry := range r.Leaderboard {
		fmt.Fprintf(cli.out, "%2d. %-24s %d\n", i+1, entry.DisplayName, entry.Completed)
	}
	for _, topic := range r.WeakTopics {
		fmt.Fprintf(cli.out, "weak topic %s: %.0f%% over %d records\n", topic.Topic, topic.AverageProgress*100, topic.Total)
	}
	return nil
}

func dialQueryService(ctx context.Context, addr, token string) (reportClient, error) {
	return progressgrpc.Dial(ctx, addr, token, 5*time.Second)
}

func parseExpiry(value string, now time.Time) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		at := now.Add(d).UTC()
		return &at, nil
	}
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("expires must be RFC3339 or a duration (got '%s')", value)
	}
	at = at.UTC()
	return &at, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
