package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reactionmap/progress/internal/api"
	"reactionmap/progress/internal/client"
	"reactionmap/progress/internal/syncer"
)

func (a *app) joinCmd() *cobra.Command {
	var req api.JoinRequest
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a class and replace local progress with the server copy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Join(cmd.Context(), req)
			if err != nil {
				return err
			}
			profile, err := a.sessions.StoreJoinResponse(resp, a.progress)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "joined %s as %s (%d activities restored)\n",
				profile.ClassCode, profile.DisplayName, len(resp.Progress))
			return nil
		},
	}
	cmd.Flags().StringVar(&req.ClassCode, "class", "", "class code")
	cmd.Flags().StringVar(&req.StudentCode, "student", "", "student code")
	cmd.Flags().StringVar(&req.DisplayName, "name", "", "display name")
	for _, name := range []string{"class", "student", "name"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (a *app) recordCmd() *cobra.Command {
	var (
		rawState string
		progress float64
		topic    string
		syncNow  bool
	)
	cmd := &cobra.Command{
		Use:   "record ACTIVITY_ID",
		Short: "Queue a progress update locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state := map[string]any{}
			if rawState != "" {
				if err := json.Unmarshal([]byte(rawState), &state); err != nil || state == nil {
					return errors.New("--state must be a JSON object")
				}
			}
			if cmd.Flags().Changed("progress") {
				state["progress"] = progress
			}
			if topic != "" {
				state["topic"] = topic
			}
			rec, err := a.progress.QueueUpdate(args[0], state)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s at %s\n", rec.ActivityID, rec.UpdatedAt.Format(time.RFC3339))
			if syncNow {
				return printResult(cmd.OutOrStdout(), a.engine.Sync(cmd.Context(), "manual"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rawState, "state", "", "activity state as a JSON object")
	cmd.Flags().Float64Var(&progress, "progress", 0, "completion between 0 and 1")
	cmd.Flags().StringVar(&topic, "topic", "", "topic the activity belongs to")
	cmd.Flags().BoolVar(&syncNow, "sync", false, "sync right after queueing")
	return cmd
}

func (a *app) pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List updates not yet acknowledged by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			batch := a.progress.PendingUpdates()
			if batch.Len() == 0 {
				fmt.Fprintln(out, "nothing pending")
				return nil
			}
			for _, u := range batch.Updates {
				state, _ := json.Marshal(u.State)
				fmt.Fprintf(out, "%s %s\n", u.ActivityID, state)
			}
			return nil
		},
	}
}

func (a *app) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push pending updates and pull remote changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult(cmd.OutOrStdout(), a.engine.Sync(cmd.Context(), "manual"))
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	var (
		interval time.Duration
		poll     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep syncing at startup, when the server comes back, on an interval and on every line read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			triggers := make(chan string)
			go func() {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					reason := strings.TrimSpace(scanner.Text())
					if reason == "" {
						reason = "manual"
					}
					select {
					case triggers <- reason:
					case <-ctx.Done():
						return
					}
				}
			}()

			out := cmd.OutOrStdout()
			a.engine.Watch(ctx, syncer.WatchOptions{
				Interval:         interval,
				ConnectivityPoll: poll,
				Triggers:         triggers,
				OnResult:         func(r syncer.Result) { _ = printResult(out, r) },
			})
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "periodic sync interval, 0 to disable")
	cmd.Flags().DurationVar(&poll, "poll", 10*time.Second, "connectivity check interval")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local session and sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if profile := a.sessions.Profile(); profile != nil {
				fmt.Fprintf(out, "student:   %s (%s)\n", profile.DisplayName, profile.ClassCode)
			} else {
				fmt.Fprintln(out, "student:   not joined")
			}
			fmt.Fprintf(out, "session:   %t\n", a.sessions.Token() != "")
			fmt.Fprintf(out, "records:   %d\n", len(a.progress.Records()))
			fmt.Fprintf(out, "pending:   %d\n", a.progress.PendingUpdates().Len())
			if last := a.progress.LastSyncAt(); last != nil {
				fmt.Fprintf(out, "last sync: %s\n", last.Format(time.RFC3339Nano))
			} else {
				fmt.Fprintln(out, "last sync: never")
			}
			online := a.client.Health(cmd.Context()) == nil
			fmt.Fprintf(out, "server:    %s\n", map[bool]string{true: "online", false: "offline"}[online])
			return nil
		},
	}
}

func (a *app) reportCmd() *cobra.Command {
	var (
		classCode   string
		teacherCode string
		login       bool
		csvKind     string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Fetch the teacher report for a class",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if teacherCode == "" {
				teacherCode = a.sessions.TeacherCode()
			}
			if teacherCode == "" {
				return errors.New("--teacher-code is required")
			}
			auth := client.TeacherAuth{ClassCode: classCode, TeacherCode: teacherCode}
			if login {
				token, err := a.client.TeacherLogin(ctx, api.TeacherLoginRequest{ClassCode: classCode, TeacherCode: teacherCode})
				if err != nil {
					return err
				}
				auth = client.TeacherAuth{ClassCode: classCode, AccessToken: token.AccessToken}
			}

			out := cmd.OutOrStdout()
			if csvKind != "" {
				body, err := a.client.ReportCSV(ctx, auth, csvKind)
				if err != nil {
					return err
				}
				_, err = out.Write(body)
				return a.rememberTeacherCode(err, teacherCode)
			}
			report, err := a.client.Report(ctx, auth)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return a.rememberTeacherCode(enc.Encode(report), teacherCode)
		},
	}
	cmd.Flags().StringVar(&classCode, "class", "", "class code")
	cmd.Flags().StringVar(&teacherCode, "teacher-code", "", "teacher code, remembered after a successful report")
	cmd.Flags().BoolVar(&login, "login", false, "exchange the teacher code for an access token first")
	cmd.Flags().StringVar(&csvKind, "csv", "", "print CSV instead of JSON: leaderboard or activities")
	_ = cmd.MarkFlagRequired("class")
	return cmd
}

func (a *app) rememberTeacherCode(err error, code string) error {
	if err != nil {
		return err
	}
	return a.sessions.SetTeacherCode(code)
}

func (a *app) logoutCmd() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the session; --purge also drops local progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pending := a.progress.PendingUpdates().Len(); pending > 0 && purge {
				fmt.Fprintf(cmd.ErrOrStderr(), "dropping %d unsynced updates\n", pending)
			}
			if err := a.sessions.Clear(); err != nil {
				return err
			}
			if purge {
				if err := a.progress.Reset(); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "also remove local progress and the sync cursor")
	return cmd
}

func printResult(w io.Writer, r syncer.Result) error {
	switch r.Status {
	case syncer.StatusSynced:
		last := "unchanged"
		if r.LastSyncAt != nil {
			last = r.LastSyncAt.Format(time.RFC3339Nano)
		}
		fmt.Fprintf(w, "%s: synced, pushed %d, pulled %d, cursor %s\n", r.Reason, r.Saved, r.Loaded, last)
	case syncer.StatusError:
		fmt.Fprintf(w, "%s: error: %s\n", r.Reason, r.Error)
		return errors.New(r.Error)
	default:
		fmt.Fprintf(w, "%s: %s\n", r.Reason, r.Status)
	}
	return nil
}
