package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"groupcast/internal/app"
	"groupcast/internal/config"
	"groupcast/internal/dispatch"
	"groupcast/internal/storage"
)

const usage = `usage: groupcast [-config path] [-env path] <command> [flags]

commands:
  send     -m TEXT [-to id,id] [-category C] [-interval 13s] [-json]
  targets  add -id ID -name NAME -category C | rm ID | ls [-category C]
  serve    run schedules, the ops server and config hot reload
  version  print the build version
`

const (
	exitOK    = 0
	exitErr   = 1
	exitUsage = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("groupcast", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	cfgPath := fs.String("config", "./config.json", "path to config json or yaml")
	envPath := fs.String("env", ".env", "dotenv file loaded before the config")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return exitUsage
	}
	cmd, cmdArgs := rest[0], rest[1:]
	if cmd == "version" {
		fmt.Fprintln(stdout, app.Version)
		return exitOK
	}

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintln(stderr, "fatal:", err)
		return exitErr
	}

	switch cmd {
	case "send":
		return withApp(ctx, *cfgPath, stderr, func(a *app.App) int { return runSend(ctx, a, cmdArgs, stdout, stderr) })
	case "targets":
		return withApp(ctx, *cfgPath, stderr, func(a *app.App) int { return runTargets(ctx, a, cmdArgs, stdout, stderr) })
	case "serve":
		a, err := app.New(*cfgPath)
		if err != nil {
			fmt.Fprintln(stderr, "fatal:", err)
			return exitErr
		}
		if err := a.Serve(ctx); err != nil {
			fmt.Fprintln(stderr, "fatal:", err)
			return exitErr
		}
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return exitUsage
	}
}

func withApp(ctx context.Context, cfgPath string, stderr io.Writer, fn func(a *app.App) int) int {
	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(stderr, "fatal:", err)
		return exitErr
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = a.Close(cctx)
	}()
	return fn(a)
}

func runSend(ctx context.Context, a *app.App, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(stderr)
	msg := fs.String("m", "", "message text")
	to := fs.String("to", "", "comma separated target ids (wins over -category)")
	category := fs.String("category", "", "send to every directory target in this category")
	interval := intervalFlag(fs, "interval", "wait between deliveries, a duration or whole seconds (min 13s; default from config)")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	rep, err := a.Send(ctx, app.SendRequest{
		Message:   *msg,
		TargetIDs: splitList(*to),
		Category:  *category,
		Interval:  *interval,
	})
	if err != nil {
		if dispatch.IsValidation(err) {
			fmt.Fprintln(stderr, "invalid request:", err)
		} else {
			fmt.Fprintln(stderr, "error:", err)
		}
		return exitErr
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return exitErr
		}
		return exitOK
	}
	printReport(stdout, rep)
	return exitOK
}

// intervalFlag accepts a Go duration or a bare number of seconds. The floor
// is left to the dispatcher so a short value reports as an invalid request.
func intervalFlag(fs *flag.FlagSet, name, help string) *time.Duration {
	d := new(time.Duration)
	fs.Func(name, help, func(raw string) error {
		s := strings.TrimSpace(raw)
		v, err := time.ParseDuration(s)
		if n, nerr := strconv.Atoi(s); nerr == nil {
			v, err = time.Duration(n)*time.Second, nil
		}
		if err != nil {
			return err
		}
		if v < 0 {
			return errors.New("interval must be >= 0")
		}
		*d = v
		return nil
	})
	return d
}

func printReport(w io.Writer, rep dispatch.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTARGET\tSTATUS\tDETAIL")
	for i, o := range rep.Outcomes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, o.TargetID, o.Status, oneLine(o.Detail, 80))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "batch %s: %d sent, %d failed in %s\n", rep.ID, rep.Succeeded(), rep.Failed(), rep.Duration().Round(time.Second))
	if failed := rep.FailedTargets(); len(failed) > 0 {
		fmt.Fprintf(w, "retry with: -to %s\n", strings.Join(failed, ","))
	}
}

func runTargets(ctx context.Context, a *app.App, args []string, stdout, stderr io.Writer) int {
	st := a.Targets()
	if st == nil {
		fmt.Fprintln(stderr, "error:", app.ErrNoDirectory)
		return exitErr
	}
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("targets add", flag.ContinueOnError)
		fs.SetOutput(stderr)
		id := fs.String("id", "", "group id (...@g.us) or phone number")
		name := fs.String("name", "", "display name")
		category := fs.String("category", "", "category")
		if err := fs.Parse(args[1:]); err != nil {
			return exitUsage
		}
		err := st.AddTarget(ctx, storage.Target{ID: *id, Name: *name, Category: *category})
		if err != nil {
			fmt.Fprintln(stderr, "error:", err)
			if errors.Is(err, storage.ErrInvalidTarget) {
				return exitUsage
			}
			return exitErr
		}
		fmt.Fprintf(stdout, "added %s\n", strings.TrimSpace(*id))
		return exitOK

	case "rm":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "usage: groupcast targets rm ID")
			return exitUsage
		}
		if err := st.RemoveTarget(ctx, args[1]); err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return exitErr
		}
		fmt.Fprintf(stdout, "removed %s\n", args[1])
		return exitOK

	case "ls":
		fs := flag.NewFlagSet("targets ls", flag.ContinueOnError)
		fs.SetOutput(stderr)
		category := fs.String("category", "", "only this category")
		if err := fs.Parse(args[1:]); err != nil {
			return exitUsage
		}
		targets, err := st.ListTargets(ctx, *category)
		if err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return exitErr
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCATEGORY")
		for _, t := range targets {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Name, t.Category)
		}
		_ = tw.Flush()
		return exitOK

	default:
		fmt.Fprintf(stderr, "unknown targets command %q\n", args[0])
		return exitUsage
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
