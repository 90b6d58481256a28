/*
goverify runs scripted browser verifications.

Have a look at the README.md for more information.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jakopako/goverify/internal/browser"
	"github.com/jakopako/goverify/internal/config"
	"github.com/jakopako/goverify/internal/log"
	"github.com/jakopako/goverify/internal/output"
	"github.com/jakopako/goverify/internal/verify"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

var version = "dev"

const defaultEnvFile = ".env"

type VersionFlag string

func (v VersionFlag) Decode(_ *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                       { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Println(vars["version"])
	app.Exit(0)
	return nil
}

type cli struct {
	Version VersionFlag `short:"v" long:"version" help:"Print the version and exit."`
	Debug   bool        `short:"d" long:"debug" help:"Set log level to 'debug' and store additional helpful debugging data."`
	EnvFile string      `short:"e" long:"env-file" default:".env" help:"File with environment variables to load before reading the configuration." completion:"<file>"`

	Run     RunCmd     `cmd:"" help:"Run a verification script"`
	Check   CheckCmd   `cmd:"" help:"Validate a verification script and print it with all defaults applied"`
	History HistoryCmd `cmd:"" help:"List past runs stored by the sqlite writer"`
}

type RunCmd struct {
	Config   string `short:"c" default:"./verify.yaml" help:"The verification script to run." completion:"<file>"`
	BaseURL  string `short:"u" long:"base-url" help:"Overrides the base url relative navigation targets are resolved against."`
	Headless *bool  `long:"headless" help:"Overrides whether the browser runs without a window."`
	Out      string `short:"o" long:"out" help:"Overrides the screenshot output path (screenshot_output_path)."`
	Stdout   bool   `short:"s" long:"stdout" help:"If set to true the run result will be written to stdout despite any other existing writer configurations."`
	Summary  bool   `short:"S" long:"summary" help:"Print a table with the outcome of every step."`
}

func (rc *RunCmd) Run() error {
	opts := []config.Option{}
	if rc.BaseURL != "" {
		opts = append(opts, config.WithBaseURL(rc.BaseURL))
	}
	if rc.Headless != nil {
		opts = append(opts, config.WithHeadless(*rc.Headless))
	}
	if rc.Out != "" {
		opts = append(opts, config.WithScreenshotOutputPath(rc.Out))
	}
	conf, err := config.NewConfig(rc.Config, opts...)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	if rc.Stdout {
		conf.Writer.Type = output.STDOUT_WRITER_TYPE
	}

	runner, err := verify.NewRunner(conf.RunnerOptions())
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	session, err := browser.NewSession(conf.BrowserConfig())
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if t := conf.RunTimeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	slog.Info(fmt.Sprintf("running %d steps of script %s", len(conf.Steps), conf.Name))
	res := runner.Execute(ctx, session, conf.Script())
	writeResult(conf, res)

	if rc.Summary {
		if err := printSummary(os.Stdout, res); err != nil {
			slog.Error(fmt.Sprintf("error while printing summary: %v", err))
		}
	}
	if !res.Succeeded() {
		return res.Err()
	}
	slog.Info(res.Summary())
	return nil
}

// writeResult hands the result to the configured writer. Writer errors are
// logged and do not change the outcome of the run.
func writeResult(conf *config.Config, res verify.RunResult) {
	if conf.Writer.Type == "" {
		return
	}
	// the run might have been interrupted, the result should still be written
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	writer, err := output.NewWriter(ctx, &conf.Writer)
	if err != nil {
		slog.Error(fmt.Sprintf("error while creating writer: %v", err))
		return
	}
	if c, ok := writer.(io.Closer); ok {
		defer c.Close()
	}
	if err := writer.Write(ctx, res); err != nil {
		slog.Error(fmt.Sprintf("error while writing run result: %v", err))
	}
}

func printSummary(w io.Writer, res verify.RunResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("#", "Step", "Status", "Duration")
	for _, s := range res.Steps {
		d := ""
		if s.Status != verify.StepStatusSkipped {
			d = s.Duration.Round(time.Millisecond).String()
		}
		if err := table.Append([]string{fmt.Sprint(s.Index), s.Description, string(s.Status), d}); err != nil {
			return err
		}
	}
	status := string(res.Status)
	if !res.Succeeded() {
		status = fmt.Sprintf("%s (%s)", res.Status, res.ErrorKind)
	}
	table.Footer("", res.ID, status, res.Duration().Round(time.Millisecond).String())
	return table.Render()
}

type CheckCmd struct {
	Config string `short:"c" default:"./verify.yaml" help:"The verification script to check." completion:"<file>"`
}

func (cc *CheckCmd) Run() error {
	conf, err := config.NewConfig(cc.Config)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	conf.Writer.Password = ""
	yamlData, err := yaml.Marshal(conf)
	if err != nil {
		slog.Error(fmt.Sprintf("error while marshalling. %v", err))
		return err
	}
	fmt.Print(string(yamlData))
	return nil
}

type HistoryCmd struct {
	DB    string `long:"db" required:"" help:"The run history database written by the sqlite writer." completion:"<file>"`
	Limit int    `short:"n" default:"20" help:"The maximum number of runs to list, newest first. 0 lists all runs."`
}

func (hc *HistoryCmd) Run() error {
	if _, err := os.Stat(hc.DB); err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	ctx := context.Background()
	h, err := output.OpenHistory(ctx, hc.DB)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	defer h.Close()
	runs, err := h.History(ctx, hc.Limit)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	return printHistory(os.Stdout, runs)
}

func printHistory(w io.Writer, runs []verify.RunResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("Run", "Script", "Started", "Duration", "Status", "Failed step", "Kind")
	for _, r := range runs {
		failed := ""
		if r.FailedStep >= 0 {
			failed = fmt.Sprintf("%d %s", r.FailedStep, r.FailedStepDescription)
		}
		row := []string{
			r.ID,
			r.Script,
			r.Start.Local().Format(time.DateTime),
			r.Duration().Round(time.Millisecond).String(),
			string(r.Status),
			failed,
			string(r.ErrorKind),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err != nil && path == defaultEnvFile && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func getVersion() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if ok {
		if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
			return buildInfo.Main.Version
		}
	}
	return version
}

func main() {
	cli := cli{
		Version: VersionFlag(getVersion()),
	}

	ctx := kong.Parse(&cli,
		kong.Vars{
			"version": string(cli.Version),
		})

	log.Debug = cli.Debug
	// not very nice that the log package contains global state,
	// and that the following function relies on the log.Debug variable being set
	log.InitializeDefaultLogger()

	if err := loadEnvFile(cli.EnvFile); err != nil {
		ctx.FatalIfErrorf(fmt.Errorf("error loading env file %s: %w", cli.EnvFile, err))
	}

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
