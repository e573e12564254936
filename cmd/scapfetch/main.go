package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/scapworks/scapfetch/pkg/evaluate"
	"github.com/scapworks/scapfetch/pkg/fetcher"
	"github.com/scapworks/scapfetch/pkg/kickstart"
	"github.com/scapworks/scapfetch/pkg/scap"
	"github.com/scapworks/scapfetch/pkg/xccdf"
)

var (
	// Set by the build.
	version = "dev"
	commit  = ""
)

func main() {
	app := cli.NewApp()
	app.Name = "scapfetch"
	app.Usage = "Fetch SCAP compliance content and evaluate a system against it"
	app.Version = version
	app.Commands = []*cli.Command{
		fetchCommand,
		evalCommand,
		versionCommand,
	}
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "Enable debug logging",
			EnvVars: []string{"SCAPFETCH_DEBUG"},
		},
	}
	app.Before = func(c *cli.Context) error {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if c.Bool("debug") {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("scapfetch failed")
	}
}

var contentFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "content-url",
		Usage:    "Content URL (http(s)) or absolute local path",
		Required: true,
	},
	&cli.StringFlag{
		Name:  "content-type",
		Usage: "Declared content type hint: xccdf, datastream, archive or rpm",
	},
	&cli.StringFlag{
		Name:  "profile",
		Usage: "Profile id to select; defaults to the content's default profile",
	},
	&cli.StringFlag{
		Name:  "datastream-id",
		Usage: "Datastream id inside a datastream collection",
	},
	&cli.StringFlag{
		Name:  "xccdf-id",
		Usage: "Benchmark (xccdf) id inside the content",
	},
	&cli.StringFlag{
		Name:  "xccdf-path",
		Usage: "Relative path of the XCCDF/datastream file inside the content",
	},
	&cli.StringFlag{
		Name:  "cpe-path",
		Usage: "Relative path of the CPE dictionary inside the content",
	},
	&cli.StringFlag{
		Name:  "tailoring-path",
		Usage: "Relative path of the tailoring file inside the content",
	},
	&cli.StringFlag{
		Name:  "ca-cert",
		Usage: "PEM CA bundle to validate the https content server",
	},
	&cli.StringFlag{
		Name:  "work-dir",
		Usage: "Base directory for per-fetch working directories",
	},
}

var fetchCommand = &cli.Command{
	Name:  "fetch",
	Usage: "Fetch content and build an evaluation session without evaluating",
	Flags: contentFlags,
	Action: func(c *cli.Context) error {
		session, err := runFetch(c)
		if err != nil {
			return err
		}
		paths := session.Paths()
		fmt.Println("content:", paths.ContentFile)
		if paths.TailoringPath != "" {
			fmt.Println("tailoring:", paths.TailoringPath)
		}
		for _, p := range session.Profiles() {
			marker := " "
			if p.Selected {
				marker = "*"
			}
			fmt.Printf("%s %s\t%s\n", marker, p.ID, p.Title)
		}
		return nil
	},
}

var evalCommand = &cli.Command{
	Name:  "eval",
	Usage: "Fetch content and evaluate this system against the selected profile",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "results",
			Usage: "Path of the evaluation results artifact",
			Value: "scapfetch-results.xml",
		},
		&cli.StringFlag{
			Name:  "oscap-path",
			Usage: "Path of the oscap binary",
		},
	}, contentFlags...),
	Action: func(c *cli.Context) error {
		session, err := runFetch(c)
		if err != nil {
			return err
		}

		runner := &evaluate.Runner{OscapPath: c.String("oscap-path")}
		outcome, err := runner.Evaluate(c.Context, session, c.String("results"))
		if err != nil {
			return err
		}

		fmt.Println("result:", outcome.Result)
		fmt.Println("results file:", outcome.ResultsPath)
		switch outcome.Result {
		case scap.EvalNonCompliant:
			// Some rules failed; the evaluation itself succeeded.
			return cli.Exit("", 2)
		case scap.EvalToolError:
			fmt.Fprintln(os.Stderr, outcome.Stderr)
			return cli.Exit("evaluation tool failed", 1)
		}
		return nil
	},
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print version information",
	Action: func(c *cli.Context) error {
		fmt.Println("scapfetch", version)
		if commit != "" {
			fmt.Println("commit:", commit)
		}
		return nil
	},
}

// runFetch drives a background fetch task and blocks until it terminates,
// rendering progress along the way. The event channel is the only
// communication with the worker.
func runFetch(c *cli.Context) (*xccdf.Session, error) {
	data := &kickstart.AddonData{
		ContentURL:    c.String("content-url"),
		DatastreamID:  c.String("datastream-id"),
		XCCDFID:       c.String("xccdf-id"),
		ProfileID:     c.String("profile"),
		XCCDFPath:     c.String("xccdf-path"),
		CPEPath:       c.String("cpe-path"),
		TailoringPath: c.String("tailoring-path"),
		Certificate:   c.String("ca-cert"),
	}
	if raw := c.String("content-type"); raw != "" {
		t, err := scap.ParseContentType(raw)
		if err != nil {
			return nil, &scap.KickstartContentError{Message: err.Error()}
		}
		data.ContentType = t
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	task := fetcher.New().Start(ctx, data.Request(c.String("work-dir")))

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error {
		for ev := range task.Events() {
			switch ev.Type {
			case fetcher.EventProgress:
				log.Info().Str("stage", string(ev.Stage)).Float64("fraction", ev.Fraction).Msg("fetch progress")
			case fetcher.EventFailed:
				return fmt.Errorf("%s: %s", ev.Kind, ev.Message)
			case fetcher.EventCompleted:
				log.Info().Msg("content ready")
			}
		}
		return nil
	}, func(error) {
		task.Cancel()
	})

	if err := g.Run(); err != nil {
		var sigErr run.SignalError
		if errors.As(err, &sigErr) {
			task.Cancel()
			_, werr := task.Wait()
			if werr == nil {
				werr = scap.ErrCancelled
			}
			return nil, werr
		}
		return nil, err
	}

	session, err := task.Wait()
	if err != nil {
		return nil, err
	}
	return session, nil
}
