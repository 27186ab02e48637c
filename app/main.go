package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/go-pkgz/syncs"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/stdcap/app/capture"
	"github.com/umputun/stdcap/app/config"
	"github.com/umputun/stdcap/app/eventlog"
	"github.com/umputun/stdcap/app/host"
	appnotify "github.com/umputun/stdcap/app/notify"
	"github.com/umputun/stdcap/app/web"
)

var opts struct {
	Command         string        `short:"c" long:"command" env:"STDCAP_COMMAND" description:"worker executable"`
	ConfigFile      string        `short:"f" long:"config" env:"STDCAP_CONFIG" description:"host config file"`
	AppPath         string        `long:"app-path" env:"STDCAP_APP_PATH" description:"application directory, worker's working dir"`
	StartupTimeout  time.Duration `long:"startup-timeout" env:"STDCAP_STARTUP_TIMEOUT" description:"worker must survive this long to be started (default: 5s)"`
	ShutdownTimeout time.Duration `long:"shutdown-timeout" env:"STDCAP_SHUTDOWN_TIMEOUT" description:"wait after interrupt before kill (default: 10s)"`
	Dbg             bool          `long:"dbg" env:"STDCAP_DEBUG" description:"debug mode"`
	Schema          bool          `long:"schema" description:"print config file JSON schema and exit"`

	Stdout struct {
		Enabled  bool   `long:"enabled" env:"ENABLED" description:"capture worker output to a log file"`
		File     string `long:"file" env:"FILE" description:"log file base name, relative to app path (default: logs/stdout)"`
		Native   bool   `long:"native" env:"NATIVE" description:"redirect descriptors 1 and 2 of the host too"`
		Encoding string `long:"encoding" env:"ENCODING" description:"worker output encoding, host code page if empty"`
		Echo     bool   `long:"echo" env:"ECHO" description:"echo captured output of the log file to the host log"`
		Prefix   bool   `long:"prefix" env:"PREFIX" description:"prefix echoed output with the command name"`
	} `group:"stdout" namespace:"stdout" env-namespace:"STDCAP_STDOUT"`

	Repeater struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" description:"how many times to launch the worker (default: 1)"`
		Duration time.Duration `long:"duration" env:"DURATION" description:"initial duration (default: 1s)"`
		Factor   float64       `long:"factor" env:"FACTOR" description:"backoff factor (default: 3)"`
		Jitter   bool          `long:"jitter" env:"JITTER" description:"jitter"`
	} `group:"repeater" namespace:"repeater" env-namespace:"STDCAP_REPEATER"`

	Notify struct {
		SMTPHost       string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort       int           `long:"smtp-port" env:"SMTP_PORT" description:"SMTP port"`
		SMTPUsername   string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword   string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS        bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		SMTPStartTLS   bool          `long:"smtp-starttls" env:"SMTP_STARTTLS" description:"enable SMTP StartTLS"`
		SMTPTimeOut    time.Duration `long:"smtp-timeout" env:"SMTP_TIMEOUT" default:"10s" description:"SMTP TCP connection timeout"`
		FromEmail      string        `long:"from" env:"FROM" description:"SMTP from email"`
		ToEmails       []string      `long:"to" env:"TO" description:"SMTP to email(s)" env-delim:","`
		Webhooks       []string      `long:"webhook" env:"WEBHOOK" description:"webhook URL(s)" env-delim:","`
		WebhookHeaders []string      `long:"webhook-header" env:"WEBHOOK_HEADER" description:"webhook header(s), key:value" env-delim:","`
		WebhookTimeout time.Duration `long:"webhook-timeout" env:"WEBHOOK_TIMEOUT" default:"10s" description:"webhook timeout"`
		Template       string        `long:"template" env:"TEMPLATE" description:"custom error report template file"`
		MaxLogLines    int           `long:"max-log" env:"MAX_LOG" default:"100" description:"max number of output lines in report"`
		HostName       string        `long:"host" env:"HOSTNAME" description:"host name running stdcap"`
	} `group:"notify" namespace:"notify" env-namespace:"STDCAP_NOTIFY"`

	Web struct {
		Address      string  `long:"address" env:"ADDRESS" description:"diagnostics server address, disabled if empty"`
		PasswordHash string  `long:"password-hash" env:"PASSWORD_HASH" description:"bcrypt hash for basic auth, user stdcap"`
		HideOutput   bool    `long:"hide-output" env:"HIDE_OUTPUT" description:"don't show captured output"`
		RateLimit    float64 `long:"rate-limit" env:"RATE_LIMIT" default:"10" description:"api requests per second per client, 0 disables"`
	} `group:"web" namespace:"web" env-namespace:"STDCAP_WEB"`

	Events struct {
		DB        string        `long:"db" env:"DB" description:"event log database, disabled if empty"`
		Retention time.Duration `long:"retention" env:"RETENTION" default:"720h" description:"drop events older than this on start, 0 keeps all"`
	} `group:"events" namespace:"events" env-namespace:"STDCAP_EVENTS"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"log to file instead of stdout"`
		Filename        string `long:"filename" env:"FILENAME" default:"stdcap.log" description:"log file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in megabytes"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of old log files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max days to keep old log files"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated log files"`
	} `group:"log" namespace:"log" env-namespace:"STDCAP_LOG"`

	Args struct {
		Args []string `positional-arg-name:"args" description:"worker arguments"`
	} `positional-args:"yes"`
}

var revision = "unknown"

func main() {
	fmt.Printf("stdcap %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}

	if opts.Schema {
		if err := printSchema(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "failed to print schema: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logOut := setupLogs()
	if logOut != os.Stdout {
		defer func() { _ = logOut.(io.Closer).Close() }()
	}

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT, SIGINT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		cancel()
		os.Exit(1)
	}
	cancel()
}

func run(ctx context.Context) error {
	cfg, err := makeHostConfig()
	if err != nil {
		return err
	}

	enc, err := capture.LookupEncoding(cfg.Encoding)
	if err != nil {
		return fmt.Errorf("invalid stdout encoding: %w", err)
	}

	var store *eventlog.SQLiteStore
	var events host.Recorder
	var eventsLister web.EventLister
	if opts.Events.DB != "" {
		if store, err = eventlog.NewSQLiteStore(opts.Events.DB); err != nil {
			return fmt.Errorf("failed to open event log: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("[WARN] failed to close event log: %v", err)
			}
		}()
		if opts.Events.Retention > 0 {
			if n, err := store.Cleanup(ctx, opts.Events.Retention); err != nil {
				log.Printf("[WARN] failed to cleanup event log: %v", err)
			} else if n > 0 {
				log.Printf("[INFO] removed %d old events", n)
			}
		}
		events, eventsLister = store, store
	}

	reporter := &eventlog.Reporter{Timeout: 5 * time.Second}
	if store != nil {
		reporter.Recorder = store
	}

	hst := &host.Host{
		Command: cfg.ProcessPath,
		Args:    cfg.Arguments,
		Env:     cfg.Env(),
		Dir:     cfg.AppPath,
		Capture: capture.Params{
			FileLoggingEnabled: cfg.StdoutLogEnabled,
			ConsoleAttached:    capture.ConsoleAttached(),
			StdoutLogFile:      cfg.StdoutLogFile,
			AppPath:            appPath(cfg.AppPath),
			Native:             cfg.NativeRedirection,
			Encoding:           enc,
		},
		StartupTimeout:    cfg.StartupTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		Repeater:          makeRepeater(cfg.Retry),
		Reporter:          reporter,
		Events:            events,
		Notifier:          makeNotifier(),
		HostName:          makeHostName(),
		NotifyMaxLogLines: opts.Notify.MaxLogLines,
		EnableLogPrefix:   opts.Stdout.Prefix,
	}
	if opts.Stdout.Echo {
		hst.Capture.Echo = log.ToWriter(log.Default(), "")
	}

	var server *web.Server
	if opts.Web.Address != "" {
		server, err = web.New(web.Config{
			Hostname:     makeHostName(),
			Version:      revision,
			PasswordHash: opts.Web.PasswordHash,
			HideOutput:   opts.Web.HideOutput || cfg.HideOutput,
			APIRateLimit: opts.Web.RateLimit,
			Status:       hst,
			Events:       eventsLister,
		})
		if err != nil {
			return fmt.Errorf("failed to make web server: %w", err)
		}
	}

	return runAll(ctx, hst, server)
}

// runAll runs the host and the web server, the server stops when the host is done
func runAll(ctx context.Context, hst *host.Host, server *web.Server) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var errs []error
	addErr := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	gr := syncs.NewSizedGroup(2)
	gr.Go(func(context.Context) {
		defer cancel()
		if err := hst.Run(ctx); err != nil {
			addErr(fmt.Errorf("host failed: %w", err))
		}
	})
	if server != nil {
		gr.Go(func(context.Context) {
			if err := server.Run(ctx, opts.Web.Address); err != nil {
				addErr(err)
				cancel()
			}
		})
	}
	gr.Wait()
	return errors.Join(errs...)
}

// makeHostConfig loads the config file if set and applies command line overrides
func makeHostConfig() (*config.File, error) {
	cfg := &config.File{StdoutLogFile: config.DefaultStdoutLogFile, StartupTimeout: config.DefaultStartupTimeout,
		ShutdownTimeout: config.DefaultShutdownTimeout}
	if opts.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigFile); err != nil {
			return nil, err
		}
		log.Printf("[INFO] loaded config %s", opts.ConfigFile)
	}

	if opts.Command != "" {
		cfg.ProcessPath = opts.Command
	}
	if len(opts.Args.Args) > 0 {
		cfg.Arguments = opts.Args.Args
	}
	if opts.AppPath != "" {
		cfg.AppPath = opts.AppPath
	}
	if opts.Stdout.File != "" {
		cfg.StdoutLogFile = opts.Stdout.File
	}
	if opts.Stdout.Encoding != "" {
		cfg.Encoding = opts.Stdout.Encoding
	}
	if opts.StartupTimeout > 0 {
		cfg.StartupTimeout = opts.StartupTimeout
	}
	if opts.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = opts.ShutdownTimeout
	}
	cfg.StdoutLogEnabled = cfg.StdoutLogEnabled || opts.Stdout.Enabled
	cfg.NativeRedirection = cfg.NativeRedirection || opts.Stdout.Native

	if strings.TrimSpace(cfg.ProcessPath) == "" {
		return nil, &config.LoadError{Attribute: "process_path", Reason: "is required, set --command or config file"}
	}
	return cfg, nil
}

// makeRepeater makes launch repeater, command line values take precedence over config file
func makeRepeater(retry *config.RetryConfig) *repeater.Repeater {
	if retry == nil {
		retry = &config.RetryConfig{}
	}
	attempts := firstNonZero(opts.Repeater.Attempts, deref(retry.Attempts), 1)
	duration := firstNonZero(opts.Repeater.Duration, deref(retry.Duration), time.Second)
	factor := firstNonZero(opts.Repeater.Factor, deref(retry.Factor), 3)
	jitter := opts.Repeater.Jitter || deref(retry.Jitter)
	log.Printf("[DEBUG] launch attempts %d, duration %v, factor %.1f, jitter %v", attempts, duration, factor, jitter)
	return repeater.New(&strategy.Backoff{Repeats: attempts, Duration: duration, Factor: factor, Jitter: jitter})
}

func makeNotifier() *appnotify.Service {
	if len(opts.Notify.ToEmails) == 0 && len(opts.Notify.Webhooks) == 0 {
		return nil
	}

	if opts.Notify.FromEmail == "" {
		opts.Notify.FromEmail = "stdcap@" + makeHostName()
	}

	return appnotify.NewService(appnotify.Params{HostName: makeHostName(), ErrorTemplate: opts.Notify.Template},
		appnotify.SendersParams{
			SMTP: notify.SMTPParams{
				Host:        opts.Notify.SMTPHost,
				Port:        opts.Notify.SMTPPort,
				TLS:         opts.Notify.SMTPTLS,
				StartTLS:    opts.Notify.SMTPStartTLS,
				Username:    opts.Notify.SMTPUsername,
				Password:    opts.Notify.SMTPPassword,
				TimeOut:     opts.Notify.SMTPTimeOut,
				ContentType: "text/html",
				Charset:     "UTF-8",
			},
			FromEmail:      opts.Notify.FromEmail,
			ToEmails:       opts.Notify.ToEmails,
			WebhookURLs:    opts.Notify.Webhooks,
			WebhookTimeout: opts.Notify.WebhookTimeout,
			WebhookHeaders: opts.Notify.WebhookHeaders,
		})
}

func makeHostName() string {
	if opts.Notify.HostName != "" {
		return opts.Notify.HostName
	}
	hostName, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostName
}

// appPath returns absolute application dir, the current dir if not set
func appPath(dir string) string {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}

func printSchema(w io.Writer) error {
	schema, err := config.GenerateSchema()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(schema)
}

// setupLogs configures lgr and returns the log writer, made before any redirection
// so host logs keep going to the original stdout
func setupLogs() io.Writer {
	var out io.Writer = os.Stdout
	if opts.Log.Enabled {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	logOpts := []log.Option{log.Out(out), log.Err(out), log.Msec}
	if opts.Dbg {
		logOpts = append(logOpts, log.Debug, log.CallerFunc, log.CallerPkg, log.CallerFile)
	}
	log.Setup(logOpts...)
	return out
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] %v received, stopping", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
}

type number interface {
	~int | ~int64 | ~float64
}

func firstNonZero[T number](vals ...T) T {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}
