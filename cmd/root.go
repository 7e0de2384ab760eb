package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vodgrab/vodgrab/internal/output"
	"github.com/vodgrab/vodgrab/internal/scheduler"
	"github.com/vodgrab/vodgrab/internal/utils"
)

var (
	outputDir   string
	jobListFile string
	modeName    string
	workers     int
	hostWorkers int
	timeout     time.Duration
	kaTimeout   time.Duration
	userAgent   string
	cookie      string
	headers     []string
	proxyURL    string
	stateDir    string
	journalPath string
	noProgress  bool
	debug       bool
)

var VodgrabVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "vodgrab [JOB...]",
	Short:   "Vodgrab downloads session-authenticated HLS streams with resume",
	Long:    "Vodgrab fetches segmented video streams behind session cookies.\nEach JOB is a manifest URL, optionally suffixed with ,START,END,TOTAL\n(offsets as seconds or MM:SS). Interrupted jobs resume where they left off.",
	Version: VodgrabVersion,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		if len(args) == 0 && jobListFile == "" {
			output.PrintError("No job or job list provided")
			os.Exit(1)
		}
		if len(args) > 0 && jobListFile != "" {
			output.PrintError("Cannot specify job arguments and --joblist together, choose one")
			os.Exit(1)
		}

		credentials := make(map[string]string)
		var entries []utils.JobEntry
		if jobListFile != "" {
			list, err := utils.ReadJobList(jobListFile)
			if err != nil {
				output.PrintError(fmt.Sprintf("Failed to read job list: %v", err))
				os.Exit(1)
			}
			for k, v := range list.Header {
				credentials[k] = v
			}
			entries = list.Jobs
		} else {
			for _, arg := range args {
				entries = append(entries, utils.JobEntry{Link: arg})
			}
		}
		// flags override the job-list header block
		for k, v := range utils.ParseHeaderArgs(headers) {
			credentials[k] = v
		}
		if cookie != "" {
			credentials["Cookie"] = cookie
		}
		if credentials["Cookie"] == "" {
			output.PrintWarning("No session cookie supplied; protected streams will fail authentication")
		}

		clientConfig := utils.HTTPClientConfig{
			Timeout:   timeout,
			KATimeout: kaTimeout,
			ProxyURL:  proxyURL,
			UserAgent: userAgent,
			Headers:   credentials,
		}
		jobs, err := buildJobs(entries, clientConfig)
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		mode, err := utils.ParseMode(modeName)
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var progress *output.Manager
		if !noProgress && !debug {
			progress = output.NewManager()
			progress.StartDisplay()
		}
		if journalPath == "" {
			journalPath = filepath.Join(stateDir, "journal.yaml")
		}
		runErr := scheduler.Run(ctx, jobs, scheduler.Config{
			Mode:        mode,
			Workers:     workers,
			HostWorkers: hostWorkers,
			StateDir:    stateDir,
			JournalPath: journalPath,
			Progress:    progress,
		})
		if progress != nil {
			progress.StopDisplay()
			progress.ShowSummary()
		}
		if runErr != nil {
			output.PrintError("Encountered failed job(s); partial downloads are kept and will resume on re-run")
			os.Exit(1)
		}
	},
}

func buildJobs(entries []utils.JobEntry, clientConfig utils.HTTPClientConfig) ([]utils.Job, error) {
	var jobs []utils.Job
	for i, entry := range entries {
		link, timeRange, err := utils.ParseJobSpec(entry.Link)
		if err != nil {
			return nil, fmt.Errorf("job %d: %v", i+1, err)
		}
		if timeRange == nil && entry.Start != "" {
			start, err := utils.ParseClock(entry.Start)
			if err != nil {
				return nil, fmt.Errorf("job %d: bad start: %v", i+1, err)
			}
			end, err := utils.ParseClock(entry.End)
			if err != nil {
				return nil, fmt.Errorf("job %d: bad end: %v", i+1, err)
			}
			timeRange = &utils.TimeRange{Start: start, End: end}
			if entry.Total != "" {
				if timeRange.Total, err = utils.ParseClock(entry.Total); err != nil {
					return nil, fmt.Errorf("job %d: bad total: %v", i+1, err)
				}
			}
		}
		outputPath := entry.OutputPath
		if outputPath == "" {
			outputPath = utils.DeriveOutputPath(link, outputDir)
		}
		if _, err := os.Stat(outputPath); err == nil {
			outputPath = utils.RenewOutputPath(outputPath)
		}
		jobs = append(jobs, utils.Job{
			ID:               uuid.New().String(),
			URL:              link,
			OutputPath:       outputPath,
			Range:            timeRange,
			HTTPClientConfig: clientConfig,
		})
	}
	return jobs, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&outputDir, "output-dir", "o", ".", "Directory for output artifacts (names inferred from URLs)")
	rootCmd.Flags().StringVarP(&jobListFile, "joblist", "l", "", "Path to YAML file with a header block and job entries")
	rootCmd.Flags().StringVarP(&modeName, "mode", "m", "parallel", "Scheduling mode: parallel, series or hybrid")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 8, "Segment download workers (shared pool in parallel mode, per job in series)")
	rootCmd.Flags().IntVar(&hostWorkers, "host-workers", 4, "Segment workers per host group (hybrid mode)")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Per-request timeout (eg. 30s, 5m)")
	rootCmd.Flags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for the HTTP client")
	rootCmd.Flags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent sent with every request")
	rootCmd.Flags().StringVar(&cookie, "cookie", "", "Session cookie header value (credential, captured externally)")
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "Extra header (like 'X-Client-Id: abc'); can be specified multiple times")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL")
	rootCmd.Flags().StringVar(&stateDir, "state-dir", ".vodgrab-state", "Directory for resumable segment state")
	rootCmd.Flags().StringVar(&journalPath, "journal", "", "Outcome journal path (default: <state-dir>/journal.yaml)")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the live progress display")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
}
