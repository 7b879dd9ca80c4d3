package cmd

import (
	"context"
	"os"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/openforge/mergebot/internal/config"
	"github.com/openforge/mergebot/internal/logging"
	"github.com/openforge/mergebot/internal/orchestrator"
	"github.com/openforge/mergebot/internal/poll"
	"github.com/openforge/mergebot/internal/repository"
	"github.com/openforge/mergebot/internal/service"
	"github.com/openforge/mergebot/internal/usecase"
	"github.com/openforge/mergebot/internal/workdir"
)

// container holds all the dependencies for the application.
type container struct {
	cfg *config.Config
	log *zap.Logger

	forge    repository.Forge
	tracker  repository.IssueTracker
	census   repository.Census
	messages service.MessageService
	diffs    service.DiffCompareService
}

// newContainer creates a new container with all the dependencies that
// do not need a materialized repository.
func newContainer(verbose bool) (*container, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateForGitHubOperations(); err != nil {
		return nil, err
	}

	log, err := logging.New(verbose)
	if err != nil {
		return nil, err
	}

	forge, err := repository.NewGithubForge(cfg.GithubToken, cfg.GithubOwner, cfg.GithubRepo)
	if err != nil {
		return nil, err
	}

	var tracker repository.IssueTracker
	if cfg.TrackerOwner != "" && cfg.TrackerRepo != "" {
		tracker, err = repository.NewGithubIssueTracker(cfg.GithubToken, cfg.TrackerOwner, cfg.TrackerRepo)
		if err != nil {
			return nil, err
		}
	} else {
		tracker = repository.NewNoopIssueTracker()
	}

	fs := afero.NewOsFs()
	var census repository.Census
	if _, statErr := os.Stat(cfg.CensusFile); statErr == nil {
		census, err = repository.LoadCensus(fs, cfg.CensusFile)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("census file not found; no project roles will resolve",
			zap.String("path", cfg.CensusFile))
		census = &repository.StaticCensus{}
	}

	return &container{
		cfg:      cfg,
		log:      log,
		forge:    forge,
		tracker:  tracker,
		census:   census,
		messages: service.NewMessageService(),
		diffs:    service.NewDiffCompareService(cfg.CleanSimilarity),
	}, nil
}

// newPoller materializes the managed repository and wires the full
// integration machine around it.
func (c *container) newPoller(ctx context.Context) (*poll.Poller, error) {
	wd, err := workdir.NewManager(afero.NewOsFs(), c.cfg.WorkDir, c.log)
	if err != nil {
		return nil, err
	}

	key := c.cfg.GithubOwner + "/" + c.cfg.GithubRepo
	url, err := c.forge.RepositoryURL(ctx, key)
	if err != nil {
		return nil, err
	}
	dir, err := wd.Materialize(ctx, url, key)
	if err != nil {
		return nil, err
	}
	vcs, err := repository.NewGitVCS(dir)
	if err != nil {
		return nil, err
	}

	// The audit refs default to living in the managed repository itself
	// under their own branch names.
	auditRemote := c.cfg.IntegrityRemote
	if auditRemote == "" {
		auditRemote = url
	}

	machine := &orchestrator.Machine{
		Forge:   c.forge,
		VCS:     vcs,
		Tracker: c.tracker,
		Census:  c.census,
		Config:  c.cfg,
		Readiness: &usecase.ReadinessEvaluator{
			Forge:  c.forge,
			Issues: c.tracker,
			Census: c.census,
			Config: c.cfg,
			Log:    c.log,
		},
		Backports: &usecase.BackportResolver{
			Forge:       c.forge,
			VCS:         vcs,
			DiffCompare: c.diffs,
			Messages:    c.messages,
		},
		MergeSources: &usecase.MergeSourceResolver{
			Forge:  c.forge,
			VCS:    vcs,
			Config: c.cfg,
		},
		Integrity: &usecase.IntegrityVerifier{
			VCS:    vcs,
			Remote: auditRemote,
			Log:    c.log,
		},
		Messages: c.messages,
		Locks:    orchestrator.NewBranchLocks(wd.Root()),
		Log:      c.log,
	}

	return &poll.Poller{
		Forge:    c.forge,
		Machine:  machine,
		Interval: c.cfg.PollInterval,
		Workers:  c.cfg.Workers,
		Log:      c.log,
	}, nil
}

// InitCommands initializes all commands with their dependencies.
func InitCommands() error {
	var verbose bool
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(newRunCmd(&verbose))
	rootCmd.AddCommand(newCheckCmd(&verbose))
	rootCmd.AddCommand(newVersionCmd())
	return nil
}
