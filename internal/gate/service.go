// Package gate orchestrates one change-control evaluation of a merge
// request: it pulls the bundle diff document and the change-type and role
// definitions, resolves ownership contexts, covers every diff, folds the
// review conversation into decisions and publishes the outcome back to the
// merge request.
package gate

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/hashicorp/go-set/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/changegate/internal/bundlediff"
	"github.com/changegate/internal/bundleservice"
	"github.com/changegate/internal/changetypes"
	"github.com/changegate/internal/config"
	"github.com/changegate/internal/coverage"
	"github.com/changegate/internal/decision"
	"github.com/changegate/internal/ownership"
	"github.com/changegate/internal/providers/gitlab"
	"github.com/changegate/internal/report"
	"github.com/changegate/pkg/models"
)

// Service runs gate evaluations. One service instance can evaluate many
// merge requests; each run is independent and identified by its run ID.
type Service struct {
	cfg    *config.Config
	gl     *gitlab.Client
	bundle *bundleservice.Client
}

// Result is the outcome of one gate run.
type Result struct {
	RunID      string
	Report     *report.Report
	GoodToTest []string
}

// NewService creates a gate service from the loaded configuration.
func NewService(cfg *config.Config) (*Service, error) {
	gl, err := gitlab.New(gitlab.Config{URL: cfg.GitLab.URL, Token: cfg.GitLab.Token})
	if err != nil {
		return nil, fmt.Errorf("failed to create gitlab client: %w", err)
	}
	return &Service{
		cfg:    cfg,
		gl:     gl,
		bundle: bundleservice.New(cfg.BundleService.URL, cfg.BundleService.Token),
	}, nil
}

// Run evaluates one merge request. When diffFile is non-empty the bundle
// diff document is read from that file instead of the bundle service, which
// keeps local replays of a gate run possible without the comparison
// pipeline. With dryRun set, nothing is written back to the merge request.
func (s *Service) Run(ctx context.Context, mrURL, diffFile string, dryRun bool) (*Result, error) {
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Str("merge_request", mrURL).Logger()
	logger.Info().Msg("starting gate run")

	projectID, mrIID, err := gitlab.ExtractMRInfo(mrURL)
	if err != nil {
		return nil, err
	}

	doc, err := s.loadDiffDocument(ctx, mrURL, diffFile)
	if err != nil {
		return nil, err
	}

	defs, err := s.bundle.ChangeTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch change types: %w", err)
	}
	registry, err := changetypes.BuildRegistry(defs)
	if err != nil {
		return nil, fmt.Errorf("failed to build change type registry: %w", err)
	}

	roles, err := s.bundle.Roles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", err)
	}
	store := ownership.BuildApproverStore(roles)
	resolver := ownership.NewResolver(registry, s.bundle)

	changes := doc.Changes()
	s.coverChanges(ctx, resolver, store, changes, &logger)

	comments, err := s.gl.MergeRequestComments(ctx, projectID, mrIID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch merge request comments: %w", err)
	}
	decisions := decision.ParseComments(comments)
	changeDecisions := decision.ApplyDecisionsToChanges(changes, decisions, s.cfg.Gate.BotUsername)

	rep := report.Build(changes, changeDecisions)
	result := &Result{
		RunID:      runID,
		Report:     rep,
		GoodToTest: s.admittedTestRequests(changes, decisions),
	}

	logger.Info().
		Bool("self_serviceable", rep.SelfServiceable).
		Bool("approved", rep.Approved).
		Bool("held", rep.Held).
		Int("diffs", len(rep.Rows)).
		Msg("gate run evaluated")

	if dryRun {
		return result, nil
	}
	if err := s.publish(ctx, projectID, mrIID, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) loadDiffDocument(ctx context.Context, mrURL, diffFile string) (*bundlediff.Document, error) {
	if diffFile == "" {
		return s.bundle.BundleDiff(ctx, mrURL)
	}
	data, err := os.ReadFile(diffFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle diff document: %w", err)
	}
	return bundlediff.ParseDocument(data)
}

// coverChanges resolves ownership contexts and applies coverage for every
// change. Failures degrade per change type, not per run: an unresolvable
// context leaves its diffs uncovered, which the decision stage treats as
// requiring a full review.
func (s *Service) coverChanges(ctx context.Context, resolver *ownership.Resolver, store *ownership.ApproverStore, changes []*models.BundleFileChange, logger *zerolog.Logger) {
	for _, change := range changes {
		contexts, err := resolver.BuildContexts(ctx, change, store)
		if err != nil {
			logger.Warn().Str("file", change.FileRef.Path).Err(err).
				Msg("context resolution failed, leaving file uncovered")
			continue
		}
		for _, typeCtx := range contexts {
			if err := coverage.CoverChanges(typeCtx, change); err != nil {
				logger.Warn().Str("file", change.FileRef.Path).
					Str("context", typeCtx.ID()).Err(err).
					Msg("coverage failed for context")
			}
		}
	}
}

// admittedTestRequests filters /good-to-test requests through the
// restrictive admission gate: a request passes when the requesting user
// satisfies every restrictive change type on the merge request, or is on the
// configured allowlist.
func (s *Service) admittedTestRequests(changes []*models.BundleFileChange, decisions []models.Decision) []string {
	var admitted []string
	for _, actor := range decision.GoodToTestRequests(decisions) {
		if lo.Contains(s.cfg.Gate.GoodToTestApprovers, actor) ||
			decision.Admitted(changes, set.From([]string{actor})) {
			admitted = append(admitted, actor)
		}
	}
	return admitted
}

func (s *Service) publish(ctx context.Context, projectID string, mrIID int, result *Result) error {
	if err := s.gl.PostComment(ctx, projectID, mrIID, result.Report.Markdown()); err != nil {
		return fmt.Errorf("failed to post gate report: %w", err)
	}
	add, remove := result.Report.Labels()
	if err := s.gl.UpdateLabels(ctx, projectID, mrIID, add, remove); err != nil {
		return fmt.Errorf("failed to update labels: %w", err)
	}
	return nil
}
