// Package service drives issuance lines from init to a signed, finalized credential.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	credmodels "credentials/internal/credentials/models"
	"credentials/internal/platform/metrics"
	"credentials/internal/verifiable/composition"
	"credentials/internal/verifiable/models"
	"credentials/internal/verifiable/statuslist"
	"credentials/internal/verifiable/storages"
	dErrors "credentials/pkg/domain-errors"
	"credentials/pkg/platform/sentinel"
	"credentials/pkg/platform/tracer"
)

// Config carries the issuance settings resolved at startup.
type Config struct {
	DefaultIssuer models.IssuanceConfiguration
	// ForcedDataModel overrides every storage's preferred data model when set.
	ForcedDataModel string
	PublicBaseURL   string
	// StatusListLength caps the status indexes handed out per issuer.
	StatusListLength int
}

// RegenerateFunc republishes the status list of an issuer.
type RegenerateFunc func(ctx context.Context, issuerID string) error

// Service owns the issuance line state machine.
type Service struct {
	store       Store
	credentials Credentials
	storages    *storages.Registry
	dataModels  *composition.Registry
	signer      Signer
	cfg         Config
	maxElapsed  time.Duration
	regenerate  RegenerateFunc
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      tracer.Tracer
	now         func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithDataModels replaces the built-in data model registry.
func WithDataModels(r *composition.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.dataModels = r
		}
	}
}

// WithConflictRetry bounds how long status-index conflicts are retried.
func WithConflictRetry(maxElapsed time.Duration) Option {
	return func(s *Service) {
		s.maxElapsed = maxElapsed
	}
}

// WithRegenerate is called for a line whose credential was revoked while
// the line was being finalized. The revocation's own regeneration ran while
// the line was still open and skipped it.
func WithRegenerate(fn RegenerateFunc) Option {
	return func(s *Service) {
		s.regenerate = fn
	}
}

// NewService validates cfg and builds the issuance service.
func NewService(store Store, credentials Credentials, registry *storages.Registry, signer Signer, cfg Config, opts ...Option) (*Service, error) {
	if cfg.DefaultIssuer.IssuerID == "" || cfg.DefaultIssuer.IssuerKey == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "default issuer id and key are required")
	}
	if registry == nil {
		return nil, dErrors.New(dErrors.CodeConfiguration, "storage registry is required")
	}
	if cfg.StatusListLength <= 0 {
		return nil, dErrors.New(dErrors.CodeConfiguration, "status list length must be positive")
	}
	s := &Service{
		store:       store,
		credentials: credentials,
		storages:    registry,
		dataModels:  composition.DefaultRegistry(),
		signer:      signer,
		cfg:         cfg,
		maxElapsed:  2 * time.Second,
		logger:      slog.New(slog.DiscardHandler),
		tracer:      tracer.NewNoop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.ForcedDataModel != "" {
		if _, err := s.dataModels.Get(cfg.ForcedDataModel); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Storages exposes the enabled storages.
func (s *Service) Storages() []storages.Storage {
	return s.storages.List()
}

// DefaultIssuerID returns the system-level issuer.
func (s *Service) DefaultIssuerID() string {
	return s.cfg.DefaultIssuer.IssuerID
}

// StatusListURL is where the issuer's status list is served.
func (s *Service) StatusListURL(issuerID string) string {
	return statuslist.URL(s.cfg.PublicBaseURL, issuerID)
}

// EnsureDefaultIssuer upserts the configured default issuer as enabled.
// Startup fails when it cannot be stored.
func (s *Service) EnsureDefaultIssuer(ctx context.Context) error {
	now := s.now().UTC()
	cfg := s.cfg.DefaultIssuer
	cfg.Enabled = true
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if err := s.store.SaveIssuer(ctx, &cfg); err != nil {
		return dErrors.Wrap(err, dErrors.CodeConfiguration, "failed to store default issuer")
	}
	s.logger.InfoContext(ctx, "default issuer configured", "issuer_id", cfg.IssuerID)
	return nil
}

// SaveIssuer registers or updates an additional issuer.
func (s *Service) SaveIssuer(ctx context.Context, cfg models.IssuanceConfiguration) error {
	if cfg.IssuerID == "" || cfg.IssuerKey == "" {
		return dErrors.NewValidation("invalid issuer", map[string]string{"issuer_id": "issuer id and key are required"})
	}
	if cfg.IssuerID == s.cfg.DefaultIssuer.IssuerID && !cfg.Enabled {
		return dErrors.New(dErrors.CodeInvalidState, "the default issuer cannot be disabled")
	}
	now := s.now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if err := s.store.SaveIssuer(ctx, &cfg); err != nil {
		return wrapStoreErr(err, "save issuer")
	}
	return nil
}

// ListIssuers returns every issuer configuration.
func (s *Service) ListIssuers(ctx context.Context) ([]*models.IssuanceConfiguration, error) {
	out, err := s.store.ListIssuers(ctx)
	if err != nil {
		return nil, wrapStoreErr(err, "list issuers")
	}
	return out, nil
}

// InitRequest starts an issuance. A nil UserCredentialID and an empty
// IssuerID are allowed; the latter resolves to the default issuer.
type InitRequest struct {
	StorageID        string
	UserCredentialID *uuid.UUID
	IssuerID         string
}

// Init returns the open line for (credential, storage), creating it when
// needed. Lines proving a credential hold a status index of their issuer.
func (s *Service) Init(ctx context.Context, req InitRequest) (line *models.IssuanceLine, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanIssuanceInit,
		tracer.String(tracer.AttrStorageID, req.StorageID))
	defer func() { span.End(err) }()

	if _, err := s.storages.Get(req.StorageID); err != nil {
		return nil, err
	}
	issuer, err := s.issuer(ctx, req.IssuerID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(tracer.String(tracer.AttrIssuerID, issuer.IssuerID))

	status := credmodels.StatusAwarded
	if req.UserCredentialID != nil {
		credential, err := s.credentials.Get(ctx, *req.UserCredentialID)
		if err != nil {
			return nil, err
		}
		status = credential.Status
	}

	err = s.retryConflicts(ctx, func() error {
		now := s.now().UTC()
		line, _, err = s.store.GetOrCreateLine(ctx, &models.IssuanceLine{
			ID:               uuid.New(),
			UserCredentialID: req.UserCredentialID,
			IssuerID:         issuer.IssuerID,
			StorageID:        req.StorageID,
			Status:           status,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		if err != nil {
			return err
		}
		if line.IsStatusList() || line.StatusIndex != nil {
			return nil
		}
		idx, err := s.store.AssignStatusIndex(ctx, line.ID, s.cfg.StatusListLength)
		if err != nil {
			return err
		}
		line.StatusIndex = &idx
		return nil
	})
	if errors.Is(err, sentinel.ErrExhausted) {
		s.logger.ErrorContext(ctx, "status list exhausted",
			"issuer_id", issuer.IssuerID,
			"length", s.cfg.StatusListLength,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "status list exhausted")
	}
	if err != nil {
		return nil, wrapStoreErr(err, "initiate issuance line")
	}
	if line.StatusIndex != nil {
		span.SetAttributes(tracer.Int64(tracer.AttrStatusIndex, int64(*line.StatusIndex)))
	}
	s.logger.InfoContext(ctx, "issuance line initiated",
		"line_id", line.ID,
		"storage_id", line.StorageID,
		"issuer_id", line.IssuerID,
	)
	return line, nil
}

// retryConflicts reruns op while it fails with sentinel.ErrConflict.
func (s *Service) retryConflicts(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxElapsedTime = s.maxElapsed

	err := backoff.Retry(func() error {
		err := op()
		if err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return backoff.Permanent(err)
		}
		if err != nil {
			s.logger.DebugContext(ctx, "issuance conflict, retrying", "error", err)
		}
		return err
	}, backoff.WithContext(b, ctx))
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

// ProcessRequest validates the wallet request against the line's storage and
// records the subject. The line stays initiated when validation fails.
func (s *Service) ProcessRequest(ctx context.Context, lineID uuid.UUID, body map[string]any) (*models.IssuanceLine, error) {
	line, err := s.openLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line.IsStatusList() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "status list lines take no issuance request")
	}
	storage, err := s.storages.Get(line.StorageID)
	if err != nil {
		return nil, err
	}
	req, err := storage.ParseRequest(body)
	if err != nil {
		return nil, err
	}

	line.SubjectID = req.HolderID
	line.ExpirationDate = nil
	if req.ExpirationDate != "" {
		exp, err := time.Parse(time.RFC3339, req.ExpirationDate)
		if err != nil {
			return nil, dErrors.NewValidation("invalid issuance request", map[string]string{"expiration_date": "must be an RFC 3339 timestamp"})
		}
		exp = exp.UTC()
		line.ExpirationDate = &exp
	}
	line.UpdatedAt = s.now().UTC()
	if err := s.store.SaveLine(ctx, line); err != nil {
		return nil, wrapStoreErr(err, "save issuance request")
	}
	return line, nil
}

// ComposeAndSign renders, signs and finalizes a validated line. A failure
// leaves the line unfinalized so the call can be repeated.
func (s *Service) ComposeAndSign(ctx context.Context, lineID uuid.UUID) (result *models.IssueResult, err error) {
	line, err := s.openLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line.IsStatusList() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "status list lines are issued by regeneration")
	}
	if line.State() != models.StateValidated {
		return nil, dErrors.New(dErrors.CodeInvalidState, "issuance request has not been validated")
	}
	if line.StatusIndex == nil {
		return nil, dErrors.New(dErrors.CodeInvalidState, "issuance line holds no status index")
	}
	storage, err := s.storages.Get(line.StorageID)
	if err != nil {
		return nil, err
	}
	line.DataModelID = composition.Resolve(s.cfg.ForcedDataModel, storage.PreferredDataModel)

	defer func() {
		outcome := metrics.OutcomeSucceeded
		if err != nil {
			outcome = metrics.OutcomeFailed
			s.logger.ErrorContext(ctx, "issuance failed",
				"line_id", lineID,
				"data_model", line.DataModelID,
				"error", err,
			)
		}
		s.metrics.IncrementIssuanceAttempts(line.DataModelID, outcome)
	}()

	credential, err := s.credentials.Get(ctx, *line.UserCredentialID)
	if err != nil {
		return nil, err
	}
	if credential.Status == credmodels.StatusRevoked {
		return nil, dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("credential %s is revoked", credential.ID))
	}
	line.Status = credential.Status
	issuer, err := s.issuer(ctx, line.IssuerID)
	if err != nil {
		return nil, err
	}

	doc, err := s.composeAndSign(ctx, line, composition.Input{
		Credential:    credential,
		Issuer:        *issuer,
		StatusListURL: s.StatusListURL(issuer.IssuerID),
	})
	if err != nil {
		return nil, err
	}
	if err := s.Finalize(ctx, line); err != nil {
		return nil, err
	}
	s.catchUpRevocation(ctx, line)
	return &models.IssueResult{Line: *line, Document: doc}, nil
}

// catchUpRevocation handles a revocation that landed between reading the
// credential and finalizing the line: the line takes the revoked status and
// its issuer's list is regenerated.
func (s *Service) catchUpRevocation(ctx context.Context, line *models.IssuanceLine) {
	credential, err := s.credentials.Get(ctx, *line.UserCredentialID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to recheck credential status", "line_id", line.ID, "error", err)
		return
	}
	if credential.Status != credmodels.StatusRevoked {
		return
	}
	line.Status = credmodels.StatusRevoked
	line.UpdatedAt = s.now().UTC()
	if err := s.store.SaveLine(ctx, line); err != nil {
		s.logger.ErrorContext(ctx, "failed to mirror revocation onto line", "line_id", line.ID, "error", err)
		return
	}
	if s.regenerate == nil {
		return
	}
	if err := s.regenerate(ctx, line.IssuerID); err != nil {
		s.logger.ErrorContext(ctx, "failed to regenerate status list after late revocation",
			"issuer_id", line.IssuerID,
			"error", err,
		)
	}
}

// IssueStatusList self-issues the status-list credential of issuerID
// carrying encodedList.
func (s *Service) IssueStatusList(ctx context.Context, issuerID, encodedList string) (models.Document, error) {
	issuer, err := s.issuer(ctx, issuerID)
	if err != nil {
		return nil, err
	}

	var line *models.IssuanceLine
	err = s.retryConflicts(ctx, func() error {
		now := s.now().UTC()
		line, _, err = s.store.GetOrCreateLine(ctx, &models.IssuanceLine{
			ID:        uuid.New(),
			IssuerID:  issuer.IssuerID,
			StorageID: models.StorageStatusList,
			Status:    credmodels.StatusAwarded,
			CreatedAt: now,
			UpdatedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, wrapStoreErr(err, "initiate status list line")
	}

	url := s.StatusListURL(issuer.IssuerID)
	line.DataModelID = models.DataModelStatusList
	line.SubjectID = url + "#list"
	doc, err := s.composeAndSign(ctx, line, composition.Input{
		Issuer:        *issuer,
		StatusListURL: url,
		EncodedList:   encodedList,
	})
	s.metrics.IncrementIssuanceAttempts(models.DataModelStatusList, outcomeOf(err))
	if err != nil {
		return nil, err
	}
	if err := s.Finalize(ctx, line); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Service) composeAndSign(ctx context.Context, line *models.IssuanceLine, in composition.Input) (models.Document, error) {
	dataModel, err := s.dataModels.Get(line.DataModelID)
	if err != nil {
		return nil, err
	}
	in.Line = *line
	in.IssuedAt = s.now().UTC()

	_, span := s.tracer.Start(ctx, tracer.SpanIssuanceCompose,
		tracer.String(tracer.AttrDataModel, line.DataModelID),
		tracer.String(tracer.AttrIssuerID, line.IssuerID))
	doc, err := dataModel.Compose(in)
	span.End(err)
	if err != nil {
		return nil, err
	}

	signCtx, span := s.tracer.Start(ctx, tracer.SpanIssuanceSign, tracer.String(tracer.AttrIssuerID, line.IssuerID))
	signed, err := s.signer.Sign(signCtx, doc, in.Issuer)
	span.End(err)
	if err != nil {
		return nil, err
	}
	return signed, nil
}

// Finalize marks the line processed. Finalizing a processed line is a no-op.
func (s *Service) Finalize(ctx context.Context, line *models.IssuanceLine) error {
	if line.Processed {
		return nil
	}
	line.Processed = true
	line.UpdatedAt = s.now().UTC()
	if err := s.store.SaveLine(ctx, line); err != nil {
		line.Processed = false
		return wrapStoreErr(err, "finalize issuance line")
	}
	s.logger.InfoContext(ctx, "issuance line finalized",
		"line_id", line.ID,
		"issuer_id", line.IssuerID,
		"data_model", line.DataModelID,
	)
	return nil
}

// Line returns one issuance line.
func (s *Service) Line(ctx context.Context, id uuid.UUID) (*models.IssuanceLine, error) {
	line, err := s.store.FindLine(ctx, id)
	if err != nil {
		return nil, wrapStoreErr(err, "load issuance line")
	}
	return line, nil
}

// LinesForCredential returns the issuance log of a credential.
func (s *Service) LinesForCredential(ctx context.Context, credentialID uuid.UUID) ([]*models.IssuanceLine, error) {
	out, err := s.store.ListLines(ctx, credentialID)
	if err != nil {
		return nil, wrapStoreErr(err, "list issuance lines")
	}
	return out, nil
}

func (s *Service) openLine(ctx context.Context, id uuid.UUID) (*models.IssuanceLine, error) {
	line, err := s.Line(ctx, id)
	if err != nil {
		return nil, err
	}
	if line.Processed {
		return nil, dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("issuance line %s is already finalized", id))
	}
	return line, nil
}

// issuer resolves an enabled issuer, falling back to the default one.
func (s *Service) issuer(ctx context.Context, issuerID string) (*models.IssuanceConfiguration, error) {
	if issuerID == "" {
		issuerID = s.cfg.DefaultIssuer.IssuerID
	}
	cfg, err := s.store.FindIssuer(ctx, issuerID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.NewValidation("unknown issuer", map[string]string{
			"issuer_id": fmt.Sprintf("issuer %q is not configured", issuerID),
		})
	}
	if err != nil {
		return nil, wrapStoreErr(err, "load issuer")
	}
	if !cfg.Enabled {
		return nil, dErrors.NewValidation("disabled issuer", map[string]string{
			"issuer_id": fmt.Sprintf("issuer %q is disabled", issuerID),
		})
	}
	return cfg, nil
}

func outcomeOf(err error) string {
	if err != nil {
		return metrics.OutcomeFailed
	}
	return metrics.OutcomeSucceeded
}

func wrapStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "issuance record not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
}
