// Package session coordinates the credential lifecycle of the CLI: it
// decides when to sign in, refresh or validate tokens, collapses concurrent
// status checks into one in-flight operation, and authorizes outgoing API
// requests once a usable token is known.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/kamui-project/kamui-session/internal/events"
	"github.com/kamui-project/kamui-session/internal/session/metrics"
	"github.com/kamui-project/kamui-session/internal/token"
)

const (
	// DefaultSender identifies the coordinator in published events
	DefaultSender = "session.Coordinator"

	// DefaultAuthorizeOptions are the permissions Authorize uses unless
	// overridden with WithAuthorizeOptions
	DefaultAuthorizeOptions = RefreshIfNeeded | ReauthenticateIfNeeded

	updateKey = "status"
)

// HeaderFunc attaches rec to an outgoing request
type HeaderFunc func(req *http.Request, rec *token.Record)

// Coordinator owns the authentication status state machine.
//
// All store mutations happen while mu is held, either inside a resolution,
// an explicit sign-in or a sign-out. Status updates are deduplicated so
// that callers arriving while one is running share its result.
type Coordinator struct {
	store     CredentialStore
	gateway   Gateway
	markers   MarkerStore
	legacy    LegacyImporter
	publisher Publisher
	presenter Presenter

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	sender  string

	authorizeOptions Options
	header           HeaderFunc

	mu        sync.Mutex
	validated bool // introspection succeeded since the current record was stored or restored

	updates singleflight.Group
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithMarkers sets the store for the one-shot startup markers.
// Without it startup reconciliation is skipped.
func WithMarkers(m MarkerStore) Option {
	return func(c *Coordinator) { c.markers = m }
}

// WithLegacyImporter enables migration of credentials from the old storage scheme
func WithLegacyImporter(l LegacyImporter) Option {
	return func(c *Coordinator) { c.legacy = l }
}

// WithPublisher sets where identity-change notifications are sent
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithPresenter sets the presenter used when a status update needs an
// interactive sign-in. Without one such updates fail with
// ErrPresentationUnavailable.
func WithPresenter(p Presenter) Option {
	return func(c *Coordinator) { c.presenter = p }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracer sets the tracer used for spans around identity provider calls
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithClock overrides time.Now for token expiry checks
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSender sets the sender name carried by published events
func WithSender(sender string) Option {
	return func(c *Coordinator) { c.sender = sender }
}

// WithAuthorizeOptions sets the fixed permissions used by Authorize and TokenSource
func WithAuthorizeOptions(opts Options) Option {
	return func(c *Coordinator) { c.authorizeOptions = opts }
}

// WithHeaderFunc overrides how a token is attached to requests.
// The default sets "Authorization: <type> <access token>".
func WithHeaderFunc(h HeaderFunc) Option {
	return func(c *Coordinator) {
		if h != nil {
			c.header = h
		}
	}
}

// New creates a coordinator and runs startup reconciliation once.
// Reconciliation failures are logged, not returned.
func New(ctx context.Context, store CredentialStore, gateway Gateway, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	if gateway == nil {
		return nil, errors.New("identity provider gateway is required")
	}

	c := &Coordinator{
		store:            store,
		gateway:          gateway,
		logger:           slog.New(slog.DiscardHandler),
		tracer:           otel.Tracer("github.com/kamui-project/kamui-session/internal/session"),
		now:              time.Now,
		sender:           DefaultSender,
		authorizeOptions: DefaultAuthorizeOptions,
		header:           setAuthHeader,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.reconcile(ctx)
	return c, nil
}

// resolution is the shared result of one in-flight status update
type resolution struct {
	status Status
	record *token.Record
}

// UpdateAuthenticationStatus resolves the current status, taking only the
// remedial actions opts permits.
//
// If an update is already running the call waits for it and returns its
// result, without triggering any new gateway calls. Cancelling ctx stops
// the wait but not the running update, which still completes and updates
// the credential store.
func (c *Coordinator) UpdateAuthenticationStatus(ctx context.Context, opts Options) (Status, error) {
	res, err := c.update(ctx, opts)
	if err != nil {
		return Unknown, err
	}
	return res.status, nil
}

func (c *Coordinator) update(ctx context.Context, opts Options) (resolution, error) {
	leader := false
	ch := c.updates.DoChan(updateKey, func() (interface{}, error) {
		leader = true
		return c.resolve(context.WithoutCancel(ctx), opts)
	})
	defer c.metrics.TrackWaiter()()

	select {
	case r := <-ch:
		if !leader {
			c.metrics.IncrementJoined()
		}
		if r.Err != nil {
			return resolution{}, r.Err
		}
		return r.Val.(resolution), nil
	case <-ctx.Done():
		return resolution{}, ctx.Err()
	}
}

func (c *Coordinator) resolve(ctx context.Context, opts Options) (resolution, error) {
	defer c.metrics.ObserveResolution(time.Now())

	ctx, span := c.tracer.Start(ctx, "session.resolve",
		trace.WithAttributes(attribute.String("session.options", opts.String())))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.resolveLocked(ctx, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.ObserveStatusUpdate("error")
		return resolution{}, err
	}

	span.SetAttributes(attribute.String("session.status", res.status.String()))
	c.metrics.ObserveStatusUpdate(res.status.String())
	return res, nil
}

func (c *Coordinator) resolveLocked(ctx context.Context, opts Options) (resolution, error) {
	rec, status, err := c.loadLocked(ctx)
	if err != nil {
		return resolution{}, err
	}

	c.logger.DebugContext(ctx, "resolving authentication status",
		"status", status.String(), "options", opts.String())

	switch status {
	case SignedOut, CredentialsInvalid, Expired:
		if !opts.Has(ReauthenticateIfNeeded) {
			return resolution{}, &BlockedError{Requiring: ReauthenticateIfNeeded, Status: status}
		}
		if err := c.signInLocked(ctx, c.presenter, rec); err != nil {
			return resolution{}, err
		}

	case ExpiredRefreshAvailable:
		if !opts.Has(RefreshIfNeeded) {
			return resolution{}, &BlockedError{Requiring: RefreshIfNeeded, Status: status}
		}
		if err := c.refreshLocked(ctx, rec); err != nil {
			if !opts.Has(ReauthenticateIfNeeded) {
				return resolution{}, &BlockedError{Requiring: ReauthenticateIfNeeded, Status: status, Cause: err}
			}
			c.logger.WarnContext(ctx, "token refresh failed, falling back to interactive sign-in", "error", err)
			if err := c.signInLocked(ctx, c.presenter, rec); err != nil {
				return resolution{}, err
			}
		}

	case PriorCredentialsSaved:
		if opts.Has(RequireOnlineValidation) {
			if err := c.introspectLocked(ctx, rec); err != nil {
				return resolution{}, err
			}
		}

	case CredentialsValidated:

	default:
		return resolution{}, c.implausible(ctx, "status %s reached resolution", status)
	}

	rec, status, err = c.loadLocked(ctx)
	if err != nil {
		return resolution{}, err
	}
	if status == Unknown {
		return resolution{}, c.implausible(ctx, "resolution produced status %s", status)
	}
	return resolution{status: status, record: rec}, nil
}

// loadLocked reads the default record and derives its status
func (c *Coordinator) loadLocked(ctx context.Context) (*token.Record, Status, error) {
	rec, err := c.store.Current(ctx)
	if err != nil {
		if errors.Is(err, token.ErrInvalidRecord) {
			c.logger.WarnContext(ctx, "stored credentials are unreadable", "error", err)
			return nil, CredentialsInvalid, nil
		}
		return nil, Unknown, fmt.Errorf("failed to load credentials: %w", err)
	}
	return rec, DeriveStatus(rec, c.validated, c.now()), nil
}

// PerformInteractiveAuthentication runs the interactive sign-in flow using p
// and stores the resulting token. p must be able to reach the user; a nil p
// fails with ErrPresentationUnavailable.
func (c *Coordinator) PerformInteractiveAuthentication(ctx context.Context, p Presenter) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, err := c.store.Current(ctx)
	if err != nil && !errors.Is(err, token.ErrInvalidRecord) {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	return c.signInLocked(ctx, p, prev)
}

func (c *Coordinator) signInLocked(ctx context.Context, p Presenter, prev *token.Record) error {
	if p == nil {
		return ErrPresentationUnavailable
	}

	spanCtx, span := c.tracer.Start(ctx, "session.gateway.SignIn")
	rec, err := c.gateway.SignIn(spanCtx, p)
	endSpan(span, err)
	c.metrics.ObserveSignIn(err)
	if err != nil {
		return fmt.Errorf("interactive sign-in failed: %w", err)
	}
	if rec == nil {
		return c.implausible(ctx, "sign-in returned no token")
	}

	rec = ensureID(rec.Clone())
	if err := c.replaceLocked(ctx, prev, rec); err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "signed in", "subject", rec.Subject)
	if prev == nil || prev.Subject != rec.Subject {
		c.publishIdentityChanged(ctx, "sign-in")
	}
	return nil
}

func (c *Coordinator) refreshLocked(ctx context.Context, rec *token.Record) error {
	spanCtx, span := c.tracer.Start(ctx, "session.gateway.Refresh")
	next, err := c.gateway.Refresh(spanCtx, rec)
	endSpan(span, err)
	c.metrics.ObserveRefresh(err)
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}
	if next == nil {
		return c.implausible(ctx, "refresh returned no token")
	}

	next = ensureID(next.Clone())
	if next.Subject == "" {
		next.Subject = rec.Subject
	}
	// Providers may omit the refresh token when it is not rotated
	if !next.RefreshTokenPresent() {
		next.RefreshToken = rec.RefreshToken
	}

	if err := c.replaceLocked(ctx, rec, next); err != nil {
		return err
	}

	c.logger.DebugContext(ctx, "refreshed access token", "expires_at", next.ExpiresAt)
	if next.Subject != rec.Subject {
		c.publishIdentityChanged(ctx, "refresh")
	}
	return nil
}

func (c *Coordinator) introspectLocked(ctx context.Context, rec *token.Record) error {
	spanCtx, span := c.tracer.Start(ctx, "session.gateway.Introspect")
	active, err := c.gateway.Introspect(spanCtx, rec)
	endSpan(span, err)
	c.metrics.ObserveIntrospection(active, err)
	if err != nil {
		return fmt.Errorf("token introspection failed: %w", err)
	}

	if !active {
		c.logger.InfoContext(ctx, "identity provider reports token inactive")
		return nil
	}
	c.validated = true
	return nil
}

// replaceLocked stores next as the default record and drops prev
func (c *Coordinator) replaceLocked(ctx context.Context, prev, next *token.Record) error {
	if err := c.store.Store(ctx, next); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	if err := c.store.SetDefault(ctx, next.ID); err != nil {
		return fmt.Errorf("failed to set default credentials: %w", err)
	}
	c.validated = false

	if prev != nil && prev.ID != "" && prev.ID != next.ID {
		if err := c.store.Remove(ctx, prev.ID); err != nil {
			c.logger.WarnContext(ctx, "failed to remove replaced credentials", "record_id", prev.ID, "error", err)
		}
	}
	return nil
}

// SignOut ends the provider session and clears the stored credentials.
// The provider call is best-effort: its failure is logged and the local
// credentials are cleared and the identity change published regardless.
func (c *Coordinator) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.store.Current(ctx)
	if err != nil && !errors.Is(err, token.ErrInvalidRecord) {
		c.logger.WarnContext(ctx, "failed to load credentials before sign-out", "error", err)
	}

	spanCtx, span := c.tracer.Start(ctx, "session.gateway.SignOut")
	gwErr := c.gateway.SignOut(spanCtx, rec)
	endSpan(span, gwErr)
	if gwErr != nil {
		c.logger.WarnContext(ctx, "identity provider sign-out failed", "error", gwErr)
	}

	var errs []error
	if rec != nil {
		if err := c.store.Remove(ctx, rec.ID); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove credentials: %w", err))
		}
	}
	if err := c.store.SetDefault(ctx, ""); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear default credentials: %w", err))
	}
	c.validated = false

	c.publishIdentityChanged(ctx, "sign-out")
	return errors.Join(errs...)
}

// Authorize resolves the status with the coordinator's fixed authorize
// options and returns a copy of req carrying the stored token.
func (c *Coordinator) Authorize(ctx context.Context, req *http.Request) (*http.Request, error) {
	res, err := c.update(ctx, c.authorizeOptions)
	if err != nil {
		return nil, err
	}
	if !res.status.Usable() {
		return nil, c.implausible(ctx, "status %s is not usable but resolution succeeded", res.status)
	}
	if res.record == nil || res.record.AccessToken == "" {
		return nil, c.implausible(ctx, "status %s without a stored access token", res.status)
	}

	out := req.Clone(ctx)
	c.header(out, res.record)
	return out, nil
}

// TokenSource adapts the coordinator to oauth2.TokenSource. Each Token call
// resolves the status with the authorize options.
func (c *Coordinator) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, c: c}
}

type tokenSource struct {
	ctx context.Context
	c   *Coordinator
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	res, err := ts.c.update(ts.ctx, ts.c.authorizeOptions)
	if err != nil {
		return nil, err
	}
	if !res.status.Usable() || res.record == nil {
		return nil, ts.c.implausible(ts.ctx, "status %s has no usable token", res.status)
	}
	return res.record.OAuth2(), nil
}

// CurrentStatus derives the status from the store without taking any action
func (c *Coordinator) CurrentStatus(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, status, err := c.loadLocked(ctx)
	return status, err
}

// CurrentRecord returns a copy of the default record, or nil if signed out
func (c *Coordinator) CurrentRecord(ctx context.Context) (*token.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.store.Current(ctx)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Validated reports whether the current token passed online introspection
// since it was stored or restored in this process
func (c *Coordinator) Validated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validated
}

func (c *Coordinator) publishIdentityChanged(ctx context.Context, reason string) {
	c.metrics.IncrementIdentityChanges()
	c.logger.InfoContext(ctx, "authenticated identity changed", "reason", reason)
	if c.publisher != nil {
		c.publisher.Publish(events.Event{Type: events.IdentityChanged, Sender: c.sender})
	}
}

func (c *Coordinator) implausible(ctx context.Context, format string, args ...any) error {
	err := implausible(format, args...)
	c.logger.ErrorContext(ctx, "coordinator invariant violated", "error", err)
	return err
}

func setAuthHeader(req *http.Request, rec *token.Record) {
	rec.OAuth2().SetAuthHeader(req)
}

func ensureID(rec *token.Record) *token.Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return rec
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
