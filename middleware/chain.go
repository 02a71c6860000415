package middleware

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/upb/tenantguard/internal/observability"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/services/audit"
	"github.com/upb/tenantguard/services/policy"
	"github.com/upb/tenantguard/services/ratelimit"
	"github.com/upb/tenantguard/utils"
	"go.uber.org/zap"
)

// StageName identifies a stage of the authorization chain
type StageName string

const (
	StageAuthenticate  StageName = "authenticate"
	StageResolveTenant StageName = "resolve_tenant"
	StageRateCheck     StageName = "rate_check"
	StageAuthorize     StageName = "authorize"
)

// CanonicalOrder is the only order stages ever run in
var CanonicalOrder = [...]StageName{StageAuthenticate, StageResolveTenant, StageRateCheck, StageAuthorize}

// RequestState carries what earlier stages established to later ones
type RequestState struct {
	Request  *http.Request
	Endpoint Endpoint
	Class    RouteClass

	Subject   string
	Tenant    *models.TenantContext
	RateLimit ratelimit.Result
	Resource  policy.Resource
	Decision  policy.Decision
}

// Outcome is a stage's verdict. A stage either continues or stops the request with Err.
type Outcome struct {
	Continue bool
	Err      error
	// Reason is recorded in the audit trail, never sent to the caller
	Reason string
}

// Proceed lets the request through to the next stage
func Proceed() Outcome {
	return Outcome{Continue: true}
}

// Reject stops the request
func Reject(reason string, err error) Outcome {
	return Outcome{Reason: reason, Err: err}
}

// Stage is one step of the authorization chain
type Stage interface {
	Name() StageName
	Evaluate(ctx context.Context, state *RequestState) Outcome
}

// Admission is what the chain decided for an admitted request
type Admission struct {
	Class    RouteClass
	Resource policy.Resource
	Decision policy.Decision

	refused bool
}

// Refuse tells the chain the handler turned an admitted request down and audited that
// itself. A refused bypass gets no super_admin_bypass record. Safe on a nil Admission.
func (a *Admission) Refuse() {
	if a != nil {
		a.refused = true
	}
}

// Chain runs the authorization stages in canonical order in front of a handler
type Chain struct {
	stages   []Stage
	classes  map[string]RouteClass
	recorder audit.Recorder
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewChain slots stages into canonical order. Every canonical stage must be supplied exactly once.
func NewChain(stages []Stage, classes []RouteClass, recorder audit.Recorder, metrics *observability.Metrics, logger *zap.Logger) (*Chain, error) {
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}

	slots := make(map[StageName]Stage, len(stages))
	for _, s := range stages {
		if s == nil {
			return nil, errors.New("nil stage")
		}
		if !isCanonical(s.Name()) {
			return nil, fmt.Errorf("unknown stage %q", s.Name())
		}
		if _, dup := slots[s.Name()]; dup {
			return nil, fmt.Errorf("duplicate stage %q", s.Name())
		}
		slots[s.Name()] = s
	}
	ordered := make([]Stage, 0, len(CanonicalOrder))
	for _, name := range CanonicalOrder {
		s, ok := slots[name]
		if !ok {
			return nil, fmt.Errorf("missing stage %q", name)
		}
		ordered = append(ordered, s)
	}

	v := validator.New()
	byName := make(map[string]RouteClass, len(classes))
	for _, c := range classes {
		if err := v.Struct(c); err != nil {
			return nil, fmt.Errorf("route class %q: %w", c.Name, err)
		}
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate route class %q", c.Name)
		}
		byName[c.Name] = c
	}

	return &Chain{
		stages:   ordered,
		classes:  byName,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger.Named("authz"),
	}, nil
}

// Class returns a configured route class
func (c *Chain) Class(name string) (RouteClass, bool) {
	rc, ok := c.classes[name]
	return rc, ok
}

// Guard returns middleware enforcing ep. Routes are declared at startup, so an endpoint
// naming an unknown class or missing its loader panics like an invalid chi pattern would.
func (c *Chain) Guard(ep Endpoint) func(http.Handler) http.Handler {
	if err := ep.validate(); err != nil {
		panic(err)
	}
	class, ok := c.classes[ep.Class]
	if !ok {
		panic(fmt.Sprintf("endpoint %s:%s: unknown route class %q", ep.ResourceType, ep.Operation, ep.Class))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.serve(w, r, next, &RequestState{Request: r, Endpoint: ep, Class: class})
		})
	}
}

func (c *Chain) serve(w http.ResponseWriter, r *http.Request, next http.Handler, st *RequestState) {
	ctx := r.Context()

	for _, stage := range c.stages {
		var out Outcome
		if err := ctx.Err(); err != nil {
			out = Reject("request_cancelled",
				services.NewDomainError(services.ErrorTypePolicyEvaluation, "request cancelled", err))
		} else {
			out = c.evaluate(ctx, stage, st)
		}
		if !out.Continue {
			c.deny(w, r, st, stage.Name(), out)
			return
		}
	}

	c.metrics.ObserveDecision(string(StageAuthorize), string(models.OutcomeAllowed), string(st.Decision.Reason))

	admission := &Admission{Class: st.Class, Resource: st.Resource, Decision: st.Decision}
	ctx = WithTenantContext(ctx, st.Tenant)
	ctx = withAdmission(ctx, admission)
	r = r.WithContext(ctx)

	if st.Decision.Bypass {
		// Written after the handler, panics included, so a refusal can suppress it
		defer func() {
			if admission.refused {
				return
			}
			ev := c.event(r, st, StageAuthorize)
			ev.Action = models.AuditActionSuperAdminBypass
			ev.Outcome = models.OutcomeAllowed
			ev.Reason = string(policy.ReasonSuperAdminBypass)
			c.recorder.Record(ev)
		}()
	}

	if !isAdminWrite(st) {
		next.ServeHTTP(w, r)
		return
	}

	ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
	next.ServeHTTP(ww, r)
	if status := ww.Status(); status == 0 || status < http.StatusBadRequest {
		ev := c.event(r, st, StageAuthorize)
		ev.Action = models.AuditActionAdminAction
		ev.Outcome = models.OutcomeAllowed
		ev.Reason = string(st.Decision.Reason)
		ev.Metadata["status"] = status
		c.recorder.Record(ev)
	}
}

// evaluate runs one stage. Panics and malformed outcomes become denials.
func (c *Chain) evaluate(ctx context.Context, stage Stage, st *RequestState) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			observability.FromContext(ctx, c.logger).Error("authorization stage panicked",
				zap.String("stage", string(stage.Name())),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			out = Reject("stage_panic", services.NewDomainError(services.ErrorTypePolicyEvaluation,
				"authorization stage failed", fmt.Errorf("panic: %v", p)))
		}
	}()

	out = stage.Evaluate(ctx, st)
	if out.Err != nil {
		out.Continue = false
	}
	if !out.Continue && out.Err == nil {
		out.Err = services.NewDomainError(services.ErrorTypePolicyEvaluation, "stage stopped without an error", nil)
	}
	if !out.Continue && out.Reason == "" {
		out.Reason = "unexpected_error"
		if t := services.GetErrorType(out.Err); t != "" {
			out.Reason = string(t)
		}
	}
	return out
}

func (c *Chain) deny(w http.ResponseWriter, r *http.Request, st *RequestState, stage StageName, out Outcome) {
	code := services.ExternalCode(out.Err)
	errType := string(services.GetErrorType(out.Err))
	if errType == "" {
		errType = "unexpected"
	}

	ev := c.event(r, st, stage)
	ev.Action = models.AuditActionAccessDenied
	ev.Outcome = models.OutcomeDenied
	ev.Reason = out.Reason
	ev.Metadata["error_type"] = errType
	ev.Metadata["code"] = code
	if owner := resourceTenant(st.Resource); owner != uuid.Nil && owner != ev.TenantID {
		ev.Metadata["resource_tenant_id"] = owner.String()
	}
	c.recorder.Record(ev)

	c.metrics.ObserveDecision(string(stage), string(models.OutcomeDenied), out.Reason)

	retryAfter := 0
	if code == services.CodeThrottled {
		retryAfter = st.RateLimit.RetryAfterSeconds()
		if out.Reason == reasonRateLimited {
			c.metrics.ObserveThrottle(st.Class.Name)
		}
	}

	observability.FromContext(r.Context(), c.logger).Warn("request denied",
		zap.String("stage", string(stage)),
		zap.String("reason", out.Reason),
		zap.String("code", code),
		zap.String("route_class", st.Class.Name),
		zap.String("resource_type", string(st.Endpoint.ResourceType)),
		zap.String("operation", string(st.Endpoint.Operation)),
		zap.Error(out.Err))

	// The body is one of three generic messages; nothing about the target leaks
	_ = utils.WriteRejection(w, code, "", retryAfter)
}

// event builds the audit event common to every record the chain writes
func (c *Chain) event(r *http.Request, st *RequestState, stage StageName) audit.Event {
	ev := audit.Event{
		Stage:      string(stage),
		TargetType: string(st.Endpoint.ResourceType),
		TargetID:   st.Resource.ID,
		SourceIP:   ClientIP(r),
		UserAgent:  r.UserAgent(),
		RequestID:  chimw.GetReqID(r.Context()),
		Metadata: map[string]interface{}{
			"route_class": st.Class.Name,
			"operation":   string(st.Endpoint.Operation),
			"method":      r.Method,
			"path":        r.URL.Path,
		},
	}
	if ev.TargetID == "" && st.Resource.ParentID != "" {
		ev.Metadata["parent_id"] = st.Resource.ParentID
	}
	if st.Tenant != nil {
		ev.ActorID = st.Tenant.PrincipalID()
		ev.TenantID = st.Tenant.TenantID()
	}
	return ev
}

// isAdminWrite reports whether a successful request is an administrative change worth auditing.
// Bypassed requests are already audited.
func isAdminWrite(st *RequestState) bool {
	if st.Decision.Bypass || !st.Endpoint.Operation.IsWrite() {
		return false
	}
	switch st.Resource.Pattern {
	case models.PatternAdminOnlyMutation, models.PatternRootEntity:
		return true
	}
	return false
}

func isCanonical(name StageName) bool {
	for _, n := range CanonicalOrder {
		if n == name {
			return true
		}
	}
	return false
}

func resourceTenant(r policy.Resource) uuid.UUID {
	if r.ParentResolved {
		return r.ParentTenantID
	}
	return r.TenantID
}

// ClientIP strips the port from RemoteAddr, which chi's RealIP has already resolved
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
