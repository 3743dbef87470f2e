package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jacksonlee411/Confidra/internal/routing"
	"github.com/jacksonlee411/Confidra/modules/guard/domain/ports"
	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
	"github.com/jacksonlee411/Confidra/modules/guard/infrastructure/llm"
	"github.com/jacksonlee411/Confidra/modules/guard/infrastructure/persistence"
	"github.com/jacksonlee411/Confidra/modules/guard/infrastructure/policyfile"
	"github.com/jacksonlee411/Confidra/modules/guard/infrastructure/regoguard"
	"github.com/jacksonlee411/Confidra/modules/guard/presentation/controllers"
	"github.com/jacksonlee411/Confidra/modules/guard/services"
	"github.com/jacksonlee411/Confidra/pkg/logging"
)

// HandlerOptions overrides individual collaborators. Zero fields are built
// from Config.
type HandlerOptions struct {
	Config          Config
	Logger          zerolog.Logger
	Pool            *pgxpool.Pool
	Classifier      ports.Classifier
	Generator       ports.Generator
	ClausePersister ports.ClausePersister
	AuditSink       ports.AuditSink
	Authorizer      authorizer
}

// Handler is the assembled HTTP surface. Close releases the pools it opened.
type Handler struct {
	http.Handler
	Pipeline *services.Pipeline
	closers  []func()
}

func (h *Handler) Close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		h.closers[i]()
	}
}

func NewHandlerWithOptions(ctx context.Context, opts HandlerOptions) (_ *Handler, err error) {
	cfg := opts.Config
	logger := opts.Logger
	h := &Handler{}
	defer func() {
		if err != nil {
			h.Close()
		}
	}()

	allowlistPath := cfg.AllowlistPath
	if allowlistPath == "" {
		p, err := findUp("config/routing/allowlist.yaml")
		if err != nil {
			return nil, err
		}
		allowlistPath = p
	}
	a, err := routing.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}
	classifier, err := routing.NewClassifier(a, "server")
	if err != nil {
		return nil, err
	}

	pool := opts.Pool
	if pool == nil && cfg.usesPostgres() {
		pool, err = pgxpool.New(ctx, dbDSNFromEnv())
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, pool.Close)
	}

	persister := opts.ClausePersister
	if persister == nil {
		switch cfg.Clauses.Backend {
		case ClauseBackendFile:
			persister = persistence.NewClauseFileStore(cfg.Clauses.Path)
		case ClauseBackendPostgres:
			persister = persistence.NewClausePGStore(pool)
		}
	}
	var clauses *services.ClauseStore
	if persister == nil {
		clauses, err = services.NewMemoryClauseStore(nil)
	} else {
		clauses, err = services.NewClauseStore(ctx, persister)
	}
	if err != nil {
		return nil, err
	}

	policyPath := cfg.Rules.PolicyPath
	if policyPath == "" {
		p, err := findUp("config/guard/policies.yaml")
		if err != nil {
			return nil, err
		}
		policyPath = p
	}
	loadRules := func() ([]types.PolicyRule, error) { return policyfile.Load(policyPath) }
	rules, err := loadRules()
	if err != nil {
		return nil, err
	}
	engine, err := services.NewRuleEngine(rules)
	if err != nil {
		return nil, err
	}

	sink := opts.AuditSink
	if sink == nil {
		sink, err = buildAuditSink(cfg.Audit, pool, h)
		if err != nil {
			return nil, err
		}
	}
	var reader ports.AuditReader
	if f, ok := sink.(*persistence.FanoutAuditSink); ok {
		if f.Readable() {
			reader = f
		}
	} else if r, ok := sink.(ports.AuditReader); ok {
		reader = r
	}

	var client *llm.Client
	llmClient := func() *llm.Client {
		if client == nil {
			if cfg.LLM.Token == "" {
				logger.Warn().Msg("no LLM token configured; model calls will be rejected upstream")
			}
			client = llm.NewClient(llm.Config{
				BaseURL:    cfg.LLM.BaseURL,
				Token:      cfg.LLM.Token,
				Model:      cfg.LLM.Model,
				Timeout:    cfg.LLM.Timeout.Duration,
				MaxRetries: cfg.LLM.MaxRetries,
			})
		}
		return client
	}

	preGuard := opts.Classifier
	if preGuard == nil {
		preGuard, err = buildPreGuard(ctx, cfg.PreGuard, llmClient, logger)
		if err != nil {
			return nil, err
		}
	}
	generator := opts.Generator
	if generator == nil {
		generator = llm.NewGenerator(llmClient())
	}

	pipeline, err := services.NewPipeline(preGuard, generator, clauses, engine, sink, services.PipelineOptions{
		ClassifyTimeout: cfg.Pipeline.ClassifyTimeout.Duration,
		GenerateTimeout: cfg.Pipeline.GenerateTimeout.Duration,
		AuditTimeout:    cfg.Pipeline.AuditTimeout.Duration,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	h.Pipeline = pipeline

	authorizer := opts.Authorizer
	if authorizer == nil {
		az, err := loadAuthorizer(cfg.Authz)
		if err != nil {
			return nil, err
		}
		authorizer = az
	}

	askC := controllers.AskController{Pipeline: pipeline, Principal: controllerPrincipal, Logger: logger}
	docsC := controllers.DocumentsController{Ingestor: services.NewDocumentIngestor(clauses, sink, logger), Clauses: clauses}
	rulesC := controllers.RulesController{
		Reloader:  services.NewRuleReloader(engine, loadRules, sink, logger),
		Rules:     engine,
		Principal: controllerPrincipal,
	}
	eventsC := controllers.EventsController{Reader: reader, Logger: logger}
	clausesC := controllers.ClausesController{Clauses: clauses, Can: permissionChecker(authorizer)}

	router := routing.NewRouter(classifier, logger)
	router.Handle(routing.RouteClassOps, http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		routing.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}))
	router.Handle(routing.RouteClassPublicAPI, http.MethodPost, "/api/v1/ask", http.HandlerFunc(askC.HandleAskAPI))
	router.Handle(routing.RouteClassPublicAPI, http.MethodGet, "/api/v1/documents", http.HandlerFunc(docsC.HandleDocumentsAPI))
	router.Handle(routing.RouteClassPublicAPI, http.MethodPost, "/api/v1/documents", http.HandlerFunc(docsC.HandleDocumentsAPI))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/guard/api/rules", http.HandlerFunc(rulesC.HandleRulesAPI))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/guard/api/rules/reload", http.HandlerFunc(rulesC.HandleRulesReloadAPI))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/guard/api/events", http.HandlerFunc(eventsC.HandleEventsAPI))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/guard/api/clauses", http.HandlerFunc(clausesC.HandleClausesAPI))

	if unlisted := router.Unlisted(); len(unlisted) > 0 {
		return nil, fmt.Errorf("server: routes missing from allowlist: %s", strings.Join(unlisted, ", "))
	}

	h.Handler = logging.RequestLogger(logger, withPrincipalHeaders(withAuthz(classifier, authorizer, logger, router)))
	logger.Info().
		Int("clauses", clauses.Len()).
		Int("rules", len(rules)).
		Str("pre_guard", cfg.PreGuard.Mode).
		Strs("audit_sinks", cfg.Audit.Sinks).
		Msg("guard handler ready")
	return h, nil
}

func buildAuditSink(cfg AuditConfig, pool *pgxpool.Pool, h *Handler) (ports.AuditSink, error) {
	sinks := make([]ports.AuditSink, 0, len(cfg.Sinks))
	for _, name := range cfg.Sinks {
		switch name {
		case AuditSinkMemory:
			sinks = append(sinks, persistence.NewMemoryAuditSink(cfg.MemoryCapacity))
		case AuditSinkFile:
			sinks = append(sinks, persistence.NewFileAuditSink(cfg.FilePath))
		case AuditSinkPostgres:
			if pool == nil {
				return nil, errors.New("server: postgres audit sink needs a database pool")
			}
			sinks = append(sinks, persistence.NewAuditPGSink(pool))
		case AuditSinkRedis:
			rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			h.closers = append(h.closers, func() { _ = rdb.Close() })
			sinks = append(sinks, persistence.NewRedisAuditSink(rdb, cfg.RedisStream, cfg.RedisMaxLen))
		default:
			return nil, fmt.Errorf("server: unknown audit sink %q", name)
		}
	}
	return persistence.NewFanoutAuditSink(sinks...), nil
}

func buildPreGuard(ctx context.Context, cfg PreGuardConfig, client func() *llm.Client, logger zerolog.Logger) (ports.Classifier, error) {
	switch cfg.Mode {
	case PreGuardRego:
		return regoguard.Load(ctx, cfg.RegoPath)
	case PreGuardLLM:
		return llm.NewClassifier(client(), logger), nil
	case PreGuardChain:
		local, err := regoguard.Load(ctx, cfg.RegoPath)
		if err != nil {
			return nil, err
		}
		return services.NewChainClassifier(local, llm.NewClassifier(client(), logger)), nil
	default:
		return nil, fmt.Errorf("server: unknown pre-guard mode %q", cfg.Mode)
	}
}
