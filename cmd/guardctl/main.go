package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/ports"
	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
	"github.com/jacksonlee411/Confidra/modules/guard/infrastructure/llm"
	"github.com/jacksonlee411/Confidra/modules/guard/infrastructure/persistence"
	"github.com/jacksonlee411/Confidra/modules/guard/infrastructure/policyfile"
	"github.com/jacksonlee411/Confidra/modules/guard/infrastructure/regoguard"
	"github.com/jacksonlee411/Confidra/modules/guard/services"
	"github.com/jacksonlee411/Confidra/pkg/logging"
)

func main() {
	if len(os.Args) < 2 {
		fatalf("usage: guardctl <ingest|rules-check|migrate|ask> [args]")
	}

	var err error
	switch os.Args[1] {
	case "ingest":
		err = ingestCmd(os.Args[2:], os.Stdout)
	case "rules-check":
		err = rulesCheckCmd(os.Args[2:], os.Stdout)
	case "migrate":
		err = migrateCmd(os.Args[2:])
	case "ask":
		err = askCmd(os.Args[2:], os.Stdout)
	default:
		fatalf("unknown subcommand: %s", os.Args[1])
	}
	if err != nil {
		fatal(err)
	}
}

func ingestCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var corpus, file, sensitivity string
	fs.StringVar(&corpus, "corpus", "data/contract.json", "clause corpus file")
	fs.StringVar(&file, "file", "", "plain-text document to ingest")
	fs.StringVar(&sensitivity, "sensitivity", "public", "default label for undecided sections")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if file == "" {
		return fmt.Errorf("missing --file")
	}
	label, err := types.ParseSensitivity(sensitivity)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := services.NewClauseStore(ctx, persistence.NewClauseFileStore(corpus))
	if err != nil {
		return err
	}
	res, err := services.NewDocumentIngestor(store, nil, cliLogger()).Ingest(ctx, types.DocumentUpload{
		Filename:    file,
		Content:     string(content),
		Sensitivity: label,
	})
	if err != nil {
		return err
	}
	return writeJSON(out, res)
}

func rulesCheckCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("rules-check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var path, sample, role string
	fs.StringVar(&path, "policy", "config/guard/policies.yaml", "policy file")
	fs.StringVar(&sample, "text", "", "optional text to evaluate against the rules")
	fs.StringVar(&role, "role", "", "user role for rule conditions")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rules, err := policyfile.Load(path)
	if err != nil {
		return err
	}
	engine, err := services.NewRuleEngine(rules)
	if err != nil {
		return err
	}
	if sample == "" {
		_, err := fmt.Fprintf(out, "ok: %d rules\n", len(rules))
		return err
	}
	return writeJSON(out, engine.EvaluateWith(sample, types.Attributes{UserRole: role}))
}

func migrateCmd(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url string
	fs.StringVar(&url, "url", os.Getenv("DATABASE_URL"), "postgres connection string")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if url == "" {
		return fmt.Errorf("missing --url")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := persistence.Migrate(ctx, pool); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(os.Stderr, "[guardctl] migrate OK")
	return nil
}

func askCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var corpus, policy, rego, user, role, query string
	var localOnly bool
	fs.StringVar(&corpus, "corpus", "data/contract.json", "clause corpus file")
	fs.StringVar(&policy, "policy", "config/guard/policies.yaml", "policy file")
	fs.StringVar(&rego, "rego", "", "pre-guard rego policy (default: built-in)")
	fs.StringVar(&user, "user", "cli", "user id recorded in the audit event")
	fs.StringVar(&role, "role", "", "user role for rule conditions")
	fs.StringVar(&query, "q", "", "question to ask")
	fs.BoolVar(&localOnly, "local-classifier", false, "classify with the rego policy only")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("missing --q")
	}

	ctx := context.Background()
	logger := cliLogger()
	store, err := services.NewClauseStore(ctx, persistence.NewClauseFileStore(corpus))
	if err != nil {
		return err
	}
	rules, err := policyfile.Load(policy)
	if err != nil {
		return err
	}
	engine, err := services.NewRuleEngine(rules)
	if err != nil {
		return err
	}

	client := llm.NewClient(llm.Config{
		BaseURL: os.Getenv("GUARD_LLM_BASE_URL"),
		Token:   firstNonEmpty(os.Getenv("GUARD_LLM_TOKEN"), os.Getenv("FRIENDLI_TOKEN")),
		Model:   firstNonEmpty(os.Getenv("GUARD_LLM_MODEL"), os.Getenv("FRIENDLI_MODEL")),
	})
	local, err := regoguard.Load(ctx, rego)
	if err != nil {
		return err
	}
	var classifier ports.Classifier = services.NewChainClassifier(local, llm.NewClassifier(client, logger))
	if localOnly {
		classifier = local
	}

	pipeline, err := services.NewPipeline(classifier, llm.NewGenerator(client), store, engine, persistence.NewMemoryAuditSink(1), services.PipelineOptions{Logger: logger})
	if err != nil {
		return err
	}
	resp, err := pipeline.Ask(ctx, types.AskRequest{Query: query, UserID: user, UserRole: role})
	if err != nil {
		return err
	}
	return writeJSON(out, resp)
}

func cliLogger() zerolog.Logger {
	return logging.NewWithWriter("guardctl", os.Stderr)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fatal(err error) {
	if err == nil {
		os.Exit(1)
	}
	fatalf("%v", err)
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
