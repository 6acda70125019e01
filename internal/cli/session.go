package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mahmudsudo/encrypted-sql/internal/config"
	"github.com/mahmudsudo/encrypted-sql/internal/decoder"
	"github.com/mahmudsudo/encrypted-sql/internal/encoder"
	"github.com/mahmudsudo/encrypted-sql/internal/evaluator"
	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/program"
	"github.com/mahmudsudo/encrypted-sql/internal/server"
	"github.com/mahmudsudo/encrypted-sql/internal/store"
)

// env is the resolved configuration of one command invocation. Its
// helpers report setup failures through the formatter and return the
// resulting ExitError, so callers only propagate.
type env struct {
	cfg *config.Config
	f   *OutputFormatter
}

func newEnv(opts *RootOptions, cmd *cobra.Command) (*env, error) {
	f := opts.formatter(cmd)
	cfg, err := opts.LoadConfig()
	if err != nil {
		return nil, f.fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	return &env{cfg: cfg, f: f}, nil
}

func (e *env) clientKey() (*fhe.ClientKey, error) {
	key, err := fhe.LoadClientKey(e.cfg.Keys.Dir)
	if err != nil {
		return nil, e.f.fail(ExitCommandError, ErrCodeKeys,
			fmt.Sprintf("no client key in %s (run encsql keygen)", e.cfg.Keys.Dir), err)
	}
	return key, nil
}

func (e *env) serverKey() (*fhe.ServerKey, error) {
	key, err := fhe.LoadServerKey(e.cfg.Keys.Dir)
	if err != nil {
		return nil, e.f.fail(ExitCommandError, ErrCodeKeys,
			fmt.Sprintf("no server key in %s (run encsql keygen)", e.cfg.Keys.Dir), err)
	}
	return key, nil
}

// openStore opens the store and, when preset is non-empty, checks that
// the stored ciphertexts were made under the same parameter set.
func (e *env) openStore(ctx context.Context, preset string) (*store.Store, error) {
	slog.Debug("opening store", "path", e.cfg.Store.Path)
	st, err := store.Open(e.cfg.Store.Path)
	if err != nil {
		return nil, e.f.fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	if preset == "" {
		return st, nil
	}
	stored, err := st.Preset(ctx)
	if err != nil {
		st.Close()
		return nil, e.f.fail(ExitCommandError, ErrCodeStore, "failed to read store", err)
	}
	if stored != "" && stored != preset {
		st.Close()
		return nil, e.f.fail(ExitCommandError, ErrCodeStore,
			fmt.Sprintf("store holds %q ciphertexts but the keys use preset %q", stored, preset), nil)
	}
	return st, nil
}

// remote returns a client for the configured evaluation server, or nil
// when evaluation is local.
func (e *env) remote() *server.Client {
	if e.cfg.Server.URL == "" {
		return nil
	}
	return server.NewClient(e.cfg.Server.URL)
}

func (e *env) newEvaluator(key *fhe.ServerKey, opts evaluator.Options) *evaluator.Evaluator {
	if opts.Workers == 0 {
		opts.Workers = e.cfg.Evaluator.Workers
	}
	return evaluator.New(key, opts)
}

// tableLister is satisfied by both the store and the server client.
type tableLister interface {
	Tables(ctx context.Context) ([]store.TableInfo, error)
}

func catalogOf(ctx context.Context, src tableLister) (encoder.Tables, error) {
	infos, err := src.Tables(ctx)
	if err != nil {
		return nil, err
	}
	cat := make(encoder.Tables, len(infos))
	for i, info := range infos {
		cat[i] = info.Table
	}
	return cat, nil
}

// session runs queries end to end on behalf of the key holder.
// Evaluation happens in-process against the local store unless a server
// URL is configured, in which case programs are sent over HTTP and the
// server key is never loaded.
type session struct {
	key    *fhe.ClientKey
	enc    *fhe.Encryptor
	dec    *fhe.Decryptor
	store  *store.Store
	eval   *evaluator.Evaluator
	remote *server.Client
}

func (e *env) openSession(ctx context.Context) (*session, error) {
	key, err := e.clientKey()
	if err != nil {
		return nil, err
	}
	s := &session{key: key, enc: fhe.NewEncryptor(key), dec: fhe.NewDecryptor(key)}

	if s.remote = e.remote(); s.remote != nil {
		slog.Debug("evaluating remotely", "url", e.cfg.Server.URL)
		return s, nil
	}

	sk, err := e.serverKey()
	if err != nil {
		return nil, err
	}
	st, err := e.openStore(ctx, key.Params.Preset())
	if err != nil {
		return nil, err
	}
	s.store = st
	s.eval = e.newEvaluator(sk, evaluator.Options{})
	return s, nil
}

func (s *session) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *session) tables() tableLister {
	if s.remote != nil {
		return s.remote
	}
	return s.store
}

// queryRun is one query's trip through the pipeline.
type queryRun struct {
	Program *program.Program
	Answer  *decoder.Answer
	Report  *evaluator.Report // nil when evaluated remotely
	Timings stageTimings
}

type stageTimings struct {
	Encode   time.Duration
	Evaluate time.Duration
	Decode   time.Duration
}

func (t stageTimings) String() string {
	return fmt.Sprintf("encode %s, evaluate %s, decode %s",
		t.Encode.Round(time.Millisecond), t.Evaluate.Round(time.Millisecond), t.Decode.Round(time.Millisecond))
}

// query encodes sql, evaluates it and decodes the answer.
func (s *session) query(ctx context.Context, sql string, kind program.ProjectionKind) (*queryRun, error) {
	cat, err := catalogOf(ctx, s.tables())
	if err != nil {
		return nil, err
	}

	run := &queryRun{}
	start := time.Now()
	prog, err := encoder.New(s.enc, encoder.Options{Catalog: cat, Kind: kind}).EncodeSQL(sql)
	run.Timings.Encode = time.Since(start)
	if err != nil {
		return nil, err
	}
	run.Program = prog
	slog.Debug("query encoded", "query_id", prog.ID, "table", prog.Table, "tokens", len(prog.Predicate))

	start = time.Now()
	var res *program.Result
	if s.remote != nil {
		res, err = s.remote.Evaluate(ctx, prog)
	} else {
		res, run.Report, err = s.eval.Run(ctx, prog, s.store)
	}
	run.Timings.Evaluate = time.Since(start)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	ans, err := decoder.Decode(res, s.dec, kind)
	run.Timings.Decode = time.Since(start)
	if err != nil {
		return nil, err
	}
	run.Answer = ans
	slog.Debug("query finished", "query_id", prog.ID, "matched", ans.Count, "scanned", ans.Scanned)
	return run, nil
}
