// Package httpserver exposes the studio engine over HTTP.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/studio-engine/internal/config"
	"github.com/Sternrassler/studio-engine/pkg/batch"
	"github.com/Sternrassler/studio-engine/pkg/client"
	"github.com/Sternrassler/studio-engine/pkg/credential"
	"github.com/Sternrassler/studio-engine/pkg/logging"
	"github.com/Sternrassler/studio-engine/pkg/metrics"
	"github.com/Sternrassler/studio-engine/pkg/session"
	"github.com/Sternrassler/studio-engine/pkg/studio"
)

// Deps are the collaborators the server drives.
type Deps struct {
	Pool     *credential.Pool
	Client   *client.Client
	Runner   *batch.StudioRunner
	Sessions session.Store
}

// Server wraps the gin engine, the background batch and the session
// autosaver.
type Server struct {
	cfg       *config.Config
	engine    *gin.Engine
	log       zerolog.Logger
	deps      Deps
	workspace *Workspace
	autosave  *session.AutoSaver

	// batchCtx outlives requests; it is cancelled on Close.
	batchCtx    context.Context
	batchCancel context.CancelFunc
	batchWG     sync.WaitGroup
	batchMu     sync.Mutex
	batchActive bool
}

// New constructs the server with its routes.
func New(cfg *config.Config, log zerolog.Logger, deps Deps) *Server {
	if !cfg.LogPretty {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:         cfg,
		engine:      engine,
		log:         log.With().Str(logging.FieldComponent, logging.ComponentServer).Logger(),
		deps:        deps,
		workspace:   NewWorkspace(),
		batchCtx:    ctx,
		batchCancel: cancel,
	}
	s.autosave = session.NewAutoSaver(deps.Sessions, s.snapshot, cfg.AutosaveDebounce)
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Workspace returns the current settings and references.
func (s *Server) Workspace() *Workspace {
	return s.workspace
}

// AutoSaver returns the session autosaver.
func (s *Server) AutoSaver() *session.AutoSaver {
	return s.autosave
}

// LoadInitial applies the startup session document, if any, and binds the
// autosaver to its file.
func (s *Server) LoadInitial(ctx context.Context) error {
	file, doc, err := s.deps.Sessions.InitialFile(ctx)
	if errors.Is(err, session.ErrNoDocument) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.apply(ctx, file, doc); err != nil {
		return err
	}
	s.log.Info().Str("file", file.Name).Int("outputs", len(doc.GeneratedImages)).Msg("Session loaded")
	return nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr()).Msg("Studio server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("Context cancelled, shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return s.Close(shutdownCtx)
}

// Close stops a running batch, waits for it and flushes the session.
func (s *Server) Close(ctx context.Context) error {
	s.deps.Runner.Orchestrator().Stop()
	s.batchCancel()

	done := make(chan struct{})
	go func() {
		s.batchWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("Batch did not stop before shutdown deadline")
	}
	return s.autosave.Close(ctx)
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.engine.Group("/api")

	creds := api.Group("/credentials")
	creds.GET("", s.listCredentials)
	creds.POST("", s.addCredentials)
	creds.DELETE("", s.clearCredentials)
	creds.DELETE("/:id", s.removeCredential)
	creds.PUT("/primary", s.setPrimary)
	creds.DELETE("/primary", s.clearPrimary)
	creds.POST("/validate", s.validateCredentials)
	creds.GET("/export", s.exportCredentials)
	creds.POST("/import", s.importCredentials)

	api.GET("/workspace", s.getWorkspace)
	api.PUT("/workspace", s.putWorkspace)
	api.POST("/workspace/theme/enhance", s.enhanceTheme)

	outfit := api.Group("/outfit")
	outfit.POST("/enhance", s.enhanceOutfit)
	outfit.POST("/change", s.changeOutfit)
	outfit.PUT("/apply", s.applyOutfit)

	api.GET("/batch", s.getBatch)
	api.POST("/batch", s.startBatch)
	api.POST("/batch/stop", s.stopBatch)

	outputs := api.Group("/outputs")
	outputs.GET("", s.listOutputs)
	outputs.GET("/prompts", s.extractPrompts)
	outputs.DELETE("", s.clearOutputs)
	outputs.DELETE("/:id", s.removeOutput)
	outputs.POST("/:id/favorite", s.toggleFavorite)
	outputs.POST("/:id/regenerate", s.regenerateOutput)
	outputs.POST("/:id/variation", s.variationOutput)
	outputs.POST("/:id/edit", s.editOutput)
	outputs.POST("/:id/burst", s.burstOutput)
	outputs.POST("/:id/burst/select", s.selectBurstWinner)

	sess := api.Group("/session")
	sess.GET("", s.getSession)
	sess.GET("/files", s.listSessionFiles)
	sess.POST("/save", s.saveSession)
	sess.POST("/open", s.openSession)
}

// touch marks the session as changed.
func (s *Server) touch() {
	s.autosave.Touch()
}

// launch starts job in the background. Only one batch runs at a time. The
// orchestrator is reserved before launch returns, so a stop that follows
// the accepted request always reaches the run.
func (s *Server) launch(job batch.Job) error {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	if s.batchActive {
		return batch.ErrBusy
	}
	if err := studio.Preconditions(job.Settings.Normalize(), job.References); err != nil {
		return err
	}
	tok, err := s.deps.Runner.Orchestrator().Reserve()
	if err != nil {
		return err
	}
	job.Reservation = tok
	s.batchActive = true

	s.batchWG.Add(1)
	go func() {
		defer s.batchWG.Done()
		start := time.Now()
		res := s.deps.Runner.Run(s.batchCtx, job)

		s.batchMu.Lock()
		s.batchActive = false
		s.batchMu.Unlock()

		s.log.Info().
			Str("outcome", string(res.Outcome)).
			Int("produced", res.Produced).
			Bool("cancelled", res.Cancelled).
			Dur("duration", time.Since(start)).
			Msg("Background batch finished")
		s.touch()
	}()
	return nil
}

// busy reports whether a batch is running or about to start.
func (s *Server) busy() bool {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return s.batchActive
}

// snapshot captures the session for the autosaver.
func (s *Server) snapshot(ctx context.Context) (session.Document, error) {
	creds, err := s.deps.Pool.List(ctx)
	if err != nil {
		return session.Document{}, fmt.Errorf("list credentials: %w", err)
	}
	primary, err := s.deps.Pool.Primary(ctx)
	if err != nil {
		return session.Document{}, fmt.Errorf("load primary: %w", err)
	}
	settings, refs := s.workspace.Get()
	outputs := s.deps.Runner.Orchestrator().Outputs().List()
	return session.New(settings, refs, outputs, creds, primary), nil
}

// apply loads doc into the pool, the outputs and the workspace.
func (s *Server) apply(ctx context.Context, file session.File, doc session.Document) error {
	if s.busy() {
		return batch.ErrBusy
	}
	if err := doc.Apply(ctx, s.deps.Pool, s.deps.Runner.Orchestrator()); err != nil {
		return err
	}
	settings := studio.DefaultSettings()
	if doc.Settings != nil {
		settings = *doc.Settings
	}
	if err := s.workspace.Set(settings, doc.IdentityAnchors); err != nil {
		s.log.Warn().Err(err).Str("file", file.Name).Msg("Reference photos not restored")
		_ = s.workspace.Set(settings, nil)
	}
	s.autosave.SetFile(file)
	return nil
}
