package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rag-evaluator/internal/config"
	"github.com/sells-group/rag-evaluator/internal/evallog"
)

// initBackend builds the evaluation log backend selected by store.backend.
func initBackend(ctx context.Context, c *config.Config) (evallog.Backend, error) {
	switch c.Store.Backend {
	case config.BackendLocal:
		return evallog.NewLocalBackend(c.Store.LocalPath), nil
	case config.BackendGitHub:
		b, err := evallog.NewGitHubBackend(evallog.GitHubOptions{
			Token:   c.GitHub.Token,
			Owner:   c.GitHub.Owner,
			Repo:    c.GitHub.Repo,
			Branch:  c.GitHub.Branch,
			Path:    c.GitHub.Path,
			BaseURL: c.GitHub.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendAzure:
		b, err := evallog.NewAzureBackend(evallog.AzureOptions{
			ConnectionString: c.Azure.ConnectionString,
			Container:        c.Azure.Container,
			Blob:             c.Azure.Blob,
		})
		if err != nil {
			return nil, err
		}
		if err := b.EnsureContainer(ctx); err != nil {
			return nil, eris.Wrap(err, "ensure azure container")
		}
		return b, nil
	case config.BackendS3:
		b, err := evallog.NewS3Backend(ctx, evallog.S3Options{
			Endpoint:  c.S3.Endpoint,
			Region:    c.S3.Region,
			Bucket:    c.S3.Bucket,
			Key:       c.S3.Key,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, eris.Errorf("unknown store backend %q", c.Store.Backend)
	}
}

// initStore builds the backend and wraps it in a Store.
func initStore(ctx context.Context, c *config.Config) (*evallog.Store, error) {
	backend, err := initBackend(ctx, c)
	if err != nil {
		return nil, err
	}
	zap.L().Info("evaluation log backend ready",
		zap.String("backend", backend.Name()),
		zap.Bool("corrupt_fallback", c.Store.CorruptFallback),
	)
	return evallog.NewStore(backend, evallog.WithCorruptFallback(c.Store.CorruptFallback)), nil
}
