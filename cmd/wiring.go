package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xebook/readium-encrypt/internal/conf"
	"github.com/xebook/readium-encrypt/internal/db"
	"github.com/xebook/readium-encrypt/pkg/encrypt"
	"github.com/xebook/readium-encrypt/pkg/pipeline"
	"github.com/xebook/readium-encrypt/pkg/publish"
	"github.com/xebook/readium-encrypt/pkg/source"
)

// components holds what a pipeline was built from so callers can release it.
type components struct {
	pipeline *pipeline.Pipeline
	db       *db.Client
	closers  []func() error
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

// buildPipeline wires the configured collaborators. The broker connection is
// only opened when withPublisher is set.
func buildPipeline(ctx context.Context, c *conf.Config, withPublisher bool) (*components, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	logger := slog.Default()

	enc, err := encrypt.New(encrypt.Config{
		ToolPath:              c.Tool.Path,
		LicenseServerEndpoint: c.LicenseServer.Endpoint,
		LicenseServerUsername: c.LicenseServer.Username,
		LicenseServerPassword: c.LicenseServer.Password,
		Profile:               c.LicenseServer.Profile,
		TempDir:               c.TempDir,
	}, encrypt.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	resolver := &source.Resolver{
		Bucket:  c.S3.Bucket,
		TempDir: c.TempDir,
		Logger:  logger,
		HTTP: source.NewHTTPClient(ctx, source.HTTPOptions{
			ClientID:     c.HTTP.ClientID,
			ClientSecret: c.HTTP.ClientSecret,
			TokenURL:     c.HTTP.TokenURL,
			Scopes:       c.HTTP.Scopes,
		}),
	}
	if c.S3.Bucket != "" {
		s3c, err := source.NewS3Client(ctx, source.S3Options{
			Region:          c.S3.Region,
			Endpoint:        c.S3.Endpoint,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			UsePathStyle:    c.S3.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		resolver.S3 = s3c
	}

	comp := &components{pipeline: &pipeline.Pipeline{
		Fetcher:   resolver,
		Encrypter: enc,
		Logger:    logger,
	}}

	if c.DB.URL != "" {
		client, err := db.NewClient(ctx, c.DB.URL)
		if err != nil {
			return nil, err
		}
		comp.db = client
		comp.pipeline.Store = client
		comp.closers = append(comp.closers, func() error {
			client.Close()
			return nil
		})
	}

	if withPublisher && c.AMQP.DSN != "" {
		var opts []publish.Option
		opts = append(opts, publish.WithLogger(logger))
		if c.AMQP.SigningKey != "" {
			signer, err := publish.NewSigner([]byte(c.AMQP.SigningKey), "readium-encrypt")
			if err != nil {
				_ = comp.Close()
				return nil, err
			}
			opts = append(opts, publish.WithSigner(signer))
		}
		pub, err := publish.NewAMQPPublisher(publish.AMQPConfig{
			DSN:          c.AMQP.DSN,
			Exchange:     c.AMQP.Exchange,
			ExchangeKind: c.AMQP.ExchangeKind,
			RoutingKey:   c.AMQP.RoutingKey,
			MessageType:  c.AMQP.MessageType,
		}, opts...)
		if err != nil {
			_ = comp.Close()
			return nil, err
		}
		comp.pipeline.Publisher = pub
		comp.closers = append(comp.closers, pub.Close)
	}
	return comp, nil
}
