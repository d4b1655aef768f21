// Package pipeline runs one protection job end to end: resolve the locator,
// fetch the source, run the encryption tool, then publish and record the
// resulting EncryptedResource.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xebook/readium-encrypt/pkg/encrypt"
	"github.com/xebook/readium-encrypt/pkg/message"
	"github.com/xebook/readium-encrypt/pkg/publish"
	"github.com/xebook/readium-encrypt/pkg/source"
)

const tracerName = "github.com/xebook/readium-encrypt/pkg/pipeline"

var ErrNoPublisher = errors.New("publishing requested but no message broker is configured")

type Fetcher interface {
	Fetch(ctx context.Context, loc source.Locator) (*source.Fetched, error)
}

type Encrypter interface {
	Run(ctx context.Context, req encrypt.Request) (*encrypt.Response, error)
}

type Store interface {
	SaveResource(ctx context.Context, r message.EncryptedResource) error
}

type Pipeline struct {
	Fetcher   Fetcher
	Encrypter Encrypter
	// Publisher and Store are optional.
	Publisher publish.Publisher
	Store     Store
	Logger    *slog.Logger
}

type Request struct {
	Source              string `json:"source"`
	ContentID           string `json:"contentId,omitempty"`
	Output              string `json:"output,omitempty"`
	SendToLicenseServer bool   `json:"sendToLicenseServer"`
	Publish             bool   `json:"publish"`
}

type Result struct {
	Response  *encrypt.Response         `json:"-"`
	Resource  message.EncryptedResource `json:"resource"`
	Published bool                      `json:"published"`
	Stored    bool                      `json:"stored"`
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("source", req.Source),
		attribute.Bool("sendToLicenseServer", req.SendToLicenseServer),
		attribute.Bool("publish", req.Publish),
	))
	defer span.End()

	res, err := p.run(ctx, tracer, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("contentId", res.Resource.ID()))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, tracer trace.Tracer, req Request) (*Result, error) {
	if req.Publish && p.Publisher == nil {
		return nil, ErrNoPublisher
	}

	loc, err := source.Parse(req.Source)
	if err != nil {
		return nil, err
	}

	fetchCtx, span := tracer.Start(ctx, "source.Fetch", trace.WithAttributes(attribute.String("scheme", loc.Scheme)))
	fetched, err := p.Fetcher.Fetch(fetchCtx, loc)
	span.End()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := fetched.Cleanup(); err != nil {
			p.logger().Warn("could not remove downloaded source", slog.String("path", fetched.Path), slog.String("error", err.Error()))
		}
	}()

	encCtx, span := tracer.Start(ctx, "encrypt.Run")
	resp, err := p.Encrypter.Run(encCtx, encrypt.Request{
		Input:               fetched.Path,
		ContentID:           req.ContentID,
		Output:              req.Output,
		SendToLicenseServer: req.SendToLicenseServer,
	})
	span.End()
	if err != nil {
		return nil, err
	}

	result := &Result{
		Response: resp,
		Resource: message.NewEncryptedResource(req.Source, resp, req.SendToLicenseServer),
	}
	p.logger().Info("publication protected",
		slog.String("source", req.Source),
		slog.String("contentId", resp.ContentID),
		slog.String("location", resp.Location),
		slog.Int64("length", resp.Length),
	)

	if p.Store != nil {
		storeCtx, span := tracer.Start(ctx, "store.SaveResource")
		err := p.Store.SaveResource(storeCtx, result.Resource)
		span.End()
		if err != nil {
			return nil, err
		}
		result.Stored = true
	}

	if req.Publish {
		pubCtx, span := tracer.Start(ctx, "publish.Publish")
		err := p.Publisher.Publish(pubCtx, result.Resource)
		span.End()
		if err != nil {
			return nil, err
		}
		result.Published = true
	}
	return result, nil
}
