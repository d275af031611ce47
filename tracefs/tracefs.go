// Package tracefs instruments a document filesystem for distributed
// tracing. The OpenTelemetry API is supported.
//
// This is not a filesystem implementation of its own, but a wrapper around
// an existing [sopsfs.FS]: every operation on the returned filesystem is
// recorded as a span, including the mutating ones. In order to report
// traces, an OTel [trace.TracerProvider] must first be set up; one can
// optionally be passed to [New] using [WithTracerProvider].
package tracefs

import (
	"context"
	"io/fs"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/EHfive/sopsfs"
)

type traceFS struct {
	ctx    context.Context
	fsys   sopsfs.FS
	tracer trace.Tracer
}

const tracerName = "github.com/EHfive/sopsfs/tracefs"

// New returns a filesystem that instruments fsys, adding a trace span for
// each operation. The given context is used for the root spans.
func New(ctx context.Context, fsys sopsfs.FS, opts ...Option) sopsfs.FS {
	cfg := config{}
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if cfg.tp == nil {
		cfg.tp = otel.GetTracerProvider()
	}

	return &traceFS{
		ctx:    ctx,
		fsys:   fsys,
		tracer: cfg.tp.Tracer(tracerName),
	}
}

var _ sopsfs.FS = (*traceFS)(nil)

func recordError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

func (f *traceFS) Open(name string) (fs.File, error) {
	_, span := f.tracer.Start(f.ctx, "fs.Open", trace.WithAttributes(Path(name)))
	defer span.End()

	file, err := f.fsys.Open(name)

	return file, recordError(span, err)
}

func (f *traceFS) Stat(name string) (fs.FileInfo, error) {
	_, span := f.tracer.Start(f.ctx, "fs.Stat", trace.WithAttributes(Path(name)))
	defer span.End()

	fi, err := f.fsys.Stat(name)
	if err == nil {
		span.SetAttributes(
			FileSize(fi.Size()),
			FilePerms(fi.Mode().String()),
		)
	}

	return fi, recordError(span, err)
}

func (f *traceFS) ReadDir(name string) ([]fs.DirEntry, error) {
	_, span := f.tracer.Start(f.ctx, "fs.ReadDir", trace.WithAttributes(Path(name)))
	defer span.End()

	des, err := f.fsys.ReadDir(name)

	span.SetAttributes(DirEntries(len(des)))

	return des, recordError(span, err)
}

func (f *traceFS) ReadFile(name string) ([]byte, error) {
	_, span := f.tracer.Start(f.ctx, "fs.ReadFile", trace.WithAttributes(Path(name)))
	defer span.End()

	b, err := f.fsys.ReadFile(name)

	span.SetAttributes(FileSize(int64(len(b))))

	return b, recordError(span, err)
}

func (f *traceFS) WriteFile(name string, data []byte, opts sopsfs.WriteOptions) error {
	_, span := f.tracer.Start(f.ctx, "fs.WriteFile", trace.WithAttributes(
		Path(name),
		FileSize(int64(len(data))),
	))
	defer span.End()

	return recordError(span, f.fsys.WriteFile(name, data, opts))
}

func (f *traceFS) Mkdir(name string) error {
	_, span := f.tracer.Start(f.ctx, "fs.Mkdir", trace.WithAttributes(Path(name)))
	defer span.End()

	return recordError(span, f.fsys.Mkdir(name))
}

func (f *traceFS) Remove(name string) error {
	_, span := f.tracer.Start(f.ctx, "fs.Remove", trace.WithAttributes(Path(name)))
	defer span.End()

	return recordError(span, f.fsys.Remove(name))
}

func (f *traceFS) Rename(oldname, newname string, opts sopsfs.RenameOptions) error {
	_, span := f.tracer.Start(f.ctx, "fs.Rename", trace.WithAttributes(
		Path(oldname),
		RenameTarget(newname),
	))
	defer span.End()

	return recordError(span, f.fsys.Rename(oldname, newname, opts))
}

func (f *traceFS) Watch(name string) (cancel func()) {
	return f.fsys.Watch(name)
}

func (f *traceFS) Subscribe(fn func([]sopsfs.Event)) (cancel func()) {
	return f.fsys.Subscribe(fn)
}

func (f *traceFS) Close() error {
	_, span := f.tracer.Start(f.ctx, "fs.Close")
	defer span.End()

	return recordError(span, f.fsys.Close())
}
