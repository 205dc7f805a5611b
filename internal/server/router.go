// Package server answers the line protocol: one JSON request per input line,
// one JSON response per output line, strictly in order.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/standardbeagle/autousing/internal/config"
	autoerrors "github.com/standardbeagle/autousing/internal/errors"
	"github.com/standardbeagle/autousing/internal/metrics"
	"github.com/standardbeagle/autousing/internal/project"
	"github.com/standardbeagle/autousing/internal/types"
)

// maxFrameSize bounds a single request line
const maxFrameSize = 4 << 20

// OpenFunc opens a project file for registration
type OpenFunc func(ctx context.Context, path string) (*project.Project, error)

// Options configures a Router
type Options struct {
	// UnknownCommand is config.UnknownCommandError or config.UnknownCommandIgnore
	UnknownCommand string
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

type handlerFunc func(ctx context.Context, arg string) (any, error)

// Router dispatches requests against an injected project registry
type Router struct {
	registry *project.Registry
	open     OpenFunc
	unknown  string
	logger   *zap.Logger
	metrics  *metrics.Metrics
	handlers map[string]handlerFunc
	names    map[string]string
}

// NewRouter creates a router
func NewRouter(registry *project.Registry, open OpenFunc, opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.UnknownCommand == "" {
		opts.UnknownCommand = config.UnknownCommandError
	}
	r := &Router{
		registry: registry,
		open:     open,
		unknown:  opts.UnknownCommand,
		logger:   opts.Logger.Named("router"),
		metrics:  opts.Metrics,
		handlers: make(map[string]handlerFunc),
		names:    make(map[string]string),
	}
	r.register(CommandPing, r.handlePing)
	r.register(CommandAddProject, r.handleAddProject)
	r.register(CommandRemoveProject, r.handleRemoveProject)
	r.register(CommandGetAllCompletions, r.handleGetAllCompletions)
	r.register(CommandGetCompletions, r.handleGetCompletions)
	r.register(CommandGetExtensionCompletions, r.handleGetExtensionCompletions)
	r.register(CommandListProjects, r.handleListProjects)
	r.register(CommandGetProjectStatus, r.handleGetProjectStatus)
	return r
}

func (r *Router) register(name string, h handlerFunc) {
	key := strings.ToLower(name)
	r.handlers[key] = h
	r.names[key] = name
}

var errFrameTooLong = errors.New("request line exceeds maximum frame size")

// Serve reads request lines from in and writes one response line per
// answered request to out until in is exhausted or ctx is cancelled. The
// context is checked between frames; a blocked read is not interrupted.
// An oversized line is answered with MalformedRequest and skipped.
func (r *Router) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewReaderSize(in, 64*1024)
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := readFrame(reader, maxFrameSize)
		switch {
		case errors.Is(err, errFrameTooLong):
			r.logger.Warn("malformed request", zap.Error(err))
			r.metrics.RequestAnswered("", TypeError)
			resp := failure(autoerrors.New(autoerrors.CodeMalformedRequest, "read request", err))
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
			continue
		case err != nil && !errors.Is(err, io.EOF):
			return fmt.Errorf("read request: %w", err)
		}

		if len(bytes.TrimSpace(line)) > 0 {
			resp, ok := r.HandleFrame(ctx, line)
			if ok {
				if err := enc.Encode(resp); err != nil {
					return fmt.Errorf("write response: %w", err)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

// readFrame returns the next line without its terminator. A line longer
// than limit is consumed through its newline and reported as
// errFrameTooLong. io.EOF comes with the final unterminated line, if any.
func readFrame(reader *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := reader.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit+1 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err != nil && !errors.Is(err, io.EOF):
			return nil, err
		}
		if tooLong {
			return nil, errFrameTooLong
		}
		line = bytes.TrimRight(line, "\r\n")
		return line, err
	}
}

// HandleFrame decodes one line and answers it. ok is false when the
// request gets no response at all.
func (r *Router) HandleFrame(ctx context.Context, line []byte) (resp Response, ok bool) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil || strings.TrimSpace(req.Command) == "" {
		if err == nil {
			err = fmt.Errorf("missing Command")
		}
		r.logger.Warn("malformed request", zap.Error(err))
		r.metrics.RequestAnswered("", TypeError)
		return failure(autoerrors.New(autoerrors.CodeMalformedRequest, "decode request", err)), true
	}
	return r.Handle(ctx, req)
}

// Handle answers one decoded request. A panic inside a handler becomes an
// InternalError response.
func (r *Router) Handle(ctx context.Context, req Request) (resp Response, ok bool) {
	key := strings.ToLower(strings.TrimSpace(req.Command))
	h, known := r.handlers[key]
	if !known {
		r.logger.Debug("unknown command", zap.String("command", req.Command), zap.String("policy", r.unknown))
		if r.unknown == config.UnknownCommandIgnore {
			return Response{}, false
		}
		r.metrics.RequestAnswered("unknown", TypeError)
		return failure(autoerrors.New(autoerrors.CodeUnknownCommand, "dispatch", fmt.Errorf("unknown command %q", req.Command))), true
	}
	name := r.names[key]

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("request panicked",
				zap.String("command", name),
				zap.Any("panic", rec),
				zap.Stack("stack"))
			resp, ok = failure(fmt.Errorf("panic: %v", rec)), true
		}
		r.metrics.RequestAnswered(name, resp.Type)
		r.logger.Debug("request answered",
			zap.String("command", name),
			zap.String("type", resp.Type),
			zap.Duration("duration", time.Since(start)))
	}()

	arg, err := req.Argument()
	if err != nil {
		return failure(autoerrors.New(autoerrors.CodeMalformedRequest, name, err).
			WithReason(autoerrors.ReasonInvalidArguments)), true
	}
	body, err := h(ctx, arg)
	if err != nil {
		if autoerrors.CodeOf(err) == autoerrors.CodeInternalError {
			r.logger.Error("request failed", zap.String("command", name), zap.Error(err))
		}
		return failure(err), true
	}
	return success(body), true
}

func (r *Router) handlePing(context.Context, string) (any, error) {
	return "pong", nil
}

func (r *Router) handleAddProject(ctx context.Context, path string) (any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, autoerrors.ArgumentMissing(CommandAddProject, autoerrors.ReasonProjectFilePathRequired)
	}
	p, err := r.open(ctx, path)
	if err != nil {
		return nil, err
	}
	r.registry.Add(p)
	r.logger.Info("project added", zap.String("name", p.Name()), zap.String("path", p.Path()))
	return p.Info(), nil
}

func (r *Router) handleRemoveProject(_ context.Context, name string) (any, error) {
	if name == "" {
		return nil, autoerrors.ArgumentMissing(CommandRemoveProject, autoerrors.ReasonProjectNameRequired)
	}
	if !r.registry.RemoveByName(name) {
		return nil, autoerrors.ProjectNotFound(CommandRemoveProject, name)
	}
	r.logger.Info("project removed", zap.String("name", name))
	return name, nil
}

func (r *Router) find(op, name string) (*project.Project, error) {
	if name == "" {
		return nil, autoerrors.ArgumentMissing(op, autoerrors.ReasonProjectNameRequired)
	}
	p, ok := r.registry.Find(name)
	if !ok {
		return nil, autoerrors.ProjectNotFound(op, name)
	}
	return p, nil
}

func (r *Router) handleGetAllCompletions(_ context.Context, name string) (any, error) {
	p, err := r.find(CommandGetAllCompletions, name)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	entries := p.All(nil)
	r.metrics.ObserveQuery(time.Since(start))
	return entries, nil
}

func (r *Router) handleGetCompletions(_ context.Context, arg string) (any, error) {
	var args CompletionsArgs
	if err := decodeArgs(CommandGetCompletions, arg, &args); err != nil {
		return nil, err
	}
	p, err := r.find(CommandGetCompletions, args.Project)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	entries := p.Query(args.Prefix, types.NewNamespaceSet(args.Imported...))
	r.metrics.ObserveQuery(time.Since(start))
	return entries, nil
}

func (r *Router) handleGetExtensionCompletions(_ context.Context, arg string) (any, error) {
	var args ExtensionArgs
	if err := decodeArgs(CommandGetExtensionCompletions, arg, &args); err != nil {
		return nil, err
	}
	p, err := r.find(CommandGetExtensionCompletions, args.Project)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	exts := p.Extensions(args.Type, types.NewNamespaceSet(args.Imported...))
	r.metrics.ObserveQuery(time.Since(start))
	return exts, nil
}

func (r *Router) handleListProjects(context.Context, string) (any, error) {
	projects := r.registry.List()
	infos := make([]project.Info, len(projects))
	for i, p := range projects {
		infos[i] = p.Info()
	}
	return infos, nil
}

func (r *Router) handleGetProjectStatus(_ context.Context, name string) (any, error) {
	p, err := r.find(CommandGetProjectStatus, name)
	if err != nil {
		return nil, err
	}
	return p.Info(), nil
}
