// Package docker adapts the Docker Engine SDK to the small surface the poll
// jobs need, so jobs can be tested against a fake runtime.
package docker

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ErrNotFound marks errors caused by a container (or daemon object) that no
// longer exists.
var ErrNotFound = errors.New("docker: not found")

// IsNotFound reports whether err means the object is gone for good.
func IsNotFound(err error) bool {
	return err != nil && (errors.Is(err, ErrNotFound) || client.IsErrNotFound(err))
}

// Container is the part of a container listing the jobs use.
type Container struct {
	ID    string
	Name  string
	State string
}

func (c Container) Running() bool { return c.State == "running" }

// Top is the output of `ps` inside a container.
type Top struct {
	Titles    []string
	Processes [][]string
}

// StatsStream yields successive stats samples. Next returns io.EOF when the
// daemon closes the stream.
type StatsStream interface {
	Next() (Stats, error)
	Close() error
}

// Runtime is the container runtime the jobs talk to.
type Runtime interface {
	Containers(ctx context.Context) ([]Container, error)
	Container(ctx context.Context, id string) (Container, error)
	Stats(ctx context.Context, id string) (StatsStream, error)
	Top(ctx context.Context, id string, psArgs []string) (Top, error)
	Inspect(ctx context.Context, id string) (map[string]any, error)
	Info(ctx context.Context) (map[string]any, error)
	Close() error
}

// BaseURL turns a monitor target into a daemon URL. unix: targets are used
// as given; anything else becomes tcp://host:port, port defaulting to
// defaultPort.
func BaseURL(target, defaultPort string) string {
	if strings.HasPrefix(target, "unix:") {
		return target
	}
	host := strings.TrimPrefix(target, "tcp://")
	if h, p, err := net.SplitHostPort(host); err == nil {
		return "tcp://" + net.JoinHostPort(h, p)
	}
	return "tcp://" + net.JoinHostPort(host, defaultPort)
}

type sdkRuntime struct {
	cli *client.Client
}

// New connects to the daemon at host. An empty apiVersion negotiates.
func New(host, apiVersion string) (Runtime, error) {
	opts := []client.Opt{client.WithHost(host)}
	if strings.TrimSpace(apiVersion) != "" {
		opts = append(opts, client.WithVersion(apiVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "docker client for %s", host)
	}
	return &sdkRuntime{cli: cli}, nil
}

func wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	err = errors.Wrapf(err, format, args...)
	if client.IsErrNotFound(err) {
		err = errors.Mark(err, ErrNotFound)
	}
	return err
}

func (r *sdkRuntime) Containers(ctx context.Context) ([]Container, error) {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, wrap(err, "list containers")
	}
	out := make([]Container, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, Container{ID: c.ID, Name: name, State: c.State})
	}
	return out, nil
}

func (r *sdkRuntime) Container(ctx context.Context, id string) (Container, error) {
	c, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return Container{}, wrap(err, "inspect container %s", id)
	}
	out := Container{ID: c.ID, Name: strings.TrimPrefix(c.Name, "/")}
	if c.State != nil {
		out.State = c.State.Status
	}
	return out, nil
}

func (r *sdkRuntime) Stats(ctx context.Context, id string) (StatsStream, error) {
	resp, err := r.cli.ContainerStats(ctx, id, true)
	if err != nil {
		return nil, wrap(err, "stats for %s", id)
	}
	return NewStatsDecoder(resp.Body), nil
}

func (r *sdkRuntime) Top(ctx context.Context, id string, psArgs []string) (Top, error) {
	top, err := r.cli.ContainerTop(ctx, id, psArgs)
	if err != nil {
		return Top{}, wrap(err, "top for %s", id)
	}
	return Top{Titles: top.Titles, Processes: top.Processes}, nil
}

func (r *sdkRuntime) Inspect(ctx context.Context, id string) (map[string]any, error) {
	_, raw, err := r.cli.ContainerInspectWithRaw(ctx, id, false)
	if err != nil {
		return nil, wrap(err, "inspect container %s", id)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrapf(err, "decode inspect for %s", id)
	}
	return m, nil
}

func (r *sdkRuntime) Info(ctx context.Context) (map[string]any, error) {
	info, err := r.cli.Info(ctx)
	if err != nil {
		return nil, wrap(err, "daemon info")
	}
	return toMap(info)
}

func (r *sdkRuntime) Close() error { return r.cli.Close() }

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return m, nil
}

type statsDecoder struct {
	body io.ReadCloser
	dec  *json.Decoder
}

// NewStatsDecoder reads a stream of stats JSON documents from body.
func NewStatsDecoder(body io.ReadCloser) StatsStream {
	return &statsDecoder{body: body, dec: json.NewDecoder(body)}
}

func (d *statsDecoder) Next() (Stats, error) {
	var s Stats
	if err := d.dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Stats{}, io.EOF
		}
		return Stats{}, errors.Wrap(err, "decode stats")
	}
	return s, nil
}

func (d *statsDecoder) Close() error { return d.body.Close() }
