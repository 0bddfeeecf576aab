// Package orchestrator implements the client for the container-orchestration
// control plane.
//
// The control plane fronts the container runtime on one endpoint: stack
// create/delete go through its own API, while container operations (list,
// lifecycle, exec, archive transfer) are proxied through to the runtime API
// and therefore speak the runtime's wire types.
//
// The client is stateless and safe for concurrent use. Every call carries a
// bounded timeout; HTTP 4xx/5xx responses surface as *APIError so callers can
// see the control plane's status code and body. There is no automatic retry
// loop; callers decide whether to retry a whole workflow.
package orchestrator

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/rentafleet/orchestrator/common"
)

// Client is the interface for control-plane operations.
//
// All methods return errors instead of panicking. Lifecycle operations are
// idempotent: acting on a container already in the target state is success.
type Client interface {
	// ListContainers returns every container on the endpoint, including
	// stopped ones. An empty endpoint yields an empty slice, not an error.
	ListContainers(ctx context.Context) ([]Container, error)

	// ListStacks returns every compose stack known to the control plane.
	ListStacks(ctx context.Context) ([]Stack, error)

	// ContainerID resolves a container name to its runtime ID. The match is
	// exact (after stripping the runtime's leading separator); zero matches
	// return ErrContainerNotFound.
	ContainerID(ctx context.Context, name string) (string, error)

	// ContainerState returns the runtime state ("running", "exited", ...)
	// of the named container.
	ContainerState(ctx context.Context, name string) (string, error)

	// Exec runs a command inside the named container and blocks until it
	// completes, returning the captured output.
	Exec(ctx context.Context, name string, cmd []string) (string, error)

	// UploadArchive extracts a tar archive into destPath inside the named
	// container. Existing files are overwritten; the call is idempotent at
	// the file level.
	UploadArchive(ctx context.Context, name, destPath string, data []byte) error

	// DownloadArchive returns sourcePath from the named container as a tar
	// archive.
	DownloadArchive(ctx context.Context, name, sourcePath string) ([]byte, error)

	// StopContainer stops the named container. Already stopped is success.
	StopContainer(ctx context.Context, name string) error

	// StartContainer starts the named container. Already running is success.
	StartContainer(ctx context.Context, name string) error

	// RestartContainer restarts the named container.
	RestartContainer(ctx context.Context, name string) error

	// CreateStack deploys a compose document as a new stack and returns the
	// stack ID. A name collision returns ErrDuplicateStack; callers should
	// pre-check ListStacks since the control plane may not enforce
	// uniqueness atomically.
	CreateStack(ctx context.Context, name, composeContent string) (int, error)

	// DeleteStack removes a stack and its containers.
	DeleteStack(ctx context.Context, stackID int) error

	// WaitForContainerState polls until the named container reports the
	// desired state. Timeout is not an error: the caller gets false and
	// decides whether to proceed.
	WaitForContainerState(ctx context.Context, name, desired string, timeout time.Duration) (bool, error)
}

// httpClient is the concrete HTTP implementation of Client.
type httpClient struct {
	cfg      Config
	standard *http.Client
	transfer *http.Client
}

// NewClient creates a control-plane client from the provided configuration.
func NewClient(cfg Config) (Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("orchestrator url is required")
	}
	if cfg.EndpointID < 1 {
		return nil, fmt.Errorf("endpoint id must be positive, got %d", cfg.EndpointID)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 180 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	transport := http.DefaultTransport
	if cfg.InsecureSkipVerify {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &httpClient{
		cfg:      cfg,
		standard: &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		transfer: &http.Client{Timeout: cfg.TransferTimeout, Transport: transport},
	}, nil
}

// do performs one control-plane request and returns the response body.
// Transport failures wrap ErrUnavailable; 4xx/5xx become *APIError.
func (c *httpClient) do(ctx context.Context, client *http.Client, op, method, path string, contentType string, body []byte) ([]byte, error) {
	u := strings.TrimRight(c.cfg.URL, "/") + "/api/" + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode >= 400 {
		return data, &APIError{StatusCode: resp.StatusCode, Body: string(data), Op: op}
	}
	return data, nil
}

// dockerPath builds a runtime-proxied path scoped to the configured endpoint.
func (c *httpClient) dockerPath(suffix string) string {
	return fmt.Sprintf("endpoints/%d/docker/%s", c.cfg.EndpointID, suffix)
}

func (c *httpClient) ListContainers(ctx context.Context) ([]Container, error) {
	data, err := c.do(ctx, c.standard, "list-containers", http.MethodGet,
		c.dockerPath("containers/json?all=true"), "", nil)
	if err != nil {
		return nil, err
	}

	var raw []containertypes.Summary
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode container list: %w", err)
	}

	containers := make([]Container, 0, len(raw))
	for _, s := range raw {
		name := ""
		if len(s.Names) > 0 {
			// Runtime names carry a leading slash
			name = strings.TrimPrefix(s.Names[0], "/")
		}
		containers = append(containers, Container{
			ID:     s.ID,
			Name:   name,
			State:  s.State,
			Status: s.Status,
			Image:  s.Image,
		})
	}
	return containers, nil
}

func (c *httpClient) ListStacks(ctx context.Context) ([]Stack, error) {
	data, err := c.do(ctx, c.standard, "list-stacks", http.MethodGet, "stacks", "", nil)
	if err != nil {
		return nil, err
	}

	var stacks []Stack
	if err := json.Unmarshal(data, &stacks); err != nil {
		return nil, fmt.Errorf("decode stack list: %w", err)
	}
	return stacks, nil
}

// containerByName finds a container by exact name. Substring matching was
// deliberately rejected: tenant codes can be prefixes of each other and a
// first-hit substring match would silently pick the wrong container.
func (c *httpClient) containerByName(ctx context.Context, name string) (Container, error) {
	containers, err := c.ListContainers(ctx)
	if err != nil {
		return Container{}, err
	}
	for _, cont := range containers {
		if cont.Name == name {
			return cont, nil
		}
	}
	return Container{}, fmt.Errorf("%w: %q", ErrContainerNotFound, name)
}

func (c *httpClient) ContainerID(ctx context.Context, name string) (string, error) {
	cont, err := c.containerByName(ctx, name)
	if err != nil {
		return "", err
	}
	return cont.ID, nil
}

func (c *httpClient) ContainerState(ctx context.Context, name string) (string, error) {
	cont, err := c.containerByName(ctx, name)
	if err != nil {
		return "", err
	}
	return cont.State, nil
}

func (c *httpClient) Exec(ctx context.Context, name string, cmd []string) (string, error) {
	id, err := c.ContainerID(ctx, name)
	if err != nil {
		return "", err
	}

	createBody, err := json.Marshal(containertypes.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("encode exec options: %w", err)
	}

	data, err := c.do(ctx, c.standard, "exec-create", http.MethodPost,
		c.dockerPath("containers/"+id+"/exec"), "application/json", createBody)
	if err != nil {
		return "", &ExecError{Container: name, Command: strings.Join(cmd, " "), Err: fmt.Errorf("%w: %v", ErrExecFailed, err)}
	}

	var created struct {
		ID string `json:"Id"`
	}
	if err := json.Unmarshal(data, &created); err != nil || created.ID == "" {
		return "", &ExecError{Container: name, Command: strings.Join(cmd, " "), Err: fmt.Errorf("%w: missing exec id", ErrExecFailed)}
	}

	startBody, err := json.Marshal(containertypes.ExecStartOptions{Detach: false})
	if err != nil {
		return "", fmt.Errorf("encode exec start options: %w", err)
	}

	raw, err := c.do(ctx, c.transfer, "exec-start", http.MethodPost,
		c.dockerPath("exec/"+created.ID+"/start"), "application/json", startBody)
	if err != nil {
		return "", &ExecError{Container: name, Command: strings.Join(cmd, " "), Output: string(raw), Err: fmt.Errorf("%w: %v", ErrExecFailed, err)}
	}

	return demuxStream(raw), nil
}

// demuxStream unpacks the runtime's multiplexed stdout/stderr stream. Output
// that is not in frame format (tty sessions, proxies that already unpacked it)
// is returned as-is.
func demuxStream(raw []byte) string {
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, bytes.NewReader(raw)); err != nil {
		return string(raw)
	}
	if stderr.Len() > 0 && stdout.Len() == 0 {
		return stderr.String()
	}
	return stdout.String() + stderr.String()
}

func (c *httpClient) UploadArchive(ctx context.Context, name, destPath string, data []byte) error {
	id, err := c.ContainerID(ctx, name)
	if err != nil {
		return err
	}

	path := c.dockerPath("containers/" + id + "/archive?path=" + url.QueryEscape(destPath))
	if _, err := c.do(ctx, c.transfer, "upload-archive", http.MethodPut, path, "application/x-tar", data); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %q in %q", ErrPathNotFound, destPath, name)
		}
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

func (c *httpClient) DownloadArchive(ctx context.Context, name, sourcePath string) ([]byte, error) {
	id, err := c.ContainerID(ctx, name)
	if err != nil {
		return nil, err
	}

	path := c.dockerPath("containers/" + id + "/archive?path=" + url.QueryEscape(sourcePath))
	data, err := c.do(ctx, c.transfer, "download-archive", http.MethodGet, path, "", nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %q in %q", ErrPathNotFound, sourcePath, name)
		}
		return nil, err
	}
	return data, nil
}

// lifecycle issues a container lifecycle action. The runtime answers 304 when
// the container is already in the target state; that counts as success.
func (c *httpClient) lifecycle(ctx context.Context, name, action string) error {
	id, err := c.ContainerID(ctx, name)
	if err != nil {
		return err
	}

	_, err = c.do(ctx, c.standard, action+"-container", http.MethodPost,
		c.dockerPath("containers/"+id+"/"+action), "application/json", nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotModified {
			return nil
		}
		return err
	}
	return nil
}

func (c *httpClient) StopContainer(ctx context.Context, name string) error {
	return c.lifecycle(ctx, name, "stop")
}

func (c *httpClient) StartContainer(ctx context.Context, name string) error {
	return c.lifecycle(ctx, name, "start")
}

func (c *httpClient) RestartContainer(ctx context.Context, name string) error {
	return c.lifecycle(ctx, name, "restart")
}

func (c *httpClient) CreateStack(ctx context.Context, name, composeContent string) (int, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"name":             name,
		"stackFileContent": composeContent,
		"env":              []interface{}{},
	})
	if err != nil {
		return 0, fmt.Errorf("encode stack payload: %w", err)
	}

	path := fmt.Sprintf("stacks/create/standalone/string?endpointId=%d", c.cfg.EndpointID)
	data, err := c.do(ctx, c.standard, "create-stack", http.MethodPost, path, "application/json", payload)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusConflict ||
				strings.Contains(strings.ToLower(apiErr.Body), "already exists") {
				return 0, fmt.Errorf("%w: %q", ErrDuplicateStack, name)
			}
		}
		return 0, err
	}

	var created struct {
		ID int `json:"Id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return 0, fmt.Errorf("decode create-stack response: %w", err)
	}
	return created.ID, nil
}

func (c *httpClient) DeleteStack(ctx context.Context, stackID int) error {
	path := fmt.Sprintf("stacks/%d?endpointId=%d", stackID, c.cfg.EndpointID)
	if _, err := c.do(ctx, c.standard, "delete-stack", http.MethodDelete, path, "", nil); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: id %d", ErrStackNotFound, stackID)
		}
		return err
	}
	return nil
}

func (c *httpClient) WaitForContainerState(ctx context.Context, name, desired string, timeout time.Duration) (bool, error) {
	return common.WaitUntil(ctx, func(ctx context.Context) (bool, error) {
		state, err := c.ContainerState(ctx, name)
		if err != nil {
			return false, err
		}
		return state == desired, nil
	}, timeout, c.cfg.PollInterval)
}
