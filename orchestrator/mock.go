package orchestrator

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"
)

// MockClient is a hand-written test double for Client. It keeps an in-memory
// container and stack inventory, records every call in order, and lets tests
// inject failures per operation.
//
// Lifecycle calls mutate the recorded container state so workflow tests can
// assert the stop-copy-start ordering against the Calls log.
type MockClient struct {
	mu sync.Mutex

	// Containers is the endpoint inventory returned by ListContainers.
	Containers []Container

	// Stacks is the control-plane stack list.
	Stacks []Stack

	// DownloadData maps "container:path" to the archive bytes returned by
	// DownloadArchive.
	DownloadData map[string][]byte

	// ExecOutput maps a container name to the output its next Exec returns.
	ExecOutput map[string]string

	// FailOn maps an operation name ("stop", "upload", "create-stack", ...)
	// to the error it should return.
	FailOn map[string]error

	// Calls records every operation in invocation order, formatted as
	// "op name" or "op name extra".
	Calls []string

	// Uploads records archives pushed via UploadArchive.
	Uploads []ArchiveUpload

	// Execs records commands run via Exec.
	Execs []ExecCall

	// CreatedStacks records compose content handed to CreateStack by name.
	CreatedStacks map[string]string

	// DeletedStacks records the IDs passed to DeleteStack.
	DeletedStacks []int

	nextStackID int
}

// ArchiveUpload captures one UploadArchive invocation.
type ArchiveUpload struct {
	Container string
	DestPath  string
	Data      []byte
}

// ExecCall captures one Exec invocation.
type ExecCall struct {
	Container string
	Cmd       []string
}

// NewMockClient creates a mock with empty inventories.
func NewMockClient() *MockClient {
	return &MockClient{
		DownloadData:  make(map[string][]byte),
		ExecOutput:    make(map[string]string),
		FailOn:        make(map[string]error),
		CreatedStacks: make(map[string]string),
		nextStackID:   100,
	}
}

// AddContainer registers a container in the mock inventory.
func (m *MockClient) AddContainer(name, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Containers = append(m.Containers, Container{
		ID:    "mock-" + name,
		Name:  name,
		State: state,
	})
}

// AddStack registers a stack in the mock inventory.
func (m *MockClient) AddStack(id int, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stacks = append(m.Stacks, Stack{ID: id, Name: name, Status: 1})
}

func (m *MockClient) record(op string, args ...string) {
	entry := op
	if len(args) > 0 {
		entry = op + " " + strings.Join(args, " ")
	}
	m.Calls = append(m.Calls, entry)
}

func (m *MockClient) fail(op string) error {
	if err, ok := m.FailOn[op]; ok {
		return err
	}
	return nil
}

func (m *MockClient) find(name string) (int, error) {
	for i, c := range m.Containers {
		if c.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrContainerNotFound, name)
}

func (m *MockClient) ListContainers(ctx context.Context) ([]Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("list-containers")
	if err := m.fail("list-containers"); err != nil {
		return nil, err
	}
	out := make([]Container, len(m.Containers))
	copy(out, m.Containers)
	return out, nil
}

func (m *MockClient) ListStacks(ctx context.Context) ([]Stack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("list-stacks")
	if err := m.fail("list-stacks"); err != nil {
		return nil, err
	}
	out := make([]Stack, len(m.Stacks))
	copy(out, m.Stacks)
	return out, nil
}

func (m *MockClient) ContainerID(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("container-id", name)
	if err := m.fail("container-id"); err != nil {
		return "", err
	}
	i, err := m.find(name)
	if err != nil {
		return "", err
	}
	return m.Containers[i].ID, nil
}

func (m *MockClient) ContainerState(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("container-state", name)
	if err := m.fail("container-state"); err != nil {
		return "", err
	}
	i, err := m.find(name)
	if err != nil {
		return "", err
	}
	return m.Containers[i].State, nil
}

func (m *MockClient) Exec(ctx context.Context, name string, cmd []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("exec", name)
	if err := m.fail("exec"); err != nil {
		return "", err
	}
	if _, err := m.find(name); err != nil {
		return "", err
	}
	m.Execs = append(m.Execs, ExecCall{Container: name, Cmd: cmd})
	return m.ExecOutput[name], nil
}

func (m *MockClient) UploadArchive(ctx context.Context, name, destPath string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("upload", name, destPath)
	if err := m.fail("upload"); err != nil {
		return err
	}
	if _, err := m.find(name); err != nil {
		return err
	}
	m.Uploads = append(m.Uploads, ArchiveUpload{Container: name, DestPath: destPath, Data: data})
	m.indexUploadedFiles(name, destPath, data)
	return nil
}

// indexUploadedFiles mirrors each uploaded file into DownloadData so a later
// DownloadArchive of the file's path returns it, like a real container would.
func (m *MockClient) indexUploadedFiles(name, destPath string, data []byte) {
	r := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := r.Next()
		if err != nil {
			return
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			return
		}

		var buf bytes.Buffer
		w := tar.NewWriter(&buf)
		entry := &tar.Header{Name: path.Base(hdr.Name), Mode: hdr.Mode, Size: int64(len(content))}
		if w.WriteHeader(entry) != nil {
			return
		}
		if _, err := w.Write(content); err != nil {
			return
		}
		if w.Close() != nil {
			return
		}
		m.DownloadData[name+":"+path.Join(destPath, hdr.Name)] = buf.Bytes()
	}
}

func (m *MockClient) DownloadArchive(ctx context.Context, name, sourcePath string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("download", name, sourcePath)
	if err := m.fail("download"); err != nil {
		return nil, err
	}
	if _, err := m.find(name); err != nil {
		return nil, err
	}
	data, ok := m.DownloadData[name+":"+sourcePath]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %q", ErrPathNotFound, sourcePath, name)
	}
	return data, nil
}

func (m *MockClient) StopContainer(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("stop", name)
	if err := m.fail("stop"); err != nil {
		return err
	}
	i, err := m.find(name)
	if err != nil {
		return err
	}
	m.Containers[i].State = StateExited
	return nil
}

func (m *MockClient) StartContainer(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("start", name)
	if err := m.fail("start"); err != nil {
		return err
	}
	i, err := m.find(name)
	if err != nil {
		return err
	}
	m.Containers[i].State = StateRunning
	return nil
}

func (m *MockClient) RestartContainer(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("restart", name)
	if err := m.fail("restart"); err != nil {
		return err
	}
	i, err := m.find(name)
	if err != nil {
		return err
	}
	m.Containers[i].State = StateRunning
	return nil
}

func (m *MockClient) CreateStack(ctx context.Context, name, composeContent string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create-stack", name)
	if err := m.fail("create-stack"); err != nil {
		return 0, err
	}
	for _, s := range m.Stacks {
		if s.Name == name {
			return 0, fmt.Errorf("%w: %q", ErrDuplicateStack, name)
		}
	}
	m.nextStackID++
	m.Stacks = append(m.Stacks, Stack{ID: m.nextStackID, Name: name, Status: 1})
	m.CreatedStacks[name] = composeContent
	return m.nextStackID, nil
}

func (m *MockClient) DeleteStack(ctx context.Context, stackID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete-stack", fmt.Sprintf("%d", stackID))
	if err := m.fail("delete-stack"); err != nil {
		return err
	}
	for i, s := range m.Stacks {
		if s.ID == stackID {
			m.Stacks = append(m.Stacks[:i], m.Stacks[i+1:]...)
			m.DeletedStacks = append(m.DeletedStacks, stackID)
			return nil
		}
	}
	return fmt.Errorf("%w: id %d", ErrStackNotFound, stackID)
}

func (m *MockClient) WaitForContainerState(ctx context.Context, name, desired string, timeout time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("wait", name, desired)
	if err := m.fail("wait"); err != nil {
		return false, err
	}
	i, err := m.find(name)
	if err != nil {
		return false, err
	}
	return m.Containers[i].State == desired, nil
}

// CallsMatching returns the subset of recorded calls whose operation prefix
// matches op, preserving order.
func (m *MockClient) CallsMatching(op string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.Calls {
		if strings.HasPrefix(c, op) {
			out = append(out, c)
		}
	}
	return out
}
