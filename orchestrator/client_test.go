package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func containerJSON(id, name, state string) map[string]interface{} {
	return map[string]interface{}{
		"Id":    id,
		"Names": []string{"/" + name},
		"State": state,
		"Image": "nginx:alpine",
	}
}

// newTestServer builds a control-plane stub rooted at /api/.
func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		URL:          srv.URL,
		APIKey:       "test-key",
		EndpointID:   1,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return srv, client
}

func TestListContainersStripsNamePrefix(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "/api/endpoints/1/docker/containers/json", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("all"))
		json.NewEncoder(w).Encode([]interface{}{
			containerJSON("abc", "acme_frontend", "running"),
			containerJSON("def", "acme_backend", "exited"),
		})
	})

	containers, err := client.ListContainers(context.Background())
	require.NoError(t, err)
	require.Len(t, containers, 2)
	assert.Equal(t, "acme_frontend", containers[0].Name)
	assert.Equal(t, StateRunning, containers[0].State)
	assert.Equal(t, "acme_backend", containers[1].Name)
}

func TestContainerIDExactMatchOnly(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]interface{}{
			containerJSON("long", "acme2_frontend", "running"),
			containerJSON("short", "acme_frontend", "running"),
		})
	})

	id, err := client.ContainerID(context.Background(), "acme_frontend")
	require.NoError(t, err)
	assert.Equal(t, "short", id)

	_, err = client.ContainerID(context.Background(), "acme_front")
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestStopContainerAlreadyStopped(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/endpoints/1/docker/containers/json" {
			json.NewEncoder(w).Encode([]interface{}{containerJSON("abc", "acme_backend", "exited")})
			return
		}
		assert.Equal(t, "/api/endpoints/1/docker/containers/abc/stop", r.URL.Path)
		w.WriteHeader(http.StatusNotModified)
	})

	err := client.StopContainer(context.Background(), "acme_backend")
	assert.NoError(t, err, "already stopped must be success")
}

func TestCreateStack(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stacks/create/standalone/string", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("endpointId"))

		var payload struct {
			Name             string        `json:"name"`
			StackFileContent string        `json:"stackFileContent"`
			Env              []interface{} `json:"env"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "rentacar_acme", payload.Name)
		assert.Contains(t, payload.StackFileContent, "services:")

		json.NewEncoder(w).Encode(map[string]interface{}{"Id": 42})
	})

	id, err := client.CreateStack(context.Background(), "rentacar_acme", "services:\n  frontend: {}\n")
	require.NoError(t, err)
	assert.Equal(t, 42, id)
}

func TestCreateStackConflict(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"a stack with this name already exists"}`))
	})

	_, err := client.CreateStack(context.Background(), "rentacar_acme", "services: {}\n")
	assert.ErrorIs(t, err, ErrDuplicateStack)
}

func TestDeleteStackNotFound(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := client.DeleteStack(context.Background(), 7)
	assert.ErrorIs(t, err, ErrStackNotFound)
}

func TestExecRunsCreateThenStart(t *testing.T) {
	var sawCreate, sawStart bool
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/endpoints/1/docker/containers/json":
			json.NewEncoder(w).Encode([]interface{}{containerJSON("abc", "acme_backend", "running")})
		case "/api/endpoints/1/docker/containers/abc/exec":
			sawCreate = true
			var opts struct {
				Cmd          []string
				AttachStdout bool
				AttachStderr bool
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&opts))
			assert.True(t, opts.AttachStdout)
			assert.True(t, opts.AttachStderr)
			json.NewEncoder(w).Encode(map[string]string{"Id": "exec-1"})
		case "/api/endpoints/1/docker/exec/exec-1/start":
			sawStart = true
			// 8-byte stdout frame header followed by payload
			w.Write([]byte{1, 0, 0, 0, 0, 0, 0, 5})
			w.Write([]byte("hello"))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	out, err := client.Exec(context.Background(), "acme_backend", []string{"sh", "-c", "echo hello"})
	require.NoError(t, err)
	assert.True(t, sawCreate)
	assert.True(t, sawStart)
	assert.Equal(t, "hello", out)
}

func TestExecUnframedOutputPassthrough(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/endpoints/1/docker/containers/json":
			json.NewEncoder(w).Encode([]interface{}{containerJSON("abc", "acme_backend", "running")})
		case "/api/endpoints/1/docker/containers/abc/exec":
			json.NewEncoder(w).Encode(map[string]string{"Id": "exec-1"})
		default:
			w.Write([]byte("plain output"))
		}
	})

	out, err := client.Exec(context.Background(), "acme_backend", []string{"true"})
	require.NoError(t, err)
	assert.Equal(t, "plain output", out)
}

func TestUploadArchive(t *testing.T) {
	payload := []byte("tar-bytes")
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/endpoints/1/docker/containers/json" {
			json.NewEncoder(w).Encode([]interface{}{containerJSON("abc", "acme_frontend", "running")})
			return
		}
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/endpoints/1/docker/containers/abc/archive", r.URL.Path)
		assert.Equal(t, "/usr/share/nginx/html", r.URL.Query().Get("path"))
		assert.Equal(t, "application/x-tar", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	})

	err := client.UploadArchive(context.Background(), "acme_frontend", "/usr/share/nginx/html", payload)
	assert.NoError(t, err)
}

func TestDownloadArchiveMissingPath(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/endpoints/1/docker/containers/json" {
			json.NewEncoder(w).Encode([]interface{}{containerJSON("abc", "acme_frontend", "running")})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.DownloadArchive(context.Background(), "acme_frontend", "/no/such/dir")
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestWaitForContainerStateTimeoutIsNotError(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]interface{}{containerJSON("abc", "acme_backend", "created")})
	})

	ok, err := client.WaitForContainerState(context.Background(), "acme_backend", StateRunning, 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAPIErrorSurfacesStatusAndBody(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("invalid api key"))
	})

	_, err := client.ListStacks(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "invalid api key")
}

func TestClientUnavailable(t *testing.T) {
	client, err := NewClient(Config{URL: "http://127.0.0.1:1", APIKey: "k", EndpointID: 1,
		RequestTimeout: 200 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.ListContainers(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}
