package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"gitlab.com/gitlab-org/rename-project/internal/config"
	"gitlab.com/gitlab-org/rename-project/internal/models"
	"gitlab.com/gitlab-org/rename-project/internal/version"
)

const (
	authenticatedPrefix = "a"
	projectsEndpoint    = "projects"
	renameAction        = "rename"
)

// HTTPTransport posts renames to the REST endpoint of replicas.
type HTTPTransport struct {
	client        *http.Client
	socketTimeout time.Duration
	user          string
	password      string
	pluginName    string
}

// NewHTTPTransport returns a transport authenticating with the credentials of cfg.
func NewHTTPTransport(cfg config.HTTP, pluginName string) *HTTPTransport {
	dialer := &net.Dialer{Timeout: cfg.ConnectionTimeout.Duration()}

	return &HTTPTransport{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   cfg.ConnectionTimeout.Duration(),
				ResponseHeaderTimeout: cfg.SocketTimeout.Duration(),
			},
		},
		socketTimeout: cfg.SocketTimeout.Duration(),
		user:          cfg.User,
		password:      cfg.Password,
		pluginName:    pluginName,
	}
}

type renameInput struct {
	Name models.ProjectName `json:"name"`
}

// RenameURL returns the endpoint renaming old on the replica at base.
func RenameURL(base, pluginName string, old models.ProjectName) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s~%s",
		base, authenticatedPrefix, projectsEndpoint, url.PathEscape(old.String()), pluginName, renameAction)
}

// Rename posts the rename and requires the replica to answer with 200 OK.
func (t *HTTPTransport) Rename(ctx context.Context, target Target, old, new models.ProjectName) error {
	body, err := json.Marshal(renameInput{Name: new})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, "POST", RenameURL(target.URL, t.pluginName, old), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if t.user != "" {
		request.SetBasicAuth(t.user, t.password)
	}

	for k, v := range map[string]string{
		"User-Agent":   "rename-project/" + version.GetVersion(),
		"Content-Type": "application/json; charset=UTF-8",
		"Accept":       "application/json",
	} {
		request.Header.Set(k, v)
	}

	response, err := t.client.Do(request)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer response.Body.Close()

	// ResponseHeaderTimeout only covers the headers, a stalled body is cut off by the same bound.
	if t.socketTimeout > 0 {
		timer := time.AfterFunc(t.socketTimeout, cancel)
		defer timer.Stop()
	}

	if response.StatusCode != http.StatusOK {
		message, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unable to replicate rename to %s: %s: %s", target.URL, response.Status, bytes.TrimSpace(message))
	}

	if _, err := io.Copy(io.Discard, response.Body); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	return nil
}
