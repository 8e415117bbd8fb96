package replication

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/rename-project/internal/config"
	"gitlab.com/gitlab-org/rename-project/internal/testhelper"
)

func TestRenameURL(t *testing.T) {
	require.Equal(t,
		"https://replica/a/projects/proj-a/rename-project~rename",
		RenameURL("https://replica", "rename-project", "proj-a"),
	)
	require.Equal(t,
		"https://replica/a/projects/parent%2Fproj-a/rename-project~rename",
		RenameURL("https://replica", "rename-project", "parent/proj-a"),
	)
}

func TestHTTPTransport_Rename(t *testing.T) {
	for _, tc := range []struct {
		desc        string
		user        string
		password    string
		status      int
		expectError bool
	}{
		{desc: "success", user: "admin", password: "secret", status: http.StatusOK},
		{desc: "wrong credentials", user: "admin", password: "wrong", status: http.StatusOK, expectError: true},
		{desc: "conflict", user: "admin", password: "secret", status: http.StatusConflict, expectError: true},
		{desc: "created is no success", user: "admin", password: "secret", status: http.StatusCreated, expectError: true},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			ctx, cancel := testhelper.Context()
			defer cancel()

			var requests int
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests++

				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/a/projects/proj-a/rename-project~rename", r.URL.EscapedPath())
				assert.Equal(t, "application/json; charset=UTF-8", r.Header.Get("Content-Type"))

				user, password, ok := r.BasicAuth()
				if !ok || user != "admin" || password != "secret" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}

				body, err := io.ReadAll(r.Body)
				assert.NoError(t, err)
				var input map[string]string
				assert.NoError(t, json.Unmarshal(body, &input))
				assert.Equal(t, map[string]string{"name": "proj-b"}, input)

				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, ")]}'\n\"\"")
			}))
			defer server.Close()

			transport := NewHTTPTransport(config.HTTP{
				User:              tc.user,
				Password:          tc.password,
				ConnectionTimeout: config.Duration(time.Second),
				SocketTimeout:     config.Duration(time.Second),
			}, "rename-project")

			err := transport.Rename(ctx, Target{URL: server.URL, Scheme: SchemeHTTP}, "proj-a", "proj-b")
			if tc.expectError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, 1, requests)
		})
	}
}

func TestHTTPTransport_socketTimeout(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	transport := NewHTTPTransport(config.HTTP{
		ConnectionTimeout: config.Duration(time.Second),
		SocketTimeout:     config.Duration(50 * time.Millisecond),
	}, "rename-project")

	err := transport.Rename(ctx, Target{URL: server.URL, Scheme: SchemeHTTP}, "proj-a", "proj-b")
	require.Error(t, err)
}

func TestHTTPTransport_stalledBody(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(")]}'\n"))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	transport := NewHTTPTransport(config.HTTP{
		ConnectionTimeout: config.Duration(time.Second),
		SocketTimeout:     config.Duration(100 * time.Millisecond),
	}, "rename-project")

	start := time.Now()
	err := transport.Rename(context.WithoutCancel(ctx), Target{URL: server.URL, Scheme: SchemeHTTP}, "proj-a", "proj-b")
	require.Error(t, err)
	require.Contains(t, err.Error(), "reading response")
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestHTTPTransport_unreachable(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	listener, addr := testhelper.GetLocalhostListener(t)
	require.NoError(t, listener.Close())

	transport := NewHTTPTransport(config.HTTP{
		ConnectionTimeout: config.Duration(time.Second),
		SocketTimeout:     config.Duration(time.Second),
	}, "rename-project")

	err := transport.Rename(ctx, Target{URL: "http://" + addr, Scheme: SchemeHTTP}, "proj-a", "proj-b")
	require.Error(t, err)
}
