package oauthqueue

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/keyrotor/llmproxy/pkg/credential"
)

const (
	reauthCallbackTimeout = 300 * time.Second
	loopbackBindTimeout   = 2 * time.Second
)

// ReauthCoordinator serializes interactive re-auth flows across every
// provider: only one browser flow may run at a time process-wide (spec
// §4.6, "process-wide Re-auth Coordinator").
type ReauthCoordinator struct {
	mu sync.Mutex
	// OpenBrowser is overridable for tests; defaults to doing nothing
	// beyond logging the URL when the environment is headless.
	OpenBrowser func(url string) error
}

// NewReauthCoordinator returns a coordinator with the default
// headless-aware browser opener.
func NewReauthCoordinator() *ReauthCoordinator {
	return &ReauthCoordinator{OpenBrowser: defaultOpenBrowser}
}

// Run acquires the global re-auth lock, then delegates to fn for the
// provider-specific PKCE exchange. fn is expected to start its own
// loopback server (see NewPKCEFlow) and block until the callback arrives
// or ctx expires.
func (c *ReauthCoordinator) Run(ctx context.Context, provider string, cred *credential.Credential, fn ReauthFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(ctx, cred)
}

// IsHeadless reports whether the current environment has no way to launch
// an interactive browser — kept as the same decision rule the source uses:
// no DISPLAY, or running inside an SSH session (spec §12, "Headless
// detection for interactive re-auth").
func IsHeadless() bool {
	if os.Getenv("DISPLAY") != "" {
		return false
	}
	if os.Getenv("SSH_CONNECTION") != "" || os.Getenv("SSH_TTY") != "" {
		return true
	}
	return os.Getenv("DISPLAY") == ""
}

func defaultOpenBrowser(url string) error {
	if IsHeadless() {
		fmt.Fprintf(os.Stderr, "open this URL to continue authentication: %s\n", url)
		return nil
	}
	fmt.Fprintf(os.Stderr, "open this URL to continue authentication: %s\n", url)
	return nil
}

// PKCEFlow drives one authorization-code-with-PKCE exchange against a
// local loopback callback server.
type PKCEFlow struct {
	Port         int
	CallbackPath string
	Verifier     string
	Challenge    string
	State        string
}

// NewPKCEFlow generates a fresh verifier/challenge/state triple for one
// re-auth attempt.
func NewPKCEFlow(port int, callbackPath string) (*PKCEFlow, error) {
	verifier, err := randomURLSafe(32)
	if err != nil {
		return nil, err
	}
	state, err := randomURLSafe(16)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	return &PKCEFlow{Port: port, CallbackPath: callbackPath, Verifier: verifier, Challenge: challenge, State: state}, nil
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// AwaitCallback binds a loopback HTTP server on Port, waits for exactly one
// GET on CallbackPath carrying matching state, and returns the
// authorization code. Any other request gets a 400. The server is torn
// down before returning.
func (f *PKCEFlow) AwaitCallback(ctx context.Context) (code string, err error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", f.Port))
	if err != nil {
		return "", fmt.Errorf("oauthqueue: bind loopback callback server: %w", err)
	}

	result := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(f.CallbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != f.State {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("state mismatch"))
			errCh <- fmt.Errorf("oauthqueue: callback state mismatch")
			return
		}
		code := q.Get("code")
		if code == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("missing code"))
			errCh <- fmt.Errorf("oauthqueue: callback missing code")
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>Authentication complete. You may close this tab.</body></html>"))
		result <- code
	})

	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(listener) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), loopbackBindTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case code := <-result:
		return code, nil
	case err := <-errCh:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("oauthqueue: interactive re-auth timed out: %w", ctx.Err())
	}
}
