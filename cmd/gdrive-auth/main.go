// Command gdrive-auth runs the OAuth consent flow once and prints the refresh
// token to put in GDRIVE_REFRESH_TOKEN for ARCHIVE_PROVIDER=gdrive.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"vidrender/internal/pkg/logger"
	"vidrender/internal/storage"
)

const consentTimeout = 3 * time.Minute

func main() {
	log := logger.New(logger.Config{Level: "info", Format: "text", ServiceName: "gdrive-auth", Output: os.Stderr})

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.LogFatal("failed to read .env", err)
	}
	clientID := strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_ID"))
	clientSecret := strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_SECRET"))
	if clientID == "" || clientSecret == "" {
		log.LogFatal("GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET are required", nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, consentTimeout)
	defer cancel()

	tok, err := authorize(ctx, log, clientID, clientSecret)
	if err != nil {
		log.LogFatal("authorization failed", err)
	}

	if strings.TrimSpace(tok.RefreshToken) == "" {
		log.Error("no refresh token returned; revoke the app's access at https://myaccount.google.com/permissions and run again")
		os.Exit(1)
	}
	fmt.Println(tok.RefreshToken)
}

// authorize serves a one-shot callback on a free loopback port and exchanges
// the returned code for a token.
func authorize(ctx context.Context, log *logger.Logger, clientID, clientSecret string) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", ln.Addr().(*net.TCPAddr).Port)

	conf := storage.GDriveOAuthConfig(clientID, clientSecret, redirectURL)
	state, err := randomState()
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "invalid state", http.StatusBadRequest)
			errCh <- errors.New("invalid state")
		case q.Get("error") != "":
			http.Error(w, "auth error: "+q.Get("error"), http.StatusBadRequest)
			errCh <- fmt.Errorf("auth error: %s", q.Get("error"))
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			errCh <- errors.New("missing code")
		default:
			fmt.Fprintln(w, "Authorized. You can close this window.")
			codeCh <- q.Get("code")
		}
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	log.Info("open this URL in a browser", "url", authURL, "callback", redirectURL)

	select {
	case code := <-codeCh:
		tok, err := conf.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("exchange code: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for consent: %w", ctx.Err())
	}
}

func randomState() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
