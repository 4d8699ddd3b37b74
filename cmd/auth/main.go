// Package main provides the Spotify authentication tool.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/tagbox/internal/infra/logger"
	"github.com/osa030/tagbox/internal/infra/spotify"
)

var (
	app          = kingpin.New("tagbox-auth", "Obtain a Spotify refresh token for tagbox")
	clientID     = app.Flag("client-id", "Spotify Client ID").Envar("SPOTIFY_CLIENT_ID").Required().String()
	clientSecret = app.Flag("client-secret", "Spotify Client Secret").Envar("SPOTIFY_CLIENT_SECRET").Required().String()
	port         = app.Flag("port", "Callback server port").Default("8888").Int()
	envFile      = app.Flag("env-file", "Store the refresh token in this .env file").String()
	timeout      = app.Flag("timeout", "How long to wait for authorization").Default("5m").Duration()
)

// callback completes the authorization code flow.
type callback struct {
	auth  *spotifyauth.Authenticator
	state string
	token chan *oauth2.Token
}

func (c *callback) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if st := r.FormValue("state"); st != c.state {
		http.Error(w, "State mismatch", http.StatusForbidden)
		zlog.Warn().Msgf("auth: state mismatch: got=%s", st)
		return
	}

	token, err := c.auth.Token(r.Context(), c.state, r)
	if err != nil {
		http.Error(w, "Failed to get token", http.StatusForbidden)
		zlog.Error().Err(err).Msg("auth: failed to exchange code")
		return
	}

	fmt.Fprintln(w, "tagbox: authorization complete. You can close this window.")
	select {
	case c.token <- token:
	default:
	}
}

func main() {
	_ = godotenv.Load()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := logger.Init(logger.Config{Output: "stderr", Level: "info"}); err != nil {
		panic(err)
	}

	if err := run(); err != nil {
		zlog.Error().Msgf("auth: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cb := &callback{
		auth: spotifyauth.New(
			spotifyauth.WithRedirectURL(fmt.Sprintf("http://127.0.0.1:%d/callback", *port)),
			spotifyauth.WithClientID(*clientID),
			spotifyauth.WithClientSecret(*clientSecret),
			// Playlists are only read.
			spotifyauth.WithScopes(spotify.Scopes...),
		),
		state: uuid.NewString(),
		token: make(chan *oauth2.Token, 1),
	}

	mux := http.NewServeMux()
	mux.Handle("/callback", cb)
	server := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", *port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			zlog.Warn().Err(err).Msg("auth: failed to shutdown callback server")
		}
	}()

	fmt.Println("Please visit the following URL to authorize tagbox:")
	fmt.Println()
	fmt.Println(cb.auth.AuthURL(cb.state))
	fmt.Println()
	fmt.Println("Waiting for authorization...")

	var token *oauth2.Token
	select {
	case token = <-cb.token:
	case err := <-serverErr:
		return errors.Wrap(err, "callback server failed")
	case <-time.After(*timeout):
		return errors.Newf("no authorization within %s", *timeout)
	}

	if *envFile != "" {
		if err := storeToken(*envFile, token.RefreshToken); err != nil {
			return err
		}
		fmt.Printf("Refresh token written to %s\n", *envFile)
		return nil
	}

	fmt.Println()
	fmt.Println("Refresh Token:")
	fmt.Println(token.RefreshToken)
	fmt.Println()
	fmt.Println("Set it in the config (spotify.refresh_token) or export it:")
	fmt.Printf("export SPOTIFY_REFRESH_TOKEN=%q\n", token.RefreshToken)
	return nil
}

// storeToken sets SPOTIFY_REFRESH_TOKEN in an env file, keeping other entries.
func storeToken(path, refreshToken string) error {
	env := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		existing, err := godotenv.Read(path)
		if err != nil {
			return errors.Wrapf(err, "failed to read %s", path)
		}
		env = existing
	}
	env["SPOTIFY_REFRESH_TOKEN"] = refreshToken
	if err := godotenv.Write(env, path); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
