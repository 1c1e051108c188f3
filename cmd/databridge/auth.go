package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/npclinic/databridge/internal/ui"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Run the OAuth callback server and authorize the session",
	Long: `Serve the authorization flow for the case-manager API:

  /auth      redirects the browser to the authorization page
  /callback  exchanges the returned code and saves the token pair
  /health    liveness probe

Open /auth in a browser, sign in, and the tokens land under the data
directory. Every other command refreshes them automatically.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp(false)
		defer a.close()

		oauth := oauthConfig(a.cfg)
		tokens := a.tokens

		mux := http.NewServeMux()
		mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, oauth.AuthorizeURL(), http.StatusFound)
		})
		mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "missing code", http.StatusBadRequest)
				return
			}
			token, err := oauth.ExchangeCode(r.Context(), code)
			if err != nil {
				a.log.Error("code exchange failed", zap.Error(err))
				http.Error(w, "exchange failed", http.StatusBadGateway)
				return
			}
			if err := tokens.Save(token); err != nil {
				a.log.Error("token save failed", zap.Error(err))
				http.Error(w, "save failed", http.StatusInternalServerError)
				return
			}
			fmt.Printf("%s Session authorized\n", ui.RenderPass("✓"))
			fmt.Fprintln(w, "OK")
		})
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, "OK")
		})

		server := &http.Server{
			Addr:              a.cfg.Auth.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		fmt.Printf("%s Listening on %s; open /auth in a browser\n", ui.RenderAccent("🔐"), a.cfg.Auth.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("%v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
}
