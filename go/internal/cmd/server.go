package main

import (
	"net/http"
	"time"

	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/aln/go/internal/config"
	"github.com/mcdev12/aln/go/internal/gateway"
)

func setupServer(cfg *config.Config, services *Services) *http.Server {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	router := gateway.NewRouter(
		gateway.NewAPI(services.Sessions),
		gateway.NewWebSocketHandler(services.Connections),
		services.Health,
	)

	// No write timeout: WebSocket streams are long-lived.
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h2c.NewHandler(c.Handler(router), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
