package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// NewRouter configures routes and CORS. The webhook and health routes are
// unauthenticated: the webhook is correlated by token, and health is for
// probes.
func NewRouter(server *Server, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", server.handleHealth).Methods("GET")
	r.HandleFunc("/pin-file", server.requireAuth(server.handlePinFile)).Methods("POST")
	r.HandleFunc("/pin-from-url", server.requireAuth(server.handlePinFromURL)).Methods("POST")
	r.HandleFunc("/pin-from-url-stream", server.requireAuth(server.handlePinFromURLStream)).Methods("POST")
	r.HandleFunc("/pin-cid", server.requireAuth(server.handlePinCID)).Methods("POST")
	r.HandleFunc("/package", server.requireAuth(server.handlePackage)).Methods("POST")
	r.HandleFunc("/transcode", server.requireAuth(server.handleTranscode)).Methods("POST")
	r.HandleFunc("/jobs", server.requireAuth(server.handleListJobs)).Methods("GET")
	r.HandleFunc("/jobs/{id}", server.requireAuth(server.handleGetJob)).Methods("GET")
	r.HandleFunc("/webhooks/transcode", server.handleWebhook).Methods("POST")

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return corsMiddleware.Handler(r)
}
