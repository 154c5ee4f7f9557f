// Command relay runs the stateless sync relay: a Gin control plane plus a
// websocket sync endpoint, backed by one SQLite database holding every
// owner's ciphertext and timestamp index (spec §4.5, §6).
//
// Grounded on the teacher's cmd/engine/main.go wiring order: read
// configuration, open storage, construct the subsystems that depend on it,
// wire the router, then block on ListenAndServe.
package main

import (
	"log"

	"github.com/evolu-go/core/internal/auth"
	"github.com/evolu-go/core/internal/config"
	"github.com/evolu-go/core/internal/relayserver"
)

func main() {
	log.Println("Starting evolu sync relay...")

	cfg := config.LoadRelayConfig()

	store, err := relayserver.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("FATAL: failed to open relay storage at %s: %v", cfg.DBPath, err)
	}
	defer store.Close()

	// The relay never creates a write-key proof itself, only verifies one
	// against each owner's stored credential, so it needs no key material
	// of its own (internal/auth.WriteKeyAuthProvider.VerifyProof ignores the
	// provider's own writeKey field entirely).
	authProv := auth.NewWriteKeyAuthProvider(nil)
	srv := relayserver.NewServer(store, authProv)

	r := relayserver.SetupRouter(srv)

	log.Printf("Relay listening on :%s (data dir %s)", cfg.Port, cfg.DataDir)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("FATAL: relay server stopped: %v", err)
	}
}
