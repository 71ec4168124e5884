package main

import (
	"log/slog"

	"github.com/coffersTech/disclosurelog/sdk/disclosurelog"
)

func main() {
	handler := disclosurelog.NewHandler(disclosurelog.Options{
		ServerURL: "http://localhost:3001",
		Service:   "wallet-example",
	})
	defer handler.Shutdown()
	logger := slog.New(handler)

	logger.Info("disclosure", "event", "disclosure", "user", "alice", "claims", []string{"age_over_18"})
	logger.Warn("verifier requested extra claims", "verifier", "shop.example", "count", 3)
	logger.Error("presentation rejected", "error", "signature mismatch")
}
