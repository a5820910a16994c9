// Voicedesk-lambda runs the interaction pipeline as an AWS Lambda function.
//
// Contact-center flows invoke the function directly with their event and get
// the flat connect response back. API Gateway proxy events are served by the
// same routes as the HTTP transport. Configuration comes from VOICEDESK_*
// environment variables and an optional bundled voicedesk.yaml.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/nadzzz/voicedesk/internal/app"
	"github.com/nadzzz/voicedesk/internal/config"
	httptransport "github.com/nadzzz/voicedesk/internal/transport/http"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	cfg, err := config.Load(os.Getenv("VOICEDESK_CONFIG"))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	config.SetupLogging(cfg.Logging)

	svc, err := app.Build(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to build service", "error", err)
		os.Exit(1)
	}

	slog.Info("voicedesk lambda starting", "version", version, "tenants", len(svc.Tenants.Profiles()))

	h := newHandler(svc.Orchestrator.Handle, httptransport.New(0, svc.Tenants), svc.Flush)
	lambda.Start(h.Invoke)
}
