package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/api"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/logging"
	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/mockfoundry"
)

func main() {
	fs := pflag.NewFlagSet("mock-foundry", pflag.ExitOnError)
	addr := fs.String("addr", defaultString("MOCK_FOUNDRY_ADDR", ":8080"), "Listen address (env: MOCK_FOUNDRY_ADDR)")
	inputDir := fs.String("input-dir", defaultString("MOCK_FOUNDRY_INPUT_DIR", "/data/inputs"), "Directory containing input CSVs named <rid>.csv (env: MOCK_FOUNDRY_INPUT_DIR)")
	uploadDir := fs.String("upload-dir", defaultString("MOCK_FOUNDRY_UPLOAD_DIR", "/data/uploads"), "Directory to persist committed datasets (env: MOCK_FOUNDRY_UPLOAD_DIR)")
	token := fs.String("token", defaultString("MOCK_FOUNDRY_TOKEN", ""), "Require this bearer token, empty accepts any (env: MOCK_FOUNDRY_TOKEN)")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	_ = fs.Parse(os.Args[1:])

	logger, err := logging.Setup(os.Stderr, *logLevel, "text")
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "mock-foundry: %v\n", err)
		os.Exit(2)
	}

	srv := mockfoundry.New(*inputDir, *uploadDir)
	srv.RequireBearerToken(*token)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("mock-foundry ready", "input_dir", *inputDir, "upload_dir", *uploadDir)
	if err := api.Serve(ctx, *addr, srv.Handler(), logger); err != nil {
		logger.Error("server error", "error", err)
		stop()
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
