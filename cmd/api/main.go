package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambdaurl"

	"github.com/allopze/cloudbox-wopi/internal/app"
	"github.com/allopze/cloudbox-wopi/internal/config"
	"github.com/allopze/cloudbox-wopi/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("CLOUDBOX_CONFIG_FILE"))
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	application, err := app.NewApp(context.Background(), cfg)
	if err != nil {
		logger.Error("Failed to start: %v", err)
		os.Exit(1)
	}
	lambdaurl.Start(application.Handler())
}
