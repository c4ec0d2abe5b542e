package injector

import (
	"github.com/lk2023060901/vision-backend/internal/conf"
	"github.com/lk2023060901/vision-backend/internal/image/queue"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/lk2023060901/vision-backend/internal/server"
)

// App encapsulates all application dependencies
type App struct {
	Config         *conf.Config
	Logger         *logger.Logger
	HTTPServer     *server.HTTPServer
	ClassifyWorker *queue.Worker
}

func newApp(
	config *conf.Config,
	log *logger.Logger,
	httpServer *server.HTTPServer,
	classifyWorker *queue.Worker,
) *App {
	return &App{
		Config:         config,
		Logger:         log,
		HTTPServer:     httpServer,
		ClassifyWorker: classifyWorker,
	}
}
