// provisionerd is the tenant provisioning daemon. It serves the admin REST
// API and runs deployment, update, and deprovisioning workflows against the
// container control plane.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rentafleet/orchestrator/common"
	"github.com/rentafleet/orchestrator/compose"
	"github.com/rentafleet/orchestrator/config"
	"github.com/rentafleet/orchestrator/orchestrator"
	"github.com/rentafleet/orchestrator/statemanager"
	"github.com/rentafleet/orchestrator/tenancy"
	"github.com/rentafleet/orchestrator/web"
	"github.com/rentafleet/orchestrator/worker"
	"github.com/rentafleet/orchestrator/workflow"
)

func main() {
	cfgFile := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgFile)
	if err != nil {
		common.Logger.WithError(err).Fatal("could not load configuration")
	}

	logger := common.NewLogger(common.LoggerConfig{
		Level:  common.LogLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
	})
	log := common.ServiceLogger(logger, "provisionerd")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Database.URL))
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("could not connect to database")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(ctx)
	}()

	store := tenancy.NewStore(mongoClient.Database(cfg.Database.Database))
	ctx, cancel = context.WithTimeout(context.Background(), cfg.Database.Timeout)
	err = store.EnsureIndexes(ctx)
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("could not ensure database indexes")
	}

	client, err := orchestrator.NewClient(orchestrator.Config{
		URL:                cfg.Orchestrator.URL,
		APIKey:             cfg.Orchestrator.APIKey,
		EndpointID:         cfg.Orchestrator.EndpointID,
		RequestTimeout:     cfg.Orchestrator.RequestTimeout,
		TransferTimeout:    cfg.Orchestrator.TransferTimeout,
		InsecureSkipVerify: cfg.Orchestrator.InsecureSkipVerify,
	})
	if err != nil {
		logger.WithError(err).Fatal("could not create orchestrator client")
	}

	gen := compose.Generator{
		FrontendBase:         cfg.Ports.FrontendBase,
		BackendBase:          cfg.Ports.BackendBase,
		MongoBase:            cfg.Ports.MongoBase,
		ServerIP:             cfg.Tenancy.ServerIP,
		TemplateFrontendName: cfg.Template.FrontendContainer,
		TemplateBackendName:  cfg.Template.BackendContainer,
	}

	engine := workflow.New(client, store, gen, workflow.Config{
		StackPrefix:        cfg.Tenancy.StackPrefix,
		TemplateStackName:  cfg.Template.StackName,
		TemplateFrontend:   cfg.Template.FrontendContainer,
		TemplateBackend:    cfg.Template.BackendContainer,
		FrontendPath:       cfg.Template.FrontendPath,
		BackendPath:        cfg.Template.BackendPath,
		ServerIP:           cfg.Tenancy.ServerIP,
		SafetyMargin:       cfg.Ports.SafetyMargin,
		ACMEEmail:          cfg.Tenancy.ACMEEmail,
		OrchestratorURL:    cfg.Orchestrator.URL,
		OrchestratorAPIKey: cfg.Orchestrator.APIKey,
		StartupGrace:       cfg.Tenancy.StartupGrace,
		StateWaitTimeout:   cfg.Tenancy.StateWaitTimeout,
		InterStepDelay:     5 * time.Second,
	}, workflow.WithLogger(common.ServiceLogger(logger, "workflow")))

	state := statemanager.New(statemanager.Config{})
	queue := worker.NewQueue(64)
	pool := worker.NewPool(queue, state, worker.Config{}, common.ServiceLogger(logger, "worker"))
	pool.Start()

	serverConfig := web.DefaultServerConfig()
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	serverConfig.APIKey = cfg.Server.APIKey

	e := web.NewEchoServer(serverConfig)
	handler := web.NewHandler(engine, store, state, queue, common.ServiceLogger(logger, "web"))
	handler.RegisterRoutes(e, serverConfig.APIKey)

	go func() {
		if err := web.StartServer(e, serverConfig, log); err != nil {
			log.WithError(err).Info("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	pool.Stop()
	if err := web.GracefulShutdown(e, serverConfig.ShutdownTimeout, log); err != nil {
		log.WithError(err).Error("shutdown failed")
	}
	log.Info("stopped")
}
