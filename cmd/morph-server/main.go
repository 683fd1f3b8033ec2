/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command morph-server serves CRUD endpoints for the entity types declared
// in a descriptor file.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/tomoncle/morph"
	"github.com/tomoncle/morph/config"
	"github.com/tomoncle/morph/database"
	"github.com/tomoncle/morph/events"
	"github.com/tomoncle/morph/schema"
	"github.com/tomoncle/morph/transport/httpapi"
	"github.com/tomoncle/morph/utils"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	seed := flag.Bool("seed", false, "run the SQL seed files before serving")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	utils.ConfigureConsoleLogFormat(cfg.Log.Format)
	utils.ConfigureLogLevel(cfg.Log.Level)
	logger := utils.GetLogger("SERVER")
	dbLogger := database.NewDefaultLogger("DATABASE")
	database.InitLogger(dbLogger)
	if cfg.Log.File != "" {
		for _, l := range []*logrus.Logger{logger, utils.GetLogger("DATABASE"), utils.GetLogger("ENTITY")} {
			if err := utils.AddFileHook(l, cfg.Log.File); err != nil {
				logger.Fatalf("open log file: %v", err)
			}
		}
	}

	if err := run(cfg, *seed, logger); err != nil {
		logger.Fatal(err)
	}
	logger.Info("server exited")
}

func run(cfg *config.AppConfig, seed bool, logger *logrus.Logger) error {
	ctx := context.Background()

	reg := schema.Default()
	if err := schema.LoadInto(reg, cfg.Entities.DescriptorFile); err != nil {
		return err
	}
	logger.Infof("loaded %d entity descriptors from %s", len(reg.Descriptors()), cfg.Entities.DescriptorFile)

	db, err := database.InitDB(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.CloseDB(); err != nil {
			logger.WithError(err).Warn("close database")
		}
	}()
	if err := database.Migrate(ctx, db, reg, &cfg.Database); err != nil {
		return err
	}
	if seed {
		if err := database.InitData(ctx, reg); err != nil {
			return err
		}
		logger.Info("seed files applied")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.Enabled {
		kp, err := events.NewKafkaPublisher(cfg.Events.Kafka)
		if err != nil {
			return err
		}
		publisher = kp
		logger.Infof("publishing record changes to %s", cfg.Events.Kafka.Topic)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.WithError(err).Warn("close publisher")
		}
	}()

	svc := morph.NewService(
		morph.WithDB(db),
		morph.WithRegistry(reg),
		morph.WithPublisher(publisher),
	)
	handler := httpapi.NewHandler(svc, httpapi.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Health:         database.GetHealthStatus,
		Stats:          database.GetDatabaseStats,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logger.Infof("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
