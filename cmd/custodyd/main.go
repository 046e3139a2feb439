// The custodyd binary serves the custody API: inheritance plans, the audit
// chain, and the vault key/content path.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/heirloomvault/custody-backend/auditchain"
	"github.com/heirloomvault/custody-backend/cmd/flags"
	"github.com/heirloomvault/custody-backend/httpserver"
	"github.com/heirloomvault/custody-backend/inheritance"
	"github.com/heirloomvault/custody-backend/interfaces"
	"github.com/heirloomvault/custody-backend/kms"
	"github.com/heirloomvault/custody-backend/storage"
)

var serviceLogFlag = flags.LogServiceFlagFn("custodyd")

var listenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for the custody API",
}

func main() {
	app := &cli.App{
		Name:  "custodyd",
		Usage: "Serve the document custody and inheritance API",
		Flags: append([]cli.Flag{
			listenAddrFlag,
			flags.MongoURIFlag,
			flags.MongoDatabaseFlag,
			flags.BlobStoreURIFlag,
			serviceLogFlag,
		}, flags.CommonFlags...),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type recordStore interface {
	interfaces.PlanStore
	interfaces.AuditStore
	interfaces.KeyMaterialStore
}

func run(cCtx *cli.Context) error {
	listenAddr := cCtx.String(listenAddrFlag.Name)
	mongoURI := cCtx.String(flags.MongoURIFlag.Name)
	blobURI := cCtx.String(flags.BlobStoreURIFlag.Name)

	logger := flags.SetupLogger(cCtx)

	var store recordStore
	if mongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		mongoStore, err := storage.NewMongoStore(ctx, mongoURI, cCtx.String(flags.MongoDatabaseFlag.Name), logger)
		if err != nil {
			logger.Error("Failed to connect to MongoDB", "err", err)
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoStore.Close(ctx); err != nil {
				logger.Error("Failed to disconnect from MongoDB", "err", err)
			}
		}()
		store = mongoStore
		logger.Info("Using MongoDB record store")
	} else {
		store = storage.NewMemoryStore()
		logger.Warn("No MongoDB URI configured, using the in-memory store; data will not survive a restart")
	}

	blobFactory := storage.NewBlobBackendFactory(logger)
	blobs, err := blobFactory.BackendFor(blobURI)
	if err != nil {
		logger.Error("Failed to create blob store", "err", err, "uri", blobURI)
		return err
	}
	logger.Info("Using blob store", "backend", blobs.Name())

	audit := auditchain.New(store, logger)
	plans := inheritance.New(inheritance.Config{Store: store, Audit: audit, Log: logger})
	vault := kms.NewService(store, blobs, audit, logger)

	handler := httpserver.NewHandler(plans, audit, vault, logger)
	cfg := flags.ConfigureServer(cCtx, logger, listenAddr)
	srv, err := httpserver.New(cfg, handler)
	if err != nil {
		logger.Error("Failed to create HTTP server", "err", err)
		return err
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	srv.RunInBackground()
	<-exit

	logger.Info("Shutting down")
	srv.Shutdown()
	return nil
}
