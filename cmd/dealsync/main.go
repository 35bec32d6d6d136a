package main

import (
	"fmt"
	"os"

	"github.com/adilzhan/dealsync/internal/auth"
	"github.com/adilzhan/dealsync/internal/config"
	"github.com/adilzhan/dealsync/internal/crm"
	"github.com/adilzhan/dealsync/internal/crypt"
	"github.com/adilzhan/dealsync/internal/db"
	"github.com/adilzhan/dealsync/internal/excel"
	httphandler "github.com/adilzhan/dealsync/internal/http"
	"github.com/adilzhan/dealsync/internal/http/middleware"
	"github.com/adilzhan/dealsync/internal/logger"
	"github.com/adilzhan/dealsync/internal/repository"
	"github.com/adilzhan/dealsync/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment)

	webhook := cfg.CRM.WebhookURL
	if webhook == "" {
		codec, err := crypt.NewCodec(cfg.CRM.CryptoKeyHex, cfg.CRM.CryptoIVHex)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init webhook codec")
		}
		webhook, err = codec.Decrypt(cfg.CRM.WebhookEncrypted)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to decrypt webhook url")
		}
	}

	database, err := db.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	dealRepo := repository.NewDealRepository(database)
	productRepo := repository.NewProductRepository(database)
	userRepo := repository.NewUserRepository(database)

	crmClient := crm.NewClient(webhook, cfg.CRM.Fields, log)

	resolver := service.NewVariantResolver(crmClient, log)
	reconciler := service.NewReconciler(resolver, cfg.Sync.QuantityPolicy, log)
	syncService := service.NewSyncService(crmClient, dealRepo, productRepo, userRepo, reconciler, cfg.Sync.PrimaryCategory, log)
	workflowService := service.NewWorkflowService(crmClient, dealRepo, productRepo, cfg.CRM.Fields.LostStageID, log)
	reportService := service.NewReportService(dealRepo, excel.NewGenerator(), log)

	tokenIssuer := auth.NewIssuer(cfg.Auth.AccessSecret, cfg.Auth.TokenTTL)
	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)
	userService := service.NewUserService(crmClient, userRepo, tokenIssuer, log)

	handler := httphandler.NewHandler(workflowService, syncService, userService, reportService, log)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment, log)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	log.Info().Str("addr", addr).Msg("starting dealsync service")

	if err := router.Run(addr); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
