// Copyright 2025 The IMG-TGBed Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Yuehuaer/IMG-TGBed/pkg/config"
	"github.com/Yuehuaer/IMG-TGBed/pkg/cors"
	"github.com/Yuehuaer/IMG-TGBed/pkg/fwlog"
	"github.com/Yuehuaer/IMG-TGBed/pkg/storage"
	"github.com/Yuehuaer/IMG-TGBed/pkg/telegram"
	"github.com/Yuehuaer/IMG-TGBed/service/image"
)

func main() {
	if err := config.InitConfig(); err != nil {
		fwlog.Fatalf("Failed to initialize configuration: %v", err)
	}

	cfg := config.Get()

	logLevel, err := fwlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fwlog.Warnf("Invalid initial log level '%s': %v. Using default.", cfg.LogLevel, err)
	}
	fwlog.SetLevel(logLevel)
	fwlog.Infof("Logger initialized with level: %s", cfg.LogLevel)

	var store storage.Storage
	var storeCloser interface{ Close() error }
	if cfg.RedisAddr != "" {
		dragonfly, err := storage.NewDragonflyStorage(cfg.RedisAddr)
		if err != nil {
			fwlog.Fatalf("Failed to connect to record store at %s: %v", cfg.RedisAddr, err)
		}
		store = dragonfly
		storeCloser = dragonfly.(*storage.DragonflyStorage)
	} else {
		fwlog.Warn("No redisAddr configured; listing and ingestion persistence disabled")
	}

	var bot *telegram.Client
	if cfg.Telegram.BotToken != "" {
		bot = telegram.NewClient(telegram.ClientOptions{Token: cfg.Telegram.BotToken})
	} else {
		fwlog.Warn("No Telegram bot token configured; ingestion and file serving disabled")
	}

	var cache *storage.MediaCache
	if cfg.Minio.Endpoint != "" {
		cache, err = storage.NewMediaCache(storage.MediaCacheOptions{
			Endpoint:        cfg.Minio.Endpoint,
			AccessKeyID:     cfg.Minio.AccessKeyID,
			SecretAccessKey: cfg.Minio.SecretAccessKey,
			Bucket:          cfg.Minio.Bucket,
			UseSSL:          cfg.Minio.UseSSL,
		})
		if err != nil {
			fwlog.Warnf("Media cache unavailable: %v", err)
			cache = nil
		}
	}

	imageHdr := image.NewHandler(image.Options{
		Store:      store,
		Bot:        bot,
		Cache:      cache,
		ChatID:     cfg.Telegram.ChatID,
		AuthSecret: cfg.AuthSecret,
		BaseURL:    cfg.BaseURL,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/api/list", imageHdr.List)
	mux.HandleFunc("/api/upload", imageHdr.Upload)
	mux.HandleFunc("/file/", imageHdr.ServeFile)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"status":"ok","service":"img-tgbed"}`)); err != nil {
			fwlog.Warnf("write response failed: %v", err)
		}
	})

	imgSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: cors.NewCORS().Handler(mux),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fwlog.Info("Shutting down server...")

		if storeCloser != nil {
			if err := storeCloser.Close(); err != nil {
				fwlog.Errorf("Error closing record store: %v", err)
			}
		}

		// Set timeout for HTTP server shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := imgSrv.Shutdown(ctx); err != nil {
			fwlog.Errorf("Server shutdown error: %v", err)
		}

		fwlog.Info("Server shutdown complete")
		os.Exit(0)
	}()

	fwlog.Infof("Server starting on %v", cfg.Addr)

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		if _, err := os.Stat(cfg.CertFile); err == nil {
			if _, err := os.Stat(cfg.KeyFile); err == nil {
				fwlog.Infof("Starting HTTPS server with certificates: %s, %s", cfg.CertFile, cfg.KeyFile)
				if err := imgSrv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
					fwlog.Fatalf("Failed to start HTTPS server: %v", err)
				}
				return
			}
		}
		fwlog.Warnf("Certificate files not found, falling back to HTTP mode")
	}

	fwlog.Infof("Starting HTTP server")
	if err := imgSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fwlog.Fatalf("Failed to start HTTP server: %v", err)
	}
}
