package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/softwind-labs/companion/internal/api"
	"github.com/softwind-labs/companion/internal/config"
	"github.com/softwind-labs/companion/internal/core"
	"github.com/softwind-labs/companion/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Command line flag for rebuilding character search embeddings
	reembedFlag := flag.Bool("reembed", false, "Rebuild character search embeddings and exit")
	flag.Parse()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Initialize the Gemini service; optional, the server degrades without it
	var geminiService *core.GeminiService
	if config.AppConfig.GeminiAPIKey != "" {
		geminiService, err = core.NewGeminiService()
		if err != nil {
			log.Fatalf("Failed to initialize Gemini service: %v", err)
		}
		defer geminiService.Close()
	}

	// Initialize Search service
	searchService, err := core.NewSearchService(dbStore, geminiService)
	if err != nil {
		log.Fatalf("Failed to initialize search service: %v", err)
	}

	// Handle re-embedding if flag is set
	if *reembedFlag {
		log.Println("Starting character re-embedding process...")
		count, err := searchService.ReembedAll(context.Background())
		if err != nil {
			log.Fatalf("Re-embedding failed: %v", err)
		}
		log.Printf("Re-embedding complete. Embedded %d characters. Exiting.", count)
		os.Exit(0)
	}

	// Initialize Chat service
	chatService := core.NewChatService(dbStore, geminiService,
		config.AppConfig.MessageQuota, config.AppConfig.SummaryEveryN)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(chatService, searchService)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give active connections time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
