package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mattgpt/internal/audio"
	"mattgpt/internal/config"
	"mattgpt/internal/corpus"
	"mattgpt/internal/discord"
	"mattgpt/internal/handlers"
	"mattgpt/internal/logging"
	"mattgpt/internal/middleware"
	"mattgpt/internal/pipeline"
	"mattgpt/internal/services"
	"mattgpt/internal/store"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "mattgpt",
		Short:        "A chatbot that talks like Matt, built from years of Messenger history",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err == nil {
				slog.Debug("Loaded environment from .env")
			}
			logging.SetupLogger()
		},
	}

	root.AddCommand(extractCmd(), embedCmd(), chatCmd(), botCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore picks the vector backend: Postgres with pgvector when
// DATABASE_URL is set, the local flat-file store otherwise.
func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		return store.NewPostgresStore(cfg.DatabaseURL)
	}
	return store.Open(cfg.IndexPath(), cfg.TextsPath()), nil
}

func newResponder(cfg *config.Config, st store.Store) *services.Responder {
	embedder := services.NewEmbeddingService(cfg.OpenAIAPIKey)
	return services.NewResponder(cfg.OpenAIAPIKey, st, embedder, services.ResponderConfig{
		Model:             cfg.ModelID,
		ChaosModel:        cfg.ChaosModelID,
		ChaosChance:       cfg.ChaosChance,
		ConversationLimit: cfg.ConversationLimit,
		PersonaName:       cfg.PersonaName,
	})
}

func extractCmd() *cobra.Command {
	var inputDir string

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Convert a Messenger export into embedding and fine-tune datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return fmt.Errorf("failed to create data dir: %w", err)
			}

			extractor := corpus.NewExtractor(cfg.PersonaName)
			pairs, samples, err := extractor.Extract(inputDir, cfg.VectorRecordsPath(), cfg.FineTunePath())
			if err != nil {
				return err
			}
			slog.Info("Extraction complete",
				slog.Int("pairs", pairs),
				slog.Int("finetune_samples", samples),
				slog.String("output_dir", cfg.DataDir))
			return nil
		},
	}

	cmd.Flags().StringVar(&inputDir, "input", "messages", "directory containing message_*.json export files")
	return cmd
}

func embedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "embed",
		Short: "Embed extracted records into the vector store, resuming from the last checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return fmt.Errorf("failed to create data dir: %w", err)
			}

			records, err := corpus.ReadRecords(cfg.VectorRecordsPath())
			if err != nil {
				return fmt.Errorf("failed to read records (run extract first?): %w", err)
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			embedder := services.NewEmbeddingService(cfg.OpenAIAPIKey)
			p := pipeline.New(st, embedder, pipeline.Config{
				CheckpointPath: cfg.CheckpointPath(),
				Interval:       cfg.CheckpointInterval,
				PersonaAlias:   cfg.PersonaAlias,
			})
			return p.Run(ctx, records)
		},
	}
}

func chatCmd() *cobra.Command {
	var (
		oneShot string
		voice   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the persona from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			responder := newResponder(cfg, st)

			if oneShot != "" {
				fmt.Println(responder.Respond(cmd.Context(), oneShot))
				return nil
			}
			if voice {
				return voiceLoop(cfg, responder)
			}
			return textLoop(cfg, responder)
		},
	}

	cmd.Flags().StringVar(&oneShot, "text", "", "send a single message and print the reply")
	cmd.Flags().BoolVar(&voice, "voice", false, "talk over the microphone and speakers")
	return cmd
}

func textLoop(cfg *config.Config, responder *services.Responder) error {
	fmt.Printf("Chatting with %s. Ctrl-D to quit.\n", cfg.PersonaAlias)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		fmt.Printf("%s> %s\n", cfg.PersonaAlias, responder.Respond(context.Background(), input))
	}
}

// voiceLoop records one utterance at a time from the microphone, transcribes
// it, and plays back the synthesized reply.
func voiceLoop(cfg *config.Config, responder *services.Responder) error {
	capture, err := audio.NewCapture()
	if err != nil {
		return fmt.Errorf("failed to open microphone: %w", err)
	}
	defer capture.Close()

	speech := services.NewSpeechService(cfg.OpenAIAPIKey)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Listening. Speak, pause, and the reply plays back. Ctrl-C to quit.")
	for ctx.Err() == nil {
		samples, err := capture.RecordUtterance()
		if err != nil {
			return fmt.Errorf("failed to record: %w", err)
		}
		if len(samples) == 0 {
			continue
		}

		wavData, err := audio.EncodeWAV(samples, capture.SampleRate())
		if err != nil {
			slog.Error("Failed to encode recording", "error", err)
			continue
		}
		text, err := speech.Transcribe(ctx, wavData)
		if err != nil {
			slog.Error("Failed to transcribe recording", "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Printf("you> %s\n", text)

		reply := responder.Respond(ctx, text)
		fmt.Printf("%s> %s\n", cfg.PersonaAlias, reply)

		mp3Data, err := speech.Synthesize(ctx, reply)
		if err != nil {
			slog.Error("Failed to synthesize reply", "error", err)
			continue
		}
		if err := audio.PlayMP3(mp3Data); err != nil {
			slog.Error("Failed to play reply", "error", err)
		}
	}
	return nil
}

func botCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the Discord bot and the HTTP admin server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateDiscord(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return fmt.Errorf("failed to create data dir: %w", err)
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			responder := newResponder(cfg, st)
			speech := services.NewSpeechService(cfg.OpenAIAPIKey)

			bindings, err := discord.LoadBindings(cfg.BindingsPath())
			if err != nil {
				return err
			}
			bot, err := discord.NewBot(cfg.DiscordBotToken, responder, speech, bindings)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			botErr := make(chan error, 1)
			go func() { botErr <- bot.Run(ctx) }()

			// HTTP admin surface
			router := mux.NewRouter()
			router.Use(middleware.LoggingMiddleware)
			router.Use(middleware.MetricsMiddleware)

			apiRouter := router.PathPrefix("/api").Subrouter()
			apiRouter.Use(middleware.APIRateLimitMiddleware())
			apiRouter.HandleFunc("/chat", handlers.NewChatHandler(responder).HandleChat).Methods("POST")

			router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("OK"))
			}).Methods("GET")

			router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
				if _, err := st.Count(r.Context()); err != nil {
					http.Error(w, "store unavailable", http.StatusServiceUnavailable)
					return
				}
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("Ready"))
			}).Methods("GET")

			router.Handle("/metrics", promhttp.Handler()).Methods("GET")

			server := &http.Server{
				Addr:         ":" + cfg.Port,
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 120 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			go func() {
				slog.Info("Server starting", slog.String("port", cfg.Port))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.Error("Server failed to start", "error", err)
					os.Exit(1)
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-quit:
				slog.Info("Shutting down...")
			case err := <-botErr:
				if err != nil {
					slog.Error("Discord bot failed", "error", err)
				}
			}

			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("Server forced to shutdown", "error", err)
			}

			slog.Info("Exited gracefully")
			return nil
		},
	}
}
